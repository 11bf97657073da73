// Package httpcall is a job handler that performs one authenticated HTTP
// request through the guarded-call layer.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vin-jex/job-engine/internal/dispatch"
	"github.com/vin-jex/job-engine/internal/failure"
	"github.com/vin-jex/job-engine/internal/guard"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

const (
	JobType = "http.call"

	TokenSetting = "HTTPCALL_AUTH_TOKEN"

	maxResponseBytes = 1 << 20
)

type Payload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type Result struct {
	StatusCode int             `json:"statusCode"`
	Bytes      int             `json:"bytes"`
	Body       json.RawMessage `json:"body,omitempty"`
}

type Handler struct {
	client *http.Client
	guard  *guard.Guard
	token  string
}

func New(client *http.Client, g *guard.Guard, token string) *Handler {
	if client == nil {
		client = http.DefaultClient
	}

	return &Handler{
		client: client,
		guard:  g,
		token:  token,
	}
}

func (h *Handler) Definition() dispatch.Definition[Payload, Result] {
	return dispatch.Definition[Payload, Result]{
		Type:      JobType,
		Chainable: true,
		Handle:    h.Handle,
		Summarize: func(result Result) string {
			return fmt.Sprintf("HTTP %d, %d bytes", result.StatusCode, result.Bytes)
		},
	}
}

func (h *Handler) Handle(ctx context.Context, job *store.Job, payload Payload) (Result, error) {
	if h.token == "" {
		return Result{}, failure.MissingCredential(TokenSetting)
	}

	target, err := url.Parse(payload.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return Result{}, failure.Permanentf("invalid url %q", payload.URL)
	}

	method := strings.ToUpper(payload.Method)
	if method == "" {
		method = http.MethodGet
	}

	provider := target.Host
	observability.LoggerFromContext(ctx).Debug("outbound call",
		"provider", provider,
		"method", method,
	)

	return guard.Call(ctx, h.guard, provider, func(callCtx context.Context) (Result, error) {
		return h.do(callCtx, provider, method, target.String(), payload)
	})
}

func (h *Handler) do(
	ctx context.Context,
	provider string,
	method string,
	target string,
	payload Payload,
) (Result, error) {
	var body io.Reader
	if len(payload.Body) > 0 {
		body = bytes.NewReader(payload.Body)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Result{}, failure.Permanent(err)
	}
	for name, value := range payload.Headers {
		request.Header.Set(name, value)
	}
	if body != nil && request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+h.token)

	response, err := h.client.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, &failure.ExternalServiceError{
			Provider:  provider,
			Retryable: true,
			Message:   err.Error(),
			Err:       err,
		}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &failure.ExternalServiceError{
			Provider:  provider,
			Retryable: true,
			Message:   fmt.Sprintf("read response: %v", err),
			Err:       err,
		}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return Result{}, failure.FromResponse(provider, response.StatusCode, raw)
	}

	result := Result{
		StatusCode: response.StatusCode,
		Bytes:      len(raw),
	}
	if json.Valid(raw) {
		result.Body = raw
	}

	return result, nil
}
