// Package failure classifies job errors into the engine's taxonomy:
// configuration, transient (retryable) and permanent.
package failure

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
	ClassConfig
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassConfig:
		return "config"
	default:
		return "permanent"
	}
}

// ExternalServiceError is the structured error external-call wrappers return.
// Retryable is authoritative for classification.
type ExternalServiceError struct {
	Provider   string
	Retryable  bool
	Message    string
	StatusCode int
	RawSnippet string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return e.Provider + ": " + e.Message
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// FromResponse builds an ExternalServiceError for a non-2xx response.
// 408, 425, 429 and 5xx are retryable; the body is kept only as a redacted
// snippet.
func FromResponse(provider string, statusCode int, body []byte) *ExternalServiceError {
	retryable := statusCode == 408 || statusCode == 425 || statusCode == 429 || statusCode >= 500

	return &ExternalServiceError{
		Provider:   provider,
		Retryable:  retryable,
		Message:    fmt.Sprintf("unexpected status %d", statusCode),
		StatusCode: statusCode,
		RawSnippet: Redact(string(body)),
	}
}

// ConfigError reports a missing or unusable setting, typically an absent
// external credential.
type ConfigError struct {
	Setting string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

func MissingCredential(setting string) *ConfigError {
	return &ConfigError{Setting: setting, Message: "credential is not configured"}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (invalid payload, missing record).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent(fmt.Errorf(format, args...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

var (
	transientFragments = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"network",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporarily unavailable",
		"rate limit",
		"too many requests",
	}

	// Whole words only: "eof" must not match "geofence".
	transientWords = regexp.MustCompile(`\b(eof|429|5\d\d)\b`)
)

// Classify decides how the scheduler treats err. Structured errors win over
// the message heuristics.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return ClassConfig
	}

	var permanent *permanentError
	if errors.As(err, &permanent) {
		return ClassPermanent
	}

	var external *ExternalServiceError
	if errors.As(err, &external) {
		if external.Retryable {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	message := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(message, fragment) {
			return ClassTransient
		}
	}
	if transientWords.MatchString(message) {
		return ClassTransient
	}

	return ClassPermanent
}

func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}

// Provider returns the dependency named by a structured error, if any.
func Provider(err error) string {
	var external *ExternalServiceError
	if errors.As(err, &external) {
		return external.Provider
	}
	return ""
}

// Snippet returns the redacted diagnostic excerpt carried by err, if any.
func Snippet(err error) string {
	var external *ExternalServiceError
	if errors.As(err, &external) {
		return external.RawSnippet
	}
	return ""
}

const maxSnippetRunes = 300

var whitespace = regexp.MustCompile(`\s+`)

// Redact turns a third-party response body into a short, markup-safe excerpt.
func Redact(raw string) string {
	if raw == "" {
		return ""
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "?")
	}

	collapsed := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))

	truncated := false
	if utf8.RuneCountInString(collapsed) > maxSnippetRunes {
		runes := []rune(collapsed)
		collapsed = string(runes[:maxSnippetRunes])
		truncated = true
	}

	escaped := html.EscapeString(collapsed)
	if truncated {
		escaped += "..."
	}

	return escaped
}
