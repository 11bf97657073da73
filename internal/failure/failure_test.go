package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"retryable external", &ExternalServiceError{Provider: "llm", Retryable: true, Message: "overloaded"}, ClassTransient},
		{"non-retryable external beats heuristics", &ExternalServiceError{Provider: "llm", Message: "timeout in prompt"}, ClassPermanent},
		{"wrapped external", fmt.Errorf("generate: %w", &ExternalServiceError{Retryable: true}), ClassTransient},
		{"config", MissingCredential("LLM_API_KEY"), ClassConfig},
		{"permanent wrapper", Permanent(errors.New("network missing from payload")), ClassPermanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTransient},
		{"timeout text", errors.New("upstream request timed out"), ClassTransient},
		{"network text", errors.New("dial tcp: connection refused"), ClassTransient},
		{"rate limited", errors.New("status 429"), ClassTransient},
		{"server error", errors.New("provider returned 503 Service Unavailable"), ClassTransient},
		{"client error", errors.New("provider returned 404"), ClassPermanent},
		{"plain", errors.New("invalid payload: missing url"), ClassPermanent},
		{"io eof", fmt.Errorf("read body: %w", io.EOF), ClassTransient},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), ClassTransient},
		{"eof text", errors.New(`Post "https://api.example.com": EOF`), ClassTransient},
		{"eof inside a word", errors.New("point outside geofence"), ClassPermanent},
		{"digits inside an id", errors.New("order 14290 rejected"), ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromResponse(t *testing.T) {
	for status, retryable := range map[int]bool{400: false, 404: false, 429: true, 500: true, 503: true} {
		err := FromResponse("images", status, []byte("<html>oops</html>"))
		if err.Retryable != retryable {
			t.Errorf("status %d: retryable = %v, want %v", status, err.Retryable, retryable)
		}
		if strings.Contains(err.RawSnippet, "<") {
			t.Errorf("status %d: snippet not escaped: %q", status, err.RawSnippet)
		}
	}
}

func TestRedact(t *testing.T) {
	got := Redact("  <script>alert(1)</script>\n\n  body ")
	want := "&lt;script&gt;alert(1)&lt;/script&gt; body"
	if got != want {
		t.Fatalf("Redact = %q, want %q", got, want)
	}

	long := Redact(strings.Repeat("a", maxSnippetRunes+50))
	if !strings.HasSuffix(long, "...") || len(long) != maxSnippetRunes+3 {
		t.Fatalf("expected truncation to %d runes, got %d", maxSnippetRunes, len(long))
	}
}
