package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/vin-jex/job-engine/internal/backoff"
	"github.com/vin-jex/job-engine/internal/failure"
	"github.com/vin-jex/job-engine/internal/store"
)

func testPolicy() Policy {
	return Policy{
		Backoff:       backoff.NewExponential(500*time.Millisecond, 5*time.Second),
		OnConfigError: ConfigErrorFail,
	}
}

func TestRetryableFailureRequeuesWithBackoff(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	policy := testPolicy()

	meta := store.SchedulerMeta{}
	wantDelays := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}

	for i, want := range wantDelays {
		decision := policy.Decide(meta, errors.New("request timed out"), now)

		if decision.Action != ActionRequeue {
			t.Fatalf("attempt %d: expected requeue, got %s", i+1, decision.Action)
		}
		if decision.Meta.Attempts != i+1 {
			t.Fatalf("attempt %d: attempts = %d", i+1, decision.Meta.Attempts)
		}
		if decision.Delay != want {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, decision.Delay, want)
		}

		next, ok := decision.Meta.NextRunTime()
		if !ok || !next.Equal(now.Add(want)) {
			t.Fatalf("attempt %d: nextRunAt = %v, want %v", i+1, next, now.Add(want))
		}
		if !decision.Meta.Transient || decision.Meta.LastError != "request timed out" {
			t.Fatalf("attempt %d: unexpected meta %+v", i+1, decision.Meta)
		}

		meta = decision.Meta
	}
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	decision := testPolicy().Decide(store.SchedulerMeta{Attempts: 2}, failure.Permanentf("invalid payload: %s", "url"), time.Now())

	if decision.Action != ActionFail {
		t.Fatalf("expected fail, got %s", decision.Action)
	}
	if decision.Message != "invalid payload: url" {
		t.Fatalf("message must be persisted verbatim, got %q", decision.Message)
	}
	if decision.Meta.Attempts != 2 {
		t.Fatal("terminal failure must not count as a retry attempt")
	}
}

func TestStructuredErrorRecordsProviderAndSnippet(t *testing.T) {
	err := failure.FromResponse("images", 502, []byte("<h1>Bad gateway</h1>"))

	decision := testPolicy().Decide(store.SchedulerMeta{}, err, time.Now())

	if decision.Action != ActionRequeue {
		t.Fatalf("502 must be retried, got %s", decision.Action)
	}
	if decision.Meta.Provider != "images" {
		t.Fatalf("provider = %q", decision.Meta.Provider)
	}
	if decision.Meta.ErrorSnippet != "&lt;h1&gt;Bad gateway&lt;/h1&gt;" {
		t.Fatalf("snippet = %q", decision.Meta.ErrorSnippet)
	}
}

func TestMaxAttemptsCeiling(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 3

	decision := policy.Decide(store.SchedulerMeta{Attempts: 1}, errors.New("network unreachable"), time.Now())
	if decision.Action != ActionRequeue {
		t.Fatalf("expected requeue below ceiling, got %s", decision.Action)
	}

	decision = policy.Decide(decision.Meta, errors.New("network unreachable"), time.Now())
	if decision.Action != ActionFail {
		t.Fatalf("expected terminal failure at ceiling, got %s", decision.Action)
	}
	if decision.Meta.Attempts != 3 {
		t.Fatalf("attempts = %d", decision.Meta.Attempts)
	}
}

func TestConfigErrorPolicy(t *testing.T) {
	err := failure.MissingCredential("IMAGES_API_KEY")

	if got := testPolicy().Decide(store.SchedulerMeta{}, err, time.Now()).Action; got != ActionFail {
		t.Fatalf("fail policy: got %s", got)
	}

	policy := testPolicy()
	policy.OnConfigError = ConfigErrorSkip
	if got := policy.Decide(store.SchedulerMeta{}, err, time.Now()).Action; got != ActionSkip {
		t.Fatalf("skip policy: got %s", got)
	}
}
