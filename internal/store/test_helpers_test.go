package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	return url
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *testClock) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := NewStore(ctx, testDatabaseURL(t), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	if _, err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Pool().Exec(ctx, `TRUNCATE jobs, quota_usage`); err != nil {
		t.Fatal(err)
	}

	return s
}

func mustCreate(t *testing.T, s *Store, newJob NewJob) *Job {
	t.Helper()

	job, _, err := s.CreateJob(context.Background(), newJob)
	if err != nil {
		t.Fatal(err)
	}

	return job
}

func mustClaim(t *testing.T, s *Store, request ClaimRequest) *Job {
	t.Helper()

	result, err := s.ClaimNext(context.Background(), request)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job == nil {
		t.Fatal("expected a job to be claimed")
	}

	return result.Job
}
