package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestCreateJobIdempotencyKeyIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	first, created, err := store.CreateJob(ctx, NewJob{
		Type:           "A",
		OwnerID:        "owner-1",
		IdempotencyKey: "k1",
		Payload:        json.RawMessage(`{"url":"https://example.com"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first creation to insert a row")
	}

	second, created, err := store.CreateJob(ctx, NewJob{
		Type:           "A",
		OwnerID:        "owner-1",
		IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("duplicate key must not be an error, got %v", err)
	}
	if created {
		t.Fatal("expected duplicate creation to be a no-op")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing job %s, got %s", first.ID, second.ID)
	}
}

func TestConcurrentCreateWithSameKeyYieldsOneRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uuid.UUID]bool{}
		created int
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			job, inserted, err := store.CreateJob(ctx, NewJob{
				Type:           "A",
				OwnerID:        "owner-1",
				IdempotencyKey: "same-key",
			})
			if err != nil {
				t.Error(err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			ids[job.ID] = true
			if inserted {
				created++
			}
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Fatalf("expected exactly one row, got created=%d distinct=%d", created, len(ids))
	}

	jobs, err := store.ListJobs(ctx, ListFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one stored row, got %d", len(jobs))
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t, newTestClock())

	if _, err := store.GetJob(context.Background(), uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCompleteJobPersistsResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	mustCreate(t, store, NewJob{Type: "A", OwnerID: "owner-1"})
	claimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	result, err := store.CompleteJob(ctx, claimed.Lease(), Completion{
		Result:  json.RawMessage(`{"pages":3}`),
		Summary: "3 pages",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Job.Status != JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Job.Status)
	}
	if result.Job.ResultSummary == nil || *result.Job.ResultSummary != "3 pages" {
		t.Fatalf("unexpected summary %v", result.Job.ResultSummary)
	}

	var body map[string]int
	if err := json.Unmarshal(result.Job.Result, &body); err != nil {
		t.Fatal(err)
	}
	if body["pages"] != 3 {
		t.Fatalf("unexpected result %s", result.Job.Result)
	}
}

func TestStaleLeaseCannotReport(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := newTestStore(t, clock)

	mustCreate(t, store, NewJob{Type: "A", OwnerID: "owner-1"})
	stale := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	clock.Advance(timeoutForTests * 2)
	if _, err := store.ReapStuckJobs(ctx, ReapRequest{Timeout: timeoutForTests, Reason: "stuck RUNNING"}); err != nil {
		t.Fatal(err)
	}

	current := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})
	if current.ID != stale.ID || current.LeaseID == stale.LeaseID {
		t.Fatal("expected the reaped job to be re-claimed under a new lease")
	}

	if _, err := store.CompleteJob(ctx, stale.Lease(), Completion{}); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale lease, got %v", err)
	}

	if _, err := store.CompleteJob(ctx, current.Lease(), Completion{}); err != nil {
		t.Fatalf("current lease holder must be able to complete: %v", err)
	}
}

func TestFailJobRollsBackReservationOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	mustCreate(t, store, NewJob{
		Type:    "generate",
		OwnerID: "owner-1",
		Meta: SchedulerMeta{
			QuotaReservation: &QuotaReservation{PeriodKey: "2026-10", Metric: "images", Amount: 4},
		},
	})
	claimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	result, err := store.FailJob(ctx, claimed.Lease(), "invalid payload", claimed.Meta)
	if err != nil {
		t.Fatal(err)
	}
	if result.Rollback == nil || result.Rollback.Amount != 4 {
		t.Fatalf("expected reservation to be handed back for rollback, got %+v", result.Rollback)
	}
	if !result.Job.Meta.QuotaReservation.RolledBack {
		t.Fatal("expected reservation to be marked rolled back")
	}
	if result.Job.Error == nil || *result.Job.Error != "invalid payload" {
		t.Fatalf("expected error persisted verbatim, got %v", result.Job.Error)
	}

	if _, err := store.FailJob(ctx, claimed.Lease(), "again", claimed.Meta); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("second fail must be rejected, got %v", err)
	}
}

func TestCompleteJobEnqueuesSuccessorOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	mustCreate(t, store, NewJob{Type: "scrape", OwnerID: "owner-1", IdempotencyKey: "root"})
	claimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	successor := &NewJob{
		Type:           "prompt",
		OwnerID:        "owner-1",
		IdempotencyKey: "root:prompt",
		Meta:           SchedulerMeta{DependsOnJobID: &claimed.ID},
	}

	// A duplicate chain attempt that raced ahead of this completion.
	mustCreate(t, store, *successor)

	result, err := store.CompleteJob(ctx, claimed.Lease(), Completion{Successor: successor})
	if err != nil {
		t.Fatalf("existing successor key must be a no-op, got %v", err)
	}
	if result.SuccessorCreated {
		t.Fatal("expected successor creation to collapse into the existing row")
	}

	jobs, err := store.ListJobs(ctx, ListFilter{Status: JobPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Type != "prompt" {
		t.Fatalf("expected exactly one pending successor, got %d", len(jobs))
	}
}

func TestRequeueJobHandsBackReservationOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	mustCreate(t, store, NewJob{
		Type:    "generate",
		OwnerID: "owner-1",
		Meta: SchedulerMeta{
			QuotaReservation: &QuotaReservation{PeriodKey: "2026-10", Metric: "images", Amount: 2},
		},
	})
	claimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	meta := claimed.Meta
	meta.Attempts++
	requeued, err := store.RequeueJob(ctx, claimed.Lease(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if requeued.Rollback == nil || requeued.Rollback.Amount != 2 {
		t.Fatalf("expected the reservation on the first requeue, got %+v", requeued.Rollback)
	}
	if !requeued.Job.Meta.QuotaReservation.RolledBack {
		t.Fatal("expected the persisted reservation to be marked rolled back")
	}

	reclaimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})
	again, err := store.RequeueJob(ctx, reclaimed.Lease(), reclaimed.Meta)
	if err != nil {
		t.Fatal(err)
	}
	if again.Rollback != nil {
		t.Fatal("a second requeue must not hand the reservation back again")
	}

	final := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})
	failed, err := store.FailJob(ctx, final.Lease(), "gave up", final.Meta)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Rollback != nil {
		t.Fatal("terminal failure after a requeue must not roll back again")
	}
}

func TestSkippedCompletionHandsBackReservation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock())

	mustCreate(t, store, NewJob{
		Type:    "generate",
		OwnerID: "owner-1",
		Meta: SchedulerMeta{
			QuotaReservation: &QuotaReservation{PeriodKey: "2026-10", Metric: "images", Amount: 1},
		},
	})
	claimed := mustClaim(t, store, ClaimRequest{WorkerID: uuid.New()})

	meta := claimed.Meta
	result, err := store.CompleteJob(ctx, claimed.Lease(), Completion{
		Summary: "skipped: missing credential",
		Meta:    &meta,
		Skipped: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Rollback == nil || !result.Job.Meta.QuotaReservation.RolledBack {
		t.Fatalf("expected the skipped job's reservation to be handed back, got %+v", result.Rollback)
	}
}
