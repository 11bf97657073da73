package quota

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/vin-jex/job-engine/internal/store"
)

func newTestLedger(t *testing.T) *PostgresLedger {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := store.NewStore(ctx, databaseURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	if _, err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Pool().Exec(ctx, `TRUNCATE quota_usage`); err != nil {
		t.Fatal(err)
	}

	return NewPostgresLedger(s.Pool())
}

func TestReserveRespectsLimit(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	if _, err := ledger.Reserve(ctx, "owner-1", "2026-10", "images", 3, 5); err != nil {
		t.Fatal(err)
	}
	usage, err := ledger.Reserve(ctx, "owner-1", "2026-10", "images", 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Used != 5 {
		t.Fatalf("expected used=5, got %d", usage.Used)
	}

	if _, err := ledger.Reserve(ctx, "owner-1", "2026-10", "images", 1, 5); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestRollbackQuotaFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	if _, err := ledger.Reserve(ctx, "owner-1", "2026-10", "images", 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := ledger.RollbackQuota(ctx, "owner-1", "2026-10", "images", 10); err != nil {
		t.Fatal(err)
	}

	usage, err := ledger.Usage(ctx, "owner-1", "2026-10", "images")
	if err != nil {
		t.Fatal(err)
	}
	if usage.Used != 0 {
		t.Fatalf("expected usage floored at zero, got %d", usage.Used)
	}

	// Never-consumed reservation.
	if err := ledger.RollbackQuota(ctx, "owner-2", "2026-10", "images", 1); err != nil {
		t.Fatalf("rollback without usage must be a no-op, got %v", err)
	}
}
