package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/storage"
)

func TestMemoryStorage_FetchOrderAndLimit(t *testing.T) {
	s := NewMemoryStorage(
		domain.Record{ID: "a", Plate: "A1"},
		domain.Record{ID: "b", Plate: "B2"},
		domain.Record{ID: "c", Plate: "C3"},
	)
	ctx := context.Background()

	recs, err := s.FetchPending(ctx, 2)
	if err != nil {
		t.Fatalf("FetchPending failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a" || recs[1].ID != "b" {
		t.Fatalf("unexpected page: %+v", recs)
	}

	if err := s.MarkFailed(ctx, recs[0], "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	recs, _ = s.FetchPending(ctx, 10)
	if len(recs) != 2 || recs[0].ID != "b" {
		t.Fatalf("expected b first after moving a, got %+v", recs)
	}
}

func TestMemoryStorage_ExactlyOneQueue(t *testing.T) {
	rec := domain.Record{ID: "r1", Plate: "AB12CDE"}
	s := NewMemoryStorage(rec)
	ctx := context.Background()

	if err := s.MarkValuated(ctx, rec, domain.Valuation{Amount: 10}); err != nil {
		t.Fatalf("MarkValuated failed: %v", err)
	}
	if s.State("r1") != "valuated" {
		t.Errorf("expected valuated, got %q", s.State("r1"))
	}

	err := s.MarkFailed(ctx, rec, "timeout")
	if !errors.Is(err, storage.ErrRecordNotPending) {
		t.Fatalf("expected ErrRecordNotPending, got %v", err)
	}
	counts, _ := s.Counts(ctx)
	if counts != (domain.QueueCounts{Valuated: 1}) {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestMemoryStorage_FaultInjection(t *testing.T) {
	rec := domain.Record{ID: "r1"}
	s := NewMemoryStorage(rec)
	ctx := context.Background()
	boom := errors.New("connection reset")

	s.Inject(Fault{Op: "fetch", Err: boom, Times: 1})
	if _, err := s.FetchPending(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := s.FetchPending(ctx, 1); err != nil {
		t.Fatalf("fault should be spent, got %v", err)
	}

	s.Inject(Fault{Op: "valuated", Err: boom, Times: 1})
	if err := s.MarkValuated(ctx, rec, domain.Valuation{Amount: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if s.State("r1") != "pending" {
		t.Errorf("failed write must leave record pending, got %q", s.State("r1"))
	}
	if s.Fetches() != 2 {
		t.Errorf("expected 2 fetches, got %d", s.Fetches())
	}
}

func TestMemoryStorage_ReAddRetriesRecord(t *testing.T) {
	rec := domain.Record{ID: "r1", Plate: "AB12CDE"}
	s := NewMemoryStorage(rec)
	ctx := context.Background()

	if err := s.MarkFailed(ctx, rec, "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	s.Add(rec)
	counts, _ := s.Counts(ctx)
	if counts != (domain.QueueCounts{Pending: 1}) {
		t.Fatalf("re-added record must only be pending, got %+v", counts)
	}

	if err := s.MarkValuated(ctx, rec, domain.Valuation{Amount: 10}); err != nil {
		t.Fatalf("MarkValuated failed: %v", err)
	}
	counts, _ = s.Counts(ctx)
	if counts != (domain.QueueCounts{Valuated: 1}) {
		t.Errorf("record must be in exactly one queue, got %+v", counts)
	}
	if s.State("r1") != "valuated" {
		t.Errorf("expected valuated, got %q", s.State("r1"))
	}
}
