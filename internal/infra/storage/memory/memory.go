package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/storage"
)

// ValuatedRow is a record stored in the valuated queue.
type ValuatedRow struct {
	Record    domain.Record
	Valuation domain.Valuation
}

// FailedRow is a record stored in the failed queue.
type FailedRow struct {
	Record domain.Record
	Reason string
}

// Fault injects an error into the next calls of one operation.
type Fault struct {
	Op    string // "fetch", "valuated", "failed"
	Err   error
	Times int
}

// MemoryStorage is an in-process RecordRepository for tests and dry runs.
type MemoryStorage struct {
	pending  map[string]domain.Record
	order    []string
	valuated map[string]ValuatedRow
	failed   map[string]FailedRow
	faults   []*Fault
	fetches  int
	mu       sync.RWMutex
}

var _ storage.RecordRepository = (*MemoryStorage)(nil)

func NewMemoryStorage(records ...domain.Record) *MemoryStorage {
	s := &MemoryStorage{
		pending:  make(map[string]domain.Record),
		valuated: make(map[string]ValuatedRow),
		failed:   make(map[string]FailedRow),
	}
	s.Add(records...)
	return s
}

// Add appends records to the pending queue. Pending ids are overwritten in
// place; ids with an earlier outcome lose it and are valuated again.
func (s *MemoryStorage) Add(records ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		delete(s.valuated, r.ID)
		delete(s.failed, r.ID)
		if _, ok := s.pending[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.pending[r.ID] = r
	}
}

// Inject registers a fault for the given operation.
func (s *MemoryStorage) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ff := f
	s.faults = append(s.faults, &ff)
}

func (s *MemoryStorage) fault(op string) error {
	for _, f := range s.faults {
		if f.Op == op && f.Times > 0 {
			f.Times--
			return f.Err
		}
	}
	return nil
}

func (s *MemoryStorage) FetchPending(ctx context.Context, limit int) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if err := s.fault("fetch"); err != nil {
		return nil, err
	}

	var out []domain.Record
	for _, id := range s.order {
		rec, ok := s.pending[id]
		if !ok {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) MarkValuated(ctx context.Context, rec domain.Record, v domain.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("valuated"); err != nil {
		return err
	}
	if _, ok := s.pending[rec.ID]; !ok {
		return fmt.Errorf("mark valuated %s: %w", rec.ID, storage.ErrRecordNotPending)
	}
	delete(s.failed, rec.ID)
	s.valuated[rec.ID] = ValuatedRow{Record: rec, Valuation: v}
	s.remove(rec.ID)
	return nil
}

func (s *MemoryStorage) MarkFailed(ctx context.Context, rec domain.Record, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("failed"); err != nil {
		return err
	}
	if _, ok := s.pending[rec.ID]; !ok {
		return fmt.Errorf("mark failed %s: %w", rec.ID, storage.ErrRecordNotPending)
	}
	delete(s.valuated, rec.ID)
	s.failed[rec.ID] = FailedRow{Record: rec, Reason: reason}
	s.remove(rec.ID)
	return nil
}

func (s *MemoryStorage) remove(id string) {
	delete(s.pending, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStorage) Counts(ctx context.Context) (domain.QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.QueueCounts{
		Pending:  len(s.pending),
		Valuated: len(s.valuated),
		Failed:   len(s.failed),
	}, nil
}

// Valuated returns a copy of the valuated queue sorted by id.
func (s *MemoryStorage) Valuated() []ValuatedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]ValuatedRow, 0, len(s.valuated))
	for _, r := range s.valuated {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Record.ID < rows[j].Record.ID })
	return rows
}

// Failed returns a copy of the failed queue sorted by id.
func (s *MemoryStorage) Failed() []FailedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]FailedRow, 0, len(s.failed))
	for _, r := range s.failed {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Record.ID < rows[j].Record.ID })
	return rows
}

// State reports which queue holds id: "pending", "valuated", "failed" or "".
func (s *MemoryStorage) State(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pending[id]; ok {
		return "pending"
	}
	if _, ok := s.valuated[id]; ok {
		return "valuated"
	}
	if _, ok := s.failed[id]; ok {
		return "failed"
	}
	return ""
}

// Fetches returns how many times FetchPending was called.
func (s *MemoryStorage) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}
