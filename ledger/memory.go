package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/batchpay/types"
)

type memEntry struct {
	rec types.PaymentRecord
	seq uint64
}

// MemoryLedger keeps records in process memory. Writes are serialized by a
// single mutex.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*memEntry
	seq     uint64
	now     Clock
}

func NewMemoryLedger(now Clock) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{records: make(map[string]*memEntry), now: now}
}

func (m *MemoryLedger) Create(_ context.Context, e Entry) (types.PaymentRecord, error) {
	rec, err := newRecord(e, m.now)
	if err != nil {
		return types.PaymentRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return types.PaymentRecord{}, types.NewError(types.CodeDuplicateSubmission, "payment %s already recorded", rec.ID)
	}
	m.seq++
	m.records[rec.ID] = &memEntry{rec: rec, seq: m.seq}
	return copyRecord(rec), nil
}

func (m *MemoryLedger) Transition(_ context.Context, id string, status types.Status) (bool, error) {
	if err := validateTarget(id, status); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[id]
	if !ok {
		return false, notFound(id)
	}
	changed, err := checkTransition(id, e.rec.Status, status)
	if err != nil || !changed {
		return false, err
	}
	e.rec.Status = status
	return true, nil
}

func (m *MemoryLedger) Get(_ context.Context, id string) (types.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok {
		return types.PaymentRecord{}, notFound(id)
	}
	return copyRecord(e.rec), nil
}

func (m *MemoryLedger) List(_ context.Context) ([]types.PaymentRecord, error) {
	return m.list(func(types.PaymentRecord) bool { return true }), nil
}

func (m *MemoryLedger) ListPending(_ context.Context) ([]types.PaymentRecord, error) {
	return m.list(func(r types.PaymentRecord) bool { return r.Status == types.StatusPending }), nil
}

func (m *MemoryLedger) Close() error { return nil }

// Len returns the number of records.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryLedger) list(keep func(types.PaymentRecord) bool) []types.PaymentRecord {
	m.mu.RLock()
	entries := make([]memEntry, 0, len(m.records))
	for _, e := range m.records {
		if keep(e.rec) {
			entries = append(entries, memEntry{rec: copyRecord(e.rec), seq: e.seq})
		}
	}
	m.mu.RUnlock()

	// newest first; insertion order breaks timestamp ties
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]types.PaymentRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec)
	}
	return out
}

func copyRecord(r types.PaymentRecord) types.PaymentRecord {
	r.Recipients = append([]types.Recipient(nil), r.Recipients...)
	return r
}
