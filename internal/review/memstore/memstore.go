// Package memstore provides an in-memory implementation of review.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/review"
)

// Store holds entity records and the audit trail in memory. Suitable
// for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*review.Record      // Ref.Key() -> record
	audit   map[string][]review.AuditRecord // entity ID -> trail, oldest first
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*review.Record),
		audit:   make(map[string][]review.AuditRecord),
	}
}

// Get retrieves a record by its typed reference. Returns a copy.
func (s *Store) Get(_ context.Context, ref entity.Ref) (*review.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ref.Key()]
	if !ok {
		return nil, false, nil
	}
	cp := copyRecord(rec)
	return &cp, true, nil
}

// Put stores a copy of the record, overwriting any previous version.
func (s *Store) Put(_ context.Context, rec *review.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyRecord(rec)
	s.records[rec.Ref.Key()] = &cp
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(_ context.Context, ref entity.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ref.Key())
	return nil
}

// List returns copies of all records of the given type, in map order.
func (s *Store) List(_ context.Context, typ entity.Type) ([]review.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []review.Record
	for _, rec := range s.records {
		if rec.Ref.Type != typ {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

// AppendAudit appends one audit entry to the entity's trail.
func (s *Store) AppendAudit(_ context.Context, rec *review.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[rec.EntityID] = append(s.audit[rec.EntityID], *rec)
	return nil
}

// AuditFor returns a copy of the entity's audit trail, oldest first.
func (s *Store) AuditFor(_ context.Context, entityID string) ([]review.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.audit[entityID]
	out := make([]review.AuditRecord, len(trail))
	copy(out, trail)
	return out, nil
}

func copyRecord(rec *review.Record) review.Record {
	cp := *rec
	cp.Data = append([]byte(nil), rec.Data...)
	return cp
}
