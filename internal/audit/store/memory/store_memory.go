// Package memory is the in-memory audit store used by unit tests and
// broker-less development. It mirrors the postgres store's semantics:
// idempotent upsert on event ID, (occurred_at, event_id) descending order,
// batch-limited deletion.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"poscore/internal/audit"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]audit.StoredRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]audit.StoredRecord)}
}

// UpsertBatch inserts records that are not yet present. Re-delivery of an
// event ID is a no-op, matching ON CONFLICT DO NOTHING.
func (s *Store) UpsertBatch(_ context.Context, records []audit.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if _, exists := s.records[rec.EventID]; exists {
			continue
		}
		s.records[rec.EventID] = rec
	}
	return nil
}

// List returns records matching the filter, newest first, event ID breaking
// timestamp ties, honoring cursor and limit.
func (s *Store) List(_ context.Context, filter audit.ListFilter) ([]audit.StoredRecord, error) {
	s.mu.RLock()
	var matched []audit.StoredRecord
	for _, rec := range s.records {
		if s.matches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].EventID > matched[j].EventID
	})

	if filter.Cursor != nil {
		cut := 0
		for cut < len(matched) && !before(matched[cut], *filter.Cursor) {
			cut++
		}
		matched = matched[cut:]
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// before reports whether rec sorts strictly after the cursor position in
// descending order, i.e. belongs to the next page.
func before(rec audit.StoredRecord, cursor audit.Cursor) bool {
	if !rec.OccurredAt.Equal(cursor.OccurredAt) {
		return rec.OccurredAt.Before(cursor.OccurredAt)
	}
	return rec.EventID < cursor.EventID
}

func (s *Store) matches(rec audit.StoredRecord, filter audit.ListFilter) bool {
	if rec.TenantID != filter.TenantID {
		return false
	}
	if filter.ActorID != "" && rec.ActorID != filter.ActorID {
		return false
	}
	if filter.Action != "" && string(rec.Action) != filter.Action {
		return false
	}
	if filter.Severity != "" && rec.Severity != filter.Severity {
		return false
	}
	if filter.EntityID != "" {
		str, ok := rec.Payload["entity_id"].(string)
		if !ok || str != filter.EntityID {
			return false
		}
	}
	if !filter.From.IsZero() && rec.OccurredAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && rec.OccurredAt.After(filter.To) {
		return false
	}
	return true
}

// CountExpired counts records older than the cutoff without deleting.
func (s *Store) CountExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.records {
		if rec.OccurredAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes up to limit records older than the cutoff and
// returns how many were deleted. limit <= 0 deletes all candidates.
func (s *Store) DeleteExpired(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, rec := range s.records {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if rec.OccurredAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns the stored record for an event ID. Test helper.
func (s *Store) Get(eventID string) (audit.StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	return rec, ok
}
