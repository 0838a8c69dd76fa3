package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Used in tests and when Firestore is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && !existing.expired(now) {
		switch {
		case existing.Fingerprint != fingerprint:
			return Reservation{}, ErrFingerprintMismatch
		case existing.Status == StatusCompleted:
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		default:
			return Reservation{State: ReservationStatePending, Record: existing}, nil
		}
	}

	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(effectiveTTL(ttl)),
	}
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok || record.CreatedAt.IsZero() {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(effectiveTTL(ttl))
	s.records[id] = record
	return nil
}

// CleanupExpired removes expired records, oldest expiry first.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id      string
		expires time.Time
	}
	var expired []candidate
	for id, record := range s.records {
		if record.expired(now) {
			expired = append(expired, candidate{id: id, expires: record.ExpiresAt})
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].expires.Before(expired[j].expires) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, c := range expired {
		delete(s.records, c.id)
	}
	return len(expired), nil
}

// Release drops a reservation so a retry may run the handler again.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	delete(s.records, id)
	return nil
}
