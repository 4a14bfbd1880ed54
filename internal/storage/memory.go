package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// InMemoryMessageStore implements smpp.MessageStore in process memory.
type InMemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*smpp.MessageRecord
	logger   smpp.Logger
}

// NewInMemoryMessageStore creates an empty store.
func NewInMemoryMessageStore(logger smpp.Logger) *InMemoryMessageStore {
	return &InMemoryMessageStore{
		messages: make(map[string]*smpp.MessageRecord),
		logger:   logger,
	}
}

// Save stores a copy of rec, replacing any record with the same id.
func (s *InMemoryMessageStore) Save(ctx context.Context, rec *smpp.MessageRecord) error {
	if rec == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if rec.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	s.mu.Lock()
	c := *rec
	s.messages[rec.ID] = &c
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("Message stored", "message_id", rec.ID, "session_id", rec.SessionID)
	}
	return nil
}

// Get returns a copy of the record.
func (s *InMemoryMessageStore) Get(ctx context.Context, id string) (*smpp.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", smpp.ErrMessageNotFound, id)
	}
	c := *rec
	return &c, nil
}

// Update applies fn to a copy and keeps it only if fn succeeds.
func (s *InMemoryMessageStore) Update(ctx context.Context, id string, fn func(*smpp.MessageRecord) error) error {
	_, err := s.update(id, fn)
	return err
}

func (s *InMemoryMessageStore) update(id string, fn func(*smpp.MessageRecord) error) (*smpp.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", smpp.ErrMessageNotFound, id)
	}
	next := *rec
	if err := fn(&next); err != nil {
		return nil, err
	}
	s.messages[id] = &next

	if s.logger != nil {
		s.logger.Debug("Message updated", "message_id", id, "state", smpp.StatFromMessageState(next.State))
	}
	c := next
	return &c, nil
}

// Delete removes a record.
func (s *InMemoryMessageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("%w: %s", smpp.ErrMessageNotFound, id)
	}
	delete(s.messages, id)
	return nil
}

// Count returns the number of stored records.
func (s *InMemoryMessageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// BySession returns the records submitted on one session.
func (s *InMemoryMessageStore) BySession(sessionID string) []*smpp.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*smpp.MessageRecord
	for _, rec := range s.messages {
		if rec.SessionID == sessionID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out
}

// Prune removes final records completed before cutoff and returns their ids.
func (s *InMemoryMessageStore) Prune(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, rec := range s.messages {
		if rec.Final() && !rec.DoneAt.IsZero() && rec.DoneAt.Before(cutoff) {
			delete(s.messages, id)
			removed = append(removed, id)
		}
	}
	if s.logger != nil && len(removed) > 0 {
		s.logger.Debug("Pruned final messages", "count", len(removed))
	}
	return removed
}
