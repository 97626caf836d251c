package storage

import (
	"context"
	"sync"

	"voicepager/internal/alert"
)

// memStore keeps everything in maps. The file driver uses it as its index.
type memStore struct {
	mu     sync.RWMutex
	msgs   map[string]Message
	cursor string
	closed bool
}

func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore { return &memStore{msgs: map[string]Message{}} }

func (s *memStore) Candidates(ctx context.Context, q alert.Query) ([]alert.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	hits := make([]Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if matches(q, m) {
			hits = append(hits, m)
		}
	}
	s.mu.RUnlock()

	newestFirst(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]alert.RawMessage, len(hits))
	for i, m := range hits {
		out[i] = m.RawMessage
	}
	return out, nil
}

func (s *memStore) Put(_ context.Context, msgs ...Message) error {
	if err := validate(msgs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(msgs)
	return nil
}

func (s *memStore) putLocked(msgs []Message) {
	for _, m := range msgs {
		s.msgs[m.ID] = m
	}
}

func (s *memStore) MarkRead(_ context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.markReadLocked(ids), nil
}

func (s *memStore) markReadLocked(ids []string) int {
	n := 0
	for _, id := range ids {
		m, ok := s.msgs[id]
		if !ok || !m.Unread {
			continue
		}
		m.Unread = false
		s.msgs[id] = m
		n++
	}
	return n
}

func (s *memStore) GetCursor(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.cursor, nil
}

func (s *memStore) PutCursor(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cursor = fingerprint
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
