package message

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateID is returned by Insert when the message ID already exists.
	ErrDuplicateID = errors.New("message id already exists")

	// ErrNotFound is returned when no message has the given ID.
	ErrNotFound = errors.New("message not found")

	// ErrDuplicateReaction is returned by AppendReaction when the
	// (reactor, emoji) pair is already present on the message.
	ErrDuplicateReaction = errors.New("reaction already present")

	// ErrReactionNotFound is returned by RemoveReaction when the
	// (reactor, emoji) pair is not present on the message.
	ErrReactionNotFound = errors.New("reaction not present")
)

// Store is the interface for message persistence backends. Mutations are
// atomic per message ID: an edit and a delete racing on the same message
// never produce a partial result, and whichever completes second observes
// the other (delete-after-edit reports NotFound to later edits, and vice
// versa).
type Store interface {
	Insert(ctx context.Context, msg *Message) error
	ListRecent(ctx context.Context, limit int) ([]*Message, error)
	FindByID(ctx context.Context, id string) (*Message, error)
	UpdateBody(ctx context.Context, id, newBody string, editedAt time.Time) error
	AppendReaction(ctx context.Context, id string, r Reaction) error
	RemoveReaction(ctx context.Context, id, reactorID, emoji string) error
	DeleteByID(ctx context.Context, id string) error
}

// MemoryStore keeps messages in memory, ordered by creation time.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]*Message)}
}

// Insert adds a message. Fails with ErrDuplicateID if the ID is taken.
func (s *MemoryStore) Insert(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return ErrDuplicateID
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

// ListRecent returns up to limit most recent messages, oldest first.
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Message, error) {
	s.mu.RLock()
	all := make([]*Message, 0, len(s.messages))
	for _, m := range s.messages {
		cp := *m
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// FindByID returns a copy of the message, or ErrNotFound.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.Reactions = append([]Reaction(nil), m.Reactions...)
	return &cp, nil
}

// UpdateBody replaces the body and stamps editedAt.
func (s *MemoryStore) UpdateBody(ctx context.Context, id, newBody string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Body = newBody
	t := editedAt
	m.EditedAt = &t
	return nil
}

// AppendReaction adds a reaction, enforcing at most one entry per
// (reactor, emoji) pair.
func (s *MemoryStore) AppendReaction(ctx context.Context, id string, r Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if m.HasReaction(r.ReactorID, r.Emoji) {
		return ErrDuplicateReaction
	}
	m.Reactions = append(m.Reactions, r)
	return nil
}

// RemoveReaction removes the (reactor, emoji) reaction if present.
func (s *MemoryStore) RemoveReaction(ctx context.Context, id, reactorID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	for i, r := range m.Reactions {
		if r.ReactorID == reactorID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return nil
		}
	}
	return ErrReactionNotFound
}

// DeleteByID removes a message.
func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

// Count returns the number of stored messages.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
