// Package session keeps the most recent resolution per conversation so a later variant
// selection can be served without resolving again.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/terarelay/internal/resolver"
)

// DefaultTTL is how long a resolution stays selectable.
const DefaultTTL = 15 * time.Minute

// ErrNotFound is returned when no live entry matches the scope: it expired, was superseded by a
// newer resolution in the same conversation, was already claimed, or never existed.
var ErrNotFound = errors.New("session: no matching entry")

// Scope identifies one resolution in one conversation.
type Scope struct {
	ConversationID string
	Nonce          string
}

// StatusRef points at the status message owned by the request.
type StatusRef struct {
	ChatID    string
	MessageID string
}

// Entry is a stored resolution.
type Entry struct {
	Scope     Scope
	File      resolver.File
	Status    StatusRef
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is a concurrency-safe map of conversation -> latest entry.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

// NewStore creates a store; ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: map[string]Entry{},
		ttl:     ttl,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Put records file as the current resolution of the conversation, superseding any previous
// entry, and returns the new entry with a fresh nonce.
func (s *Store) Put(conversationID string, file resolver.File, status StatusRef) (Entry, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Entry{}, errors.New("session: conversation id is required")
	}
	now := s.now()
	entry := Entry{
		Scope:     Scope{ConversationID: conversationID, Nonce: s.newID()},
		File:      file,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.entries[conversationID] = entry
	s.mu.Unlock()
	return entry, nil
}

// Get returns the live entry for scope without consuming it.
func (s *Store) Get(scope Scope) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(scope)
}

// Take returns the live entry for scope and removes it, so exactly one caller can act on a
// given resolution.
func (s *Store) Take(scope Scope) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookupLocked(scope)
	if err != nil {
		return Entry{}, err
	}
	delete(s.entries, scope.ConversationID)
	return entry, nil
}

func (s *Store) lookupLocked(scope Scope) (Entry, error) {
	entry, ok := s.entries[scope.ConversationID]
	if !ok || scope.Nonce == "" || entry.Scope.Nonce != scope.Nonce {
		return Entry{}, ErrNotFound
	}
	if !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, scope.ConversationID)
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// EvictExpired drops every expired entry and returns how many were removed.
func (s *Store) EvictExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included until evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
