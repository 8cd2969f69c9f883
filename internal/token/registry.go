package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Factory builds the session for a chat on first use.
type Factory func(chatID int64) *Session

// Registry keeps one Session per chat.
type Registry struct {
	mu      sync.RWMutex
	data    map[int64]*Session
	factory Factory
}

func NewRegistry(f Factory) *Registry {
	return &Registry{data: make(map[int64]*Session), factory: f}
}

// Session returns the chat's session, creating it if needed. created is true
// when the caller got a fresh, not yet connected session.
func (r *Registry) Session(chatID int64) (s *Session, created bool) {
	r.mu.RLock()
	s = r.data[chatID]
	r.mu.RUnlock()
	if s != nil {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s = r.data[chatID]; s != nil {
		return s, false
	}
	s = r.factory(chatID)
	r.data[chatID] = s
	return s, true
}

func (r *Registry) Lookup(chatID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[chatID]
	return s, ok
}

func (r *Registry) Drop(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, chatID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Involving returns the chats whose active account is sender or receiver.
func (r *Registry) Involving(sender, receiver common.Address) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []int64
	for chatID, s := range r.data {
		a := s.State().Account()
		if a == (common.Address{}) {
			continue
		}
		if a == sender || a == receiver {
			out = append(out, chatID)
		}
	}
	return out
}
