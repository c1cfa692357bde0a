// Package session holds the per-chat coordination record shared by the
// maintenance scheduler and the humor gate.
//
// State lives only for the lifetime of the process. After a restart every
// chat starts from a zero State: maintenance for the current day runs once
// more (all steps are idempotent) and the humor cooldown is forgotten.
package session

import (
	"sync"
	"time"
)

// State is the coordination record for one chat. Day fields hold UTC
// midnights; the zero time means "never".
type State struct {
	LastHumor          time.Time
	LastSummaryDay     time.Time
	LastMaintenanceDay time.Time
	LastVacuumDay      time.Time

	JokesToday int
	JokesDay   time.Time
}

// ResetJokesIfNewDay zeroes the daily joke counter when today differs from
// the day the counter was last touched.
func (s *State) ResetJokesIfNewDay(today time.Time) {
	if !s.JokesDay.Equal(today) {
		s.JokesToday = 0
		s.JokesDay = today
	}
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Registry maps chat IDs to their State. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	chats map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{chats: make(map[string]*entry)}
}

func (r *Registry) get(chatID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.chats[chatID]
	if !ok {
		e = &entry{}
		r.chats[chatID] = e
	}
	return e
}

// With runs fn with exclusive access to the chat's State. Calls for the same
// chat are serialized; calls for different chats run in parallel. The error
// from fn is returned unchanged.
func (r *Registry) With(chatID string, fn func(*State) error) error {
	e := r.get(chatID)

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.state)
}

// Snapshot returns a copy of the chat's State and whether the chat is known.
func (r *Registry) Snapshot(chatID string) (State, bool) {
	r.mu.Lock()
	e, ok := r.chats[chatID]
	r.mu.Unlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Len returns the number of chats seen since start.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}
