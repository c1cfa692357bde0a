package matrix

import "sync"

// sentSet remembers the IDs of the most recent events the bot sent, so a
// reply to one of them can be recognised. Oldest entries are evicted first.
type sentSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newSentSet(capacity int) *sentSet {
	return &sentSet{
		ids:   make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

func (s *sentSet) Add(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[eventID]; ok {
		return
	}
	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = eventID
	s.ids[eventID] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
}

func (s *sentSet) Has(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[eventID]
	return ok
}
