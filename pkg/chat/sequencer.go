package chat

import "sync"

// sequencer serializes message writes per conversation. A write and its
// room broadcast happen under the same lock, so a room sees message events
// in the order they were committed.
type sequencer struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{rooms: make(map[string]*roomLock)}
}

// lock blocks until conversationID is free and returns its release func.
// Entries are dropped once nobody holds or waits on them.
func (q *sequencer) lock(conversationID string) func() {
	q.mu.Lock()
	l := q.rooms[conversationID]
	if l == nil {
		l = &roomLock{}
		q.rooms[conversationID] = l
	}
	l.refs++
	q.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		q.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(q.rooms, conversationID)
		}
		q.mu.Unlock()
	}
}

func (q *sequencer) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rooms)
}
