package presence

import (
	"sync"
	"time"
)

// timerSlot holds at most one pending timer per key. A timer that was
// replaced or cancelled never runs its callback, even if it already fired.
type timerSlot struct {
	mu     sync.Mutex
	gen    uint64
	timers map[string]slotEntry
}

type slotEntry struct {
	gen   uint64
	timer *time.Timer
}

func newTimerSlot() *timerSlot {
	return &timerSlot{timers: make(map[string]slotEntry)}
}

// Start schedules fn after d, replacing any pending timer for key.
func (s *timerSlot) Start(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(key)
	s.startLocked(key, d, fn)
}

// StartIfIdle schedules fn only when no timer is pending for key.
func (s *timerSlot) StartIfIdle(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; ok {
		return false
	}
	s.startLocked(key, d, fn)
	return true
}

// Cancel stops the pending timer for key and reports whether one existed.
func (s *timerSlot) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(key)
}

func (s *timerSlot) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *timerSlot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll cancels every pending timer.
func (s *timerSlot) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timers {
		s.stopLocked(key)
	}
}

func (s *timerSlot) startLocked(key string, d time.Duration, fn func()) {
	s.gen++
	gen := s.gen
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.timers[key]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = slotEntry{gen: gen, timer: t}
}

func (s *timerSlot) stopLocked(key string) bool {
	cur, ok := s.timers[key]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(s.timers, key)
	return true
}
