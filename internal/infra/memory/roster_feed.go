package memory

import (
	"sync"

	"tutordesk/internal/app"
)

var _ app.RosterFeed = (*RosterFeed)(nil)

// RosterFeed fans submission activity out to in-process watchers. Signals are
// coalescing: a watcher that has not drained yet sees at most one pending
// signal, which is enough to trigger a fresh roster projection.
type RosterFeed struct {
	mu     sync.Mutex
	topics map[int64]map[chan struct{}]struct{}
}

func NewRosterFeed() *RosterFeed {
	return &RosterFeed{topics: make(map[int64]map[chan struct{}]struct{})}
}

func (f *RosterFeed) Subscribe(quizID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	subs, ok := f.topics[quizID]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		f.topics[quizID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if subs, ok := f.topics[quizID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(f.topics, quizID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *RosterFeed) Notify(quizID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.topics[quizID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
