package kvstore

import (
	"strings"
	"sync"
)

// subscribers is the in-process change feed shared by the store
// implementations. Cross-process transport is the deployment's concern; the
// store contract only promises a notification after each successful mutation.
type subscribers struct {
	mu   sync.Mutex
	subs map[int]subscription
	next int
}

type subscription struct {
	prefix string
	fn     func(Snapshot)
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]subscription)}
}

func (s *subscribers) add(prefix string, fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscription{prefix: prefix, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// broadcast delivers the snapshot to every subscriber, filtered by prefix.
// Callbacks run on the calling goroutine, outside any store lock, so a
// subscriber may call back into the store.
func (s *subscribers) broadcast(full Snapshot) {
	s.mu.Lock()
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(filterPrefix(full, sub.prefix))
	}
}

func filterPrefix(snap Snapshot, prefix string) Snapshot {
	if prefix == "" {
		return snap
	}
	out := make(Snapshot)
	for k, v := range snap {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}
