package livestore

import (
	"github.com/pkg/errors"
)

// Event is delivered to subscribers after a write touching their path.
type Event struct {
	Path   string
	Value  any
	Exists bool
}

// Subscription receives the current value of a path on every change. The
// first event carries the value at subscription time. Slow consumers miss
// events instead of blocking writers.
type Subscription struct {
	C <-chan Event

	id    uint64
	store *Store
}

type watcher struct {
	path string
	ch   chan Event
}

// Watch subscribes to changes at or below p.
func (s *Store) Watch(p string, buffer int) (*Subscription, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if buffer < 1 {
		buffer = 1
	}
	w := &watcher{path: p, ch: make(chan Event, buffer)}

	// Seeded before notify can see the watcher; later writes wait on watchMu.
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	evt, err := s.snapshot(p)
	if err != nil {
		return nil, err
	}
	w.ch <- evt
	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = w
	return &Subscription{C: w.ch, id: id, store: s}, nil
}

// Cancel ends the subscription and closes C.
func (sub *Subscription) Cancel() {
	sub.store.unwatch(sub.id)
}

func (s *Store) unwatch(id uint64) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if w, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(w.ch)
	}
}

func (s *Store) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w.ch)
	}
}

func (s *Store) snapshot(p string) (Event, error) {
	v, err := s.get(p)
	if errors.Is(err, ErrNotFound) {
		return Event{Path: p}, nil
	}
	if err != nil {
		return Event{}, err
	}
	return Event{Path: p, Value: v, Exists: true}, nil
}

func (s *Store) notify(changed []string) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, w := range s.watchers {
		hit := false
		for _, c := range changed {
			if related(w.path, c) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		evt, err := s.snapshot(w.path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", w.path).Msg("read watched path")
			continue
		}
		select {
		case w.ch <- evt:
		default:
			s.log.Debug().Str("path", w.path).Msg("subscriber lagging, event dropped")
		}
	}
}
