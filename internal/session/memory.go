package session

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"bankruptcy-console/internal/backend"
)

type flightKey struct {
	id string
	op backend.Op
}

// MemoryStore keeps sessions in process memory. Idle sessions expire after
// ttl and are removed by a background sweeper.
type MemoryStore struct {
	states    *xsync.MapOf[string, State]
	flights   *xsync.MapOf[flightKey, time.Time]
	baseline  backend.Metrics
	ttl       time.Duration
	flightTTL time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a store and starts its sweeper.
func NewMemoryStore(baseline backend.Metrics, ttl, flightTTL time.Duration) *MemoryStore {
	s := &MemoryStore{
		states:    xsync.NewMapOf[string, State](),
		flights:   xsync.NewMapOf[flightKey, time.Time](),
		baseline:  baseline,
		ttl:       ttl,
		flightTTL: flightTTL,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval(ttl))
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	iv := ttl / 4
	if iv < time.Second {
		iv = time.Second
	}
	if iv > 5*time.Minute {
		iv = 5 * time.Minute
	}
	return iv
}

func (s *MemoryStore) expired(st State) bool {
	return s.now().Sub(st.UpdatedAt) > s.ttl
}

// Get returns a copy of the stored state.
func (s *MemoryStore) Get(_ context.Context, id string) (State, error) {
	st, ok := s.states.Load(id)
	if !ok || s.expired(st) {
		return NewState(id, s.baseline), nil
	}
	return st, nil
}

// Update runs fn under the map's per-key lock.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*State) error) (State, error) {
	var (
		out   State
		fnErr error
	)
	s.states.Compute(id, func(cur State, loaded bool) (State, bool) {
		stale := !loaded || s.expired(cur)
		next := cur
		if stale {
			next = NewState(id, s.baseline)
		}
		if fnErr = fn(&next); fnErr != nil {
			// A live session keeps its value; a missing or expired one
			// is not stored.
			return cur, stale
		}
		next.UpdatedAt = s.now()
		out = next
		return next, false
	})
	if fnErr != nil {
		return State{}, fnErr
	}
	return out, nil
}

// Reset forgets the session. Running operations keep their flags.
func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.states.Delete(id)
	return nil
}

// Begin sets the in-flight flag for (id, op). A flag older than the flight
// TTL is treated as abandoned.
func (s *MemoryStore) Begin(_ context.Context, id string, op backend.Op) error {
	now := s.now()
	taken := false
	s.flights.Compute(flightKey{id, op}, func(started time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(started) <= s.flightTTL {
			taken = true
			return started, false
		}
		return now, false
	})
	if taken {
		return busy(op)
	}
	return nil
}

func (s *MemoryStore) End(_ context.Context, id string, op backend.Op) error {
	s.flights.Delete(flightKey{id, op})
	return nil
}

func (s *MemoryStore) InFlight(_ context.Context, id string, op backend.Op) (bool, error) {
	started, ok := s.flights.Load(flightKey{id, op})
	if !ok {
		return false, nil
	}
	return s.now().Sub(started) <= s.flightTTL, nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	return s.states.Size()
}

// Sweep removes expired sessions and abandoned flags.
func (s *MemoryStore) Sweep() int {
	removed := 0
	s.states.Range(func(id string, st State) bool {
		if s.expired(st) {
			s.states.Compute(id, func(cur State, loaded bool) (State, bool) {
				// Re-check under the lock; an update may have raced the sweep.
				if loaded && s.expired(cur) {
					removed++
					return cur, true
				}
				return cur, !loaded
			})
		}
		return true
	})

	now := s.now()
	s.flights.Range(func(k flightKey, started time.Time) bool {
		if now.Sub(started) > s.flightTTL {
			s.flights.Delete(k)
		}
		return true
	})
	return removed
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
