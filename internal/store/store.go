package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnknownSymbol is returned when a command names a synth the registry does not hold.
var ErrUnknownSymbol = errors.New("unknown synth symbol")

// Store holds the current State. All writes go through Reduce under the lock;
// readers get the published State value.
type Store struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// New creates a store with an empty state.
func New() *Store {
	return &Store{
		state: NewState(),
		now:   time.Now,
	}
}

// Dispatch applies an event.
func (s *Store) Dispatch(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, ev)
}

// Begin requests a fetch on key. It returns the sequence number the result
// must be committed with, or ok=false when a request is already in flight and
// force is not set.
func (s *Store) Begin(key Key, force bool) (seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Fetches[key]
	s.state = Reduce(s.state, FetchRequested{Key: key, Force: force})
	next := s.state.Fetches[key]
	if next.Seq == prev.Seq {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"phase": prev.Phase,
		}).Debug("Fetch already in flight, skipping")
		return prev.Seq, false
	}

	if prev.InFlight() {
		logrus.WithFields(logrus.Fields{
			"key":        key,
			"superseded": prev.Seq,
			"seq":        next.Seq,
		}).Debug("Superseding in-flight fetch")
	}
	return next.Seq, true
}

// Commit stores the result of request seq. It returns false when seq is no
// longer the latest request for key; the result is then dropped.
func (s *Store) Commit(key Key, seq uint64, result Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Fetches[key]
	s.state = Reduce(s.state, FetchSucceeded{Key: key, Seq: seq, Result: result, At: s.now()})
	if !prev.InFlight() || prev.Seq != seq {
		logrus.WithFields(logrus.Fields{
			"key":    key,
			"seq":    seq,
			"latest": prev.Seq,
		}).Debug("Discarding stale fetch result")
		return false
	}
	return true
}

// Fail records the error of request seq, keeping previously loaded data.
// It returns false when seq is stale.
func (s *Store) Fail(key Key, seq uint64, err error) bool {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Fetches[key]
	s.state = Reduce(s.state, FetchFailed{Key: key, Seq: seq, Err: msg, At: s.now()})
	if !prev.InFlight() || prev.Seq != seq {
		logrus.WithFields(logrus.Fields{
			"key":    key,
			"seq":    seq,
			"latest": prev.Seq,
		}).Debug("Discarding stale fetch error")
		return false
	}
	return true
}

// SelectPair selects base/quote. Both must be registered.
func (s *Store) SelectPair(base, quote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sym := range []string{base, quote} {
		if _, ok := s.state.Registry.Get(sym); !ok {
			return fmt.Errorf("select pair %s/%s: %w: %s", base, quote, ErrUnknownSymbol, sym)
		}
	}
	if base == quote {
		return fmt.Errorf("select pair %s/%s: base and quote must differ", base, quote)
	}
	s.state = Reduce(s.state, SynthPairSelected{Base: base, Quote: quote})
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the fetch status of key.
func (s *Store) Status(key Key) FetchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Fetches[key]
}
