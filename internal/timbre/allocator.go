// Package timbre assigns a bounded pool of reference voices to an unbounded
// set of story characters.
//
// An Allocator keeps a character on the same timbre for as long as the
// character stays resident. When every timbre is taken and a new character
// appears, the least recently resolved character is evicted and its timbre is
// handed to the newcomer.
package timbre

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var (
	// ErrConfiguration reports an empty or malformed candidate set.
	ErrConfiguration = errors.New("timbre: invalid candidate set")
	// ErrInvalidSeed reports a preseeded assignment that is not drawn from the candidate set.
	ErrInvalidSeed = errors.New("timbre: invalid preseeded assignment")
	// ErrCapacityExhausted reports that no timbre is free and no character can be evicted.
	ErrCapacityExhausted = errors.New("timbre: capacity exhausted")
)

// EvictionObserver is notified synchronously, under the allocator lock, when a
// resident character loses its timbre to a newcomer. Implementations must not
// call back into the allocator.
type EvictionObserver interface {
	TimbreEvicted(evicted, timbre, successor string)
}

// ObserverFunc adapts a plain function to EvictionObserver.
type ObserverFunc func(evicted, timbre, successor string)

func (f ObserverFunc) TimbreEvicted(evicted, timbre, successor string) { f(evicted, timbre, successor) }

// Option customises an Allocator at construction.
type Option func(*Allocator)

// WithObserver registers an eviction observer.
func WithObserver(o EvictionObserver) Option {
	return func(a *Allocator) { a.observer = o }
}

// Allocator is safe for concurrent use. The zero value is an allocator with no
// candidates; every Resolve on it fails with ErrCapacityExhausted.
type Allocator struct {
	mu         sync.Mutex
	candidates []string
	free       []string
	track      *simplelru.LRU[string, string]
	observer   EvictionObserver
}

// New builds an allocator over candidates. Preseeded assignments are copied and
// become resident immediately, ordered so that the seed holding the earliest
// candidate is the least recently used.
func New(candidates []string, preseeded map[string]string, opts ...Option) (*Allocator, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrConfiguration)
	}
	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		if c == "" {
			return nil, fmt.Errorf("%w: empty candidate at position %d", ErrConfiguration, i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate candidate %q", ErrConfiguration, c)
		}
		index[c] = i
	}

	holders := make(map[string]string, len(preseeded))
	for key, value := range preseeded {
		if _, ok := index[value]; !ok {
			return nil, fmt.Errorf("%w: %q is assigned %q which is not a candidate", ErrInvalidSeed, key, value)
		}
		if other, taken := holders[value]; taken {
			return nil, fmt.Errorf("%w: %q and %q share timbre %q", ErrInvalidSeed, other, key, value)
		}
		holders[value] = key
	}

	track, err := simplelru.NewLRU[string, string](len(candidates), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	a := &Allocator{
		candidates: append([]string(nil), candidates...),
		free:       make([]string, 0, len(candidates)-len(holders)),
		track:      track,
	}
	for _, c := range a.candidates {
		if key, ok := holders[c]; ok {
			a.track.Add(key, c)
			continue
		}
		a.free = append(a.free, c)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Resolve returns the timbre for key, assigning one if key is not resident.
func (a *Allocator) Resolve(key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.track == nil {
		return "", ErrCapacityExhausted
	}
	if value, ok := a.track.Get(key); ok {
		return value, nil
	}

	if n := len(a.free); n > 0 {
		value := a.free[n-1]
		a.free = a.free[:n-1]
		a.track.Add(key, value)
		return value, nil
	}

	evicted, value, ok := a.track.RemoveOldest()
	if !ok {
		return "", ErrCapacityExhausted
	}
	a.track.Add(key, value)
	if a.observer != nil {
		a.observer.TimbreEvicted(evicted, value, key)
	}
	return value, nil
}

// Snapshot returns a copy of the current assignments.
func (a *Allocator) Snapshot() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]string)
	if a.track == nil {
		return out
	}
	for _, key := range a.track.Keys() {
		if value, ok := a.track.Peek(key); ok {
			out[key] = value
		}
	}
	return out
}

// Residents lists resident keys from most to least recently used.
func (a *Allocator) Residents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.track == nil {
		return nil
	}
	keys := a.track.Keys()
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

// Capacity is the number of candidates, the most keys that can be resident.
func (a *Allocator) Capacity() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.candidates)
}

// Len is the number of resident keys.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.track == nil {
		return 0
	}
	return a.track.Len()
}
