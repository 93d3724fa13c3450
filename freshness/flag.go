// Package freshness tracks whether the message list needs refetching,
// independent of which operation changed it.
package freshness

import (
	"context"
	"sync"
)

// Flag is a staleness signal with at-least-once refetch semantics. It
// starts stale so the first consumer always fetches.
type Flag struct {
	mu    sync.Mutex
	stale bool
	gen   uint64

	// consumeMu serialises consumers so a burst of signals triggers one
	// fetch at a time.
	consumeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

func New() *Flag {
	return &Flag{stale: true, subs: make(map[int]chan struct{})}
}

// MarkStale records that the list changed. Calls between two consumptions
// collapse into one pending refetch. Subscribers are notified when the flag
// turns stale.
func (f *Flag) MarkStale() {
	f.mu.Lock()
	f.gen++
	wasStale := f.stale
	f.stale = true
	f.mu.Unlock()

	if !wasStale {
		f.notify()
	}
}

func (f *Flag) Stale() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale
}

// ConsumeIfStale calls fetch when the flag is stale and clears it once fetch
// succeeds. A MarkStale that lands while fetch runs keeps the flag stale and
// notifies subscribers again. A failed fetch leaves the flag stale. It
// reports whether fetch was called.
func (f *Flag) ConsumeIfStale(ctx context.Context, fetch func(context.Context) error) (bool, error) {
	f.consumeMu.Lock()
	defer f.consumeMu.Unlock()

	f.mu.Lock()
	if !f.stale {
		f.mu.Unlock()
		return false, nil
	}
	gen := f.gen
	f.mu.Unlock()

	if err := fetch(ctx); err != nil {
		return true, err
	}

	f.mu.Lock()
	cleared := f.gen == gen
	if cleared {
		f.stale = false
	}
	f.mu.Unlock()

	if !cleared {
		f.notify()
	}
	return true, nil
}

// Changes returns a channel that receives a value whenever the flag needs
// consuming. Notifications coalesce; the returned function unsubscribes.
func (f *Flag) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.subsMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subsMu.Lock()
			delete(f.subs, id)
			f.subsMu.Unlock()
		})
	}
}

func (f *Flag) notify() {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
