// Package listsync keeps a local copy of the message list current. Changes
// made through the Editor and periodic polling both flow through a
// freshness.Flag so every burst of changes results in one refetch.
package listsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/safe-zone-client/freshness"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 5 * time.Second

// Lister fetches the current message list.
type Lister interface {
	List(ctx context.Context) ([]mibs.Message, error)
}

type Option func(*Syncer)

func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Syncer) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// Syncer refetches the list whenever its flag is stale.
type Syncer struct {
	lister   Lister
	flag     *freshness.Flag
	interval time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	messages  []mibs.Message
	fetched   bool
	fetchedAt time.Time
	lastErr   error

	subsMu  sync.Mutex
	subs    map[int]chan []mibs.Message
	nextSub int
}

func NewSyncer(lister Lister, flag *freshness.Flag, opts ...Option) *Syncer {
	s := &Syncer{
		lister:   lister,
		flag:     flag,
		interval: DefaultPollInterval,
		clock:    clockwork.NewRealClock(),
		logger:   log.Logger,
		subs:     make(map[int]chan []mibs.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes the flag on start, whenever it turns stale and on every poll
// tick until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	changes, unsubscribe := s.flag.Changes()
	defer unsubscribe()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			s.sync(ctx)
		case <-ticker.Chan():
			s.flag.MarkStale()
			s.sync(ctx)
		}
	}
}

// sync keeps consuming while signals arrive during a fetch. Errors end the
// round; the next tick retries.
func (s *Syncer) sync(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, err := s.flag.ConsumeIfStale(ctx, s.fetch)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Err(err).Msg("Failed to fetch messages")
			}
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			return
		}
		if !fetched || !s.flag.Stale() {
			return
		}
	}
}

func (s *Syncer) fetch(ctx context.Context) error {
	messages, err := s.lister.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.messages = messages
	s.fetched = true
	s.fetchedAt = s.clock.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.publish(messages)
	return nil
}

// Messages returns the last fetched list.
func (s *Syncer) Messages() []mibs.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mibs.Message(nil), s.messages...)
}

// FetchedAt is the time of the last successful fetch, zero before the first.
func (s *Syncer) FetchedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchedAt
}

// LastError is the error of the most recent fetch, nil once a fetch succeeds.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe delivers every fetched list. Slow readers only see the latest.
// The current list is sent immediately when one has been fetched.
func (s *Syncer) Subscribe() (<-chan []mibs.Message, func()) {
	ch := make(chan []mibs.Message, 1)

	s.mu.Lock()
	if s.fetched {
		ch <- append([]mibs.Message(nil), s.messages...)
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Syncer) publish(messages []mibs.Message) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- append([]mibs.Message(nil), messages...)
	}
}
