// Package session holds the dashboard state shared by every ingestion
// transport and the HTTP API. All mutations run one at a time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wastewatch/internal/cache"
	"wastewatch/internal/core"
	"wastewatch/internal/sheets"
)

// Change kinds reported in events.
const (
	ChangeState        = "state"
	ChangeRecords      = "records"
	ChangeCompartments = "compartments"
)

// Event is sent to subscribers after a mutation.
type Event struct {
	Version uint64   `json:"version"`
	Changes []string `json:"changes"`
}

type Options struct {
	Store        sheets.RecordStore
	Compartments []core.Compartment
	PageSize     int
	CacheSize    int
	CacheTTL     time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

type Session struct {
	mu      sync.Mutex
	store   sheets.RecordStore
	comps   []core.Compartment
	view    core.ViewState
	version uint64

	clock  func() time.Time
	logger *slog.Logger

	dashboards  *cache.LRUCache[DashboardView]
	collections *cache.LRUCache[CollectionsView]

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Compartments == nil {
		opts.Compartments = core.DefaultCompartments()
	}
	view := core.DefaultViewState()
	if opts.PageSize > 0 {
		view.CollectionsPerPage = opts.PageSize
	}
	return &Session{
		store:       opts.Store,
		comps:       append([]core.Compartment(nil), opts.Compartments...),
		view:        view,
		clock:       opts.Clock,
		logger:      opts.Logger,
		dashboards:  cache.NewLRUCache[DashboardView](opts.CacheSize, opts.CacheTTL),
		collections: cache.NewLRUCache[CollectionsView](opts.CacheSize, opts.CacheTTL),
		subs:        make(map[int]chan Event),
	}
}

// Caches returns the view caches so a cache.Manager can sweep them.
func (s *Session) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.dashboards, s.collections}
}

// Now returns the session clock reading.
func (s *Session) Now() time.Time {
	return s.clock()
}

// Update runs fn with exclusive access to the session. Changes made by fn
// are kept even if fn fails or panics; subscribers are notified once fn
// returns.
func (s *Session) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx := &Tx{ctx: ctx, s: s}
	s.mu.Lock()
	defer func() {
		var ev Event
		if len(tx.changes) > 0 {
			s.version++
			ev = Event{Version: s.version, Changes: tx.changes}
		}
		s.mu.Unlock()
		if ev.Version > 0 {
			s.dashboards.Purge()
			s.collections.Purge()
			s.notify(ev)
		}
	}()
	return fn(tx)
}

// MergeState overlays the keys present in raw on the view state.
func (s *Session) MergeState(ctx context.Context, raw json.RawMessage) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.MergeState(raw) })
}

// ResetCompartment empties one compartment; false means unknown id.
func (s *Session) ResetCompartment(ctx context.Context, id int) (bool, error) {
	var found bool
	err := s.Update(ctx, func(tx *Tx) error {
		found = tx.ResetCompartment(id)
		return nil
	})
	return found, err
}

// ResetCompartments empties every compartment.
func (s *Session) ResetCompartments(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		tx.ResetCompartments()
		return nil
	})
}

// Seed fills an empty dataset from r. It returns the number of records
// loaded; a non-empty dataset is left alone. r is read without holding the
// session, so a slow source does not stall other mutations.
func (s *Session) Seed(ctx context.Context, r sheets.SeedReader) (int, error) {
	existing, err := s.Records(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	raw, err := r.ReadRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	now := s.clock()
	recs := make([]core.Record, len(raw))
	for i, m := range raw {
		recs[i] = core.Normalize(m, now)
	}

	var n int
	err = s.Update(ctx, func(tx *Tx) error {
		// Records may have arrived while the seed was being read.
		existing, err := s.store.List(ctx)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if len(existing) > 0 {
			return nil
		}
		n = len(recs)
		return tx.ReplaceRecords(recs)
	})
	return n, err
}

// View returns the current view state.
func (s *Session) View() core.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Compartments returns a copy of the compartment list.
func (s *Session) Compartments() []core.Compartment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Compartment(nil), s.comps...)
}

// Records returns a copy of the dataset.
func (s *Session) Records(ctx context.Context) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(ctx)
}

func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// snapshot returns the dataset together with the version it belongs to.
func (s *Session) snapshot(ctx context.Context) ([]core.Record, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.store.List(ctx)
	return recs, s.version, err
}

// Subscribe registers for change events. Slow subscribers miss events
// rather than block mutations. cancel closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
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
			close(ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) notify(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Subscriber lagging, event dropped", "version", ev.Version)
		}
	}
}
