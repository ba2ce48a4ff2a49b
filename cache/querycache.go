package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	payload   any
	hasData   bool
	fetchedAt time.Time
	updatedAt time.Time
	touchedAt time.Time
	status    Status
	prev      Status // restored if the running fetch is cancelled
	err       error
	gen       uint64
	fetchCtx  context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the running fetch returns
}

// QueryCache is the keyed store shared by the read path and the mutation
// coordinator. Construct one per application session and pass it to the
// components that need it.
type QueryCache struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	observers map[Key]map[uint64]func(Event)
	seq       uint64 // generation and observer ids
	flights   singleflight.Group
	// fetches that were cancelled but have not returned yet; the next
	// fetch for the key waits for them
	draining map[Key]chan struct{}

	now     func() time.Time
	gcTime  time.Duration
	metrics Metrics
	logger  zerolog.Logger
}

type Option func(*QueryCache)

func WithLogger(l zerolog.Logger) Option {
	return func(c *QueryCache) { c.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(c *QueryCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithGCTime sets how long an unobserved entry is kept after its last use.
// Zero disables collection.
func WithGCTime(d time.Duration) Option {
	return func(c *QueryCache) { c.gcTime = d }
}

// New creates an empty cache
func New(opts ...Option) *QueryCache {
	c := &QueryCache{
		entries:   make(map[Key]*entry),
		observers: make(map[Key]map[uint64]func(Event)),
		draining:  make(map[Key]chan struct{}),
		now:       time.Now,
		metrics:   NoopMetrics{},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a copy of the entry for key. Stale and failed entries are
// returned with their last known payload.
func (c *QueryCache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.touchedAt = c.now()
	return c.snapshotLocked(key, e), true
}

// Set replaces the payload, marks the entry idle and fresh, and notifies
// observers before returning. A fetch running for the key is left to
// finish but its result is discarded.
func (c *QueryCache) Set(key Key, payload any) {
	c.mu.Lock()
	c.setLocked(key, payload)
	obs := c.observersLocked(key)
	c.mu.Unlock()

	c.logger.Debug().Str("key", key.String()).Msg("cache set")
	emit(obs, Event{Type: EventUpdated, Key: key, Payload: payload})
}

// SetIfPresent applies fn to the payload of key only if the entry holds
// data. fn runs under the cache lock and must not call back into the cache.
func (c *QueryCache) SetIfPresent(key Key, fn UpdateFunc) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !e.hasData {
		c.mu.Unlock()
		return false
	}
	next, changed := fn(e.payload)
	if !changed {
		c.mu.Unlock()
		return false
	}
	c.setLocked(key, next)
	obs := c.observersLocked(key)
	c.mu.Unlock()

	emit(obs, Event{Type: EventUpdated, Key: key, Payload: next})
	return true
}

// UpdateWhere is SetIfPresent over every key matching the predicate. It
// returns the keys that changed.
func (c *QueryCache) UpdateWhere(match Predicate, fn UpdateFunc) []Key {
	type change struct {
		key     Key
		payload any
		obs     []func(Event)
	}

	c.mu.Lock()
	var changes []change
	for k, e := range c.entries {
		if !match(k) || !e.hasData {
			continue
		}
		next, changed := fn(e.payload)
		if !changed {
			continue
		}
		c.setLocked(k, next)
		changes = append(changes, change{key: k, payload: next, obs: c.observersLocked(k)})
	}
	c.mu.Unlock()

	keys := make([]Key, 0, len(changes))
	for _, ch := range changes {
		keys = append(keys, ch.key)
		emit(ch.obs, Event{Type: EventUpdated, Key: ch.key, Payload: ch.payload})
	}
	sortKeys(keys)
	if len(keys) > 0 {
		c.logger.Debug().Int("keys", len(keys)).Msg("cache write-through")
	}
	return keys
}

// Invalidate marks matching entries stale without dropping their payload.
// A fetch already running for an invalidated key is cancelled and its result
// is not written. Its readers get ErrCanceled and the next read starts a new
// fetch once the cancelled one has returned.
func (c *QueryCache) Invalidate(match Predicate) []Key {
	type change struct {
		key     Key
		payload any
		obs     []func(Event)
	}

	c.mu.Lock()
	var changes []change
	for k, e := range c.entries {
		if !match(k) {
			continue
		}
		if e.status == StatusFetching {
			c.abortLocked(k, e)
			e.gen = c.nextLocked()
		}
		e.status = StatusStale
		changes = append(changes, change{key: k, payload: e.payload, obs: c.observersLocked(k)})
	}
	c.mu.Unlock()

	keys := make([]Key, 0, len(changes))
	for _, ch := range changes {
		keys = append(keys, ch.key)
		emit(ch.obs, Event{Type: EventInvalidated, Key: ch.key, Payload: ch.payload})
	}
	sortKeys(keys)
	if len(keys) > 0 {
		c.logger.Debug().Int("keys", len(keys)).Msg("cache invalidate")
	}
	return keys
}

// Remove deletes the entry outright and aborts any fetch running for it
func (c *QueryCache) Remove(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.abortLocked(key, e)
	delete(c.entries, key)
	obs := c.observersLocked(key)
	c.mu.Unlock()

	c.logger.Debug().Str("key", key.String()).Msg("cache remove")
	emit(obs, Event{Type: EventRemoved, Key: key})
}

// CancelInFlight aborts the fetch running for key, restores the status the
// entry had before it and makes sure a late response is discarded. It
// reports whether a fetch was running.
func (c *QueryCache) CancelInFlight(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.status != StatusFetching {
		return false
	}
	c.abortLocked(key, e)
	e.status = e.prev
	e.gen = c.nextLocked()

	c.logger.Debug().Str("key", key.String()).Msg("cache fetch canceled")
	return true
}

// Clear removes every entry and aborts all running fetches
func (c *QueryCache) Clear() {
	c.mu.Lock()
	var events []Event
	var obs [][]func(Event)
	for k, e := range c.entries {
		c.abortLocked(k, e)
		if o := c.observersLocked(k); len(o) > 0 {
			events = append(events, Event{Type: EventRemoved, Key: k})
			obs = append(obs, o)
		}
	}
	c.entries = make(map[Key]*entry)
	c.mu.Unlock()

	for i, ev := range events {
		emit(obs[i], ev)
	}
}

// Collect removes entries that are idle, unobserved and unused for longer
// than the GC time. It returns the number of entries removed.
func (c *QueryCache) Collect() int {
	if c.gcTime <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.gcTime)
	removed := 0
	for k, e := range c.entries {
		if e.status == StatusFetching || len(c.observers[k]) > 0 {
			continue
		}
		if e.touchedAt.After(cutoff) {
			continue
		}
		delete(c.entries, k)
		c.metrics.Evict()
		removed++
	}
	return removed
}

// Subscribe registers fn to be called after every change to key. The
// returned function removes the observer.
func (c *QueryCache) Subscribe(key Key, fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextLocked()
	if c.observers[key] == nil {
		c.observers[key] = make(map[uint64]func(Event))
	}
	c.observers[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.observers[key], id)
			if len(c.observers[key]) == 0 {
				delete(c.observers, key)
			}
		})
	}
}

// Keys returns the keys matching the predicate, sorted by their string form
func (c *QueryCache) Keys(match Predicate) []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		if match(k) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sortKeys(keys)
	return keys
}

// Snapshot copies every entry, sorted by key
func (c *QueryCache) Snapshot() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, c.snapshotLocked(k, e))
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Len returns the number of entries
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) setLocked(key Key, payload any) {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	now := c.now()
	e.payload, e.hasData = payload, true
	e.status, e.err = StatusIdle, nil
	e.fetchedAt, e.updatedAt, e.touchedAt = now, now, now
	e.gen = c.nextLocked()
	if e.done != nil {
		c.draining[key] = e.done
	}
	e.fetchCtx, e.cancel, e.done = nil, nil, nil
}

// abortLocked cancels the fetch running for e, if any, and remembers it
// until it returns so the next fetch for key does not overlap it
func (c *QueryCache) abortLocked(key Key, e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		c.draining[key] = e.done
	}
	e.fetchCtx, e.cancel, e.done = nil, nil, nil
}

func (c *QueryCache) nextLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *QueryCache) observersLocked(key Key) []func(Event) {
	m := c.observers[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]func(Event), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func (c *QueryCache) snapshotLocked(key Key, e *entry) Entry {
	return Entry{
		Key:       key,
		Payload:   e.payload,
		HasData:   e.hasData,
		FetchedAt: e.fetchedAt,
		UpdatedAt: e.updatedAt,
		Status:    e.status,
		Err:       e.err,
		Observers: len(c.observers[key]),
	}
}

func emit(obs []func(Event), ev Event) {
	for _, fn := range obs {
		fn(ev)
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
