// Package cache provides a keyed, in-memory query cache for REST resources
// with freshness-aware reads, request collapsing, invalidation and
// generation-checked writes.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCanceled is returned to readers whose shared fetch was cancelled
	// by CancelInFlight, Remove or Clear.
	ErrCanceled = errors.New("cache: fetch canceled")
)

// Status describes the state of a cache entry
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusStale
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusStale:
		return "stale"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets entry snapshots render the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry is a point-in-time copy of a cached entry with metadata
type Entry struct {
	Key       Key       `json:"key"`
	Payload   any       `json:"payload,omitempty"`
	HasData   bool      `json:"has_data"`
	FetchedAt time.Time `json:"fetched_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`
	Err       error     `json:"-"`
	Observers int       `json:"observers"`
}

// FetchFunc loads the payload for a key from the remote source
type FetchFunc func(ctx context.Context) (any, error)

// UpdateFunc derives a new payload from the current one.
// Returning false leaves the entry unchanged.
type UpdateFunc func(old any) (any, bool)

// Reader defines the interface for reading cache entries
type Reader interface {
	// Get returns a copy of the entry for key, if one exists
	Get(key Key) (Entry, bool)

	// Read returns the cached payload when fresh, otherwise fetches it,
	// collapsing concurrent reads of the same key into one fetch
	Read(ctx context.Context, key Key, fetch FetchFunc, freshFor time.Duration) (any, error)

	// Keys lists the keys matching the predicate
	Keys(match Predicate) []Key
}

// Writer defines the interface for writing cache entries
type Writer interface {
	Set(key Key, payload any)
	SetIfPresent(key Key, fn UpdateFunc) bool
	UpdateWhere(match Predicate, fn UpdateFunc) []Key
	Invalidate(match Predicate) []Key
	Remove(key Key)
	CancelInFlight(key Key) bool
}

// ReadWriter combines both cache operations
type ReadWriter interface {
	Reader
	Writer
}

// EventType identifies what happened to an observed entry
type EventType int

const (
	EventUpdated EventType = iota
	EventInvalidated
	EventRemoved
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to observers of a key
type Event struct {
	Type    EventType
	Key     Key
	Payload any
	Err     error
}

// Metrics records what the cache is doing. Implementations must be safe
// for concurrent use.
type Metrics interface {
	Hit()
	Miss()
	Fetch()
	Shared()
	Drop()
	Evict()
}

// NoopMetrics ignores all events
type NoopMetrics struct{}

func (NoopMetrics) Hit()    {}
func (NoopMetrics) Miss()   {}
func (NoopMetrics) Fetch()  {}
func (NoopMetrics) Shared() {}
func (NoopMetrics) Drop()   {}
func (NoopMetrics) Evict()  {}
