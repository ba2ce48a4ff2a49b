// Package mutation runs a remote write together with the cache policy that
// surrounds it: an optional optimistic step before the call, and success,
// failure and settle steps after it.
package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the position of a mutation in its lifecycle:
// idle → pending → {committed, failed, rolled-back} → settled
type State int

const (
	StateIdle State = iota
	StatePending
	StateCommitted
	StateFailed
	StateRolledBack
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateRolledBack:
		return "rolled-back"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Context is owned by one execution. Snapshot holds whatever OnMutate
// captured for rollback and is dropped when the mutation settles.
type Context[Snap any] struct {
	ID        uuid.UUID
	Name      string
	StartedAt time.Time
	State     State
	Snapshot  Snap
}

// Result is the settled outcome of an execution. Outcome is the state the
// mutation reached before settling: committed, failed or rolled-back.
type Result[Out any] struct {
	ID      uuid.UUID
	Value   Out
	Err     error
	Outcome State
}

// OK reports whether the remote write succeeded
func (r Result[Out]) OK() bool { return r.Err == nil }

// Unwrap returns the value and error in the usual Go form
func (r Result[Out]) Unwrap() (Out, error) { return r.Value, r.Err }

// Mutation describes one kind of remote write. Only Fn is required.
type Mutation[In, Out, Snap any] struct {
	Name string
	Fn   func(ctx context.Context, in In) (Out, error)

	// OnMutate runs before Fn. An error aborts the mutation before any
	// remote call is made and is returned as the result error.
	OnMutate func(ctx context.Context, in In) (Snap, error)
	// OnSuccess applies the cache policy for a committed write
	OnSuccess func(out Out, in In, snap Snap)
	// OnError restores the cache from the snapshot. Returning true marks
	// the mutation rolled back.
	OnError func(err error, in In, snap Snap) (rolledBack bool)
	// OnSettled always runs once Fn has returned
	OnSettled func(out Out, err error, in In, snap Snap)

	Logger zerolog.Logger
}

// Execute runs the mutation to completion
func (m Mutation[In, Out, Snap]) Execute(ctx context.Context, in In) Result[Out] {
	mc := &Context[Snap]{
		ID:        uuid.New(),
		Name:      m.Name,
		StartedAt: time.Now(),
		State:     StateIdle,
	}
	log := m.Logger.With().Str("mutation", m.Name).Str("mutation_id", mc.ID.String()).Logger()

	if m.OnMutate != nil {
		snap, err := m.OnMutate(ctx, in)
		if err != nil {
			log.Warn().Err(err).Msg("mutation rejected")
			var zero Out
			return Result[Out]{ID: mc.ID, Value: zero, Err: err, Outcome: StateFailed}
		}
		mc.Snapshot = snap
	}
	mc.State = StatePending

	out, err := m.Fn(ctx, in)
	if err != nil {
		mc.State = StateFailed
		if m.OnError != nil && m.OnError(err, in, mc.Snapshot) {
			mc.State = StateRolledBack
		}
		log.Warn().Err(err).Str("outcome", mc.State.String()).Dur("took", time.Since(mc.StartedAt)).Msg("mutation failed")
	} else {
		mc.State = StateCommitted
		if m.OnSuccess != nil {
			m.OnSuccess(out, in, mc.Snapshot)
		}
		log.Info().Dur("took", time.Since(mc.StartedAt)).Msg("mutation committed")
	}

	outcome := mc.State
	if m.OnSettled != nil {
		m.OnSettled(out, err, in, mc.Snapshot)
	}
	mc.State = StateSettled
	var zero Snap
	mc.Snapshot = zero

	return Result[Out]{ID: mc.ID, Value: out, Err: err, Outcome: outcome}
}
