package cache

import (
	"context"
	"strconv"
	"time"
)

// Read returns the payload for key, fetching it when the entry is missing,
// stale, failed or older than freshFor.
//
// At most one fetch runs per key. Concurrent readers wait for the same
// fetch and receive the same payload or error. A fetch that replaces a
// cancelled one starts only after the cancelled one has returned. The fetch
// runs on a context detached from the caller, so a reader giving up does not
// abort it for the others; only Invalidate, CancelInFlight, Remove and Clear
// do. On failure the entry keeps its last payload and moves to StatusError.
func (c *QueryCache) Read(ctx context.Context, key Key, fetch FetchFunc, freshFor time.Duration) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	now := c.now()
	e.touchedAt = now

	if e.hasData && e.status == StatusIdle && now.Sub(e.fetchedAt) < freshFor {
		payload := e.payload
		c.mu.Unlock()
		c.metrics.Hit()
		c.logger.Debug().Str("key", key.String()).Msg("cache hit")
		return payload, nil
	}

	c.metrics.Miss()
	joined := e.status == StatusFetching
	if !joined {
		e.prev = e.status
		e.status = StatusFetching
		e.gen = c.nextLocked()
		e.fetchCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
		e.done = make(chan struct{})
	}
	gen, fetchCtx, cancel, done := e.gen, e.fetchCtx, e.cancel, e.done
	prior := c.draining[key]

	// registered under the lock so a reader arriving before the fetch
	// settles always joins it
	ch := c.flights.DoChan(flightKey(key, gen), func() (any, error) {
		defer cancel()
		if prior != nil {
			select {
			case <-prior:
			case <-fetchCtx.Done():
				// done stays open until prior returns so later fetches keep waiting
				go func() {
					<-prior
					c.finishFetch(key, done)
				}()
				return nil, ErrCanceled
			}
		}
		defer c.finishFetch(key, done)
		return c.runFetch(fetchCtx, key, gen, fetch)
	})
	c.mu.Unlock()

	if joined {
		c.metrics.Shared()
		c.logger.Debug().Str("key", key.String()).Msg("cache join fetch")
	}

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) runFetch(ctx context.Context, key Key, gen uint64, fetch FetchFunc) (any, error) {
	c.metrics.Fetch()
	c.logger.Debug().Str("key", key.String()).Uint64("gen", gen).Msg("cache fetch")

	payload, err := fetch(ctx)
	if err != nil && ctx.Err() != nil {
		// only Invalidate, CancelInFlight, Remove and Clear cancel this context
		err = ErrCanceled
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		c.metrics.Drop()
		c.logger.Debug().Str("key", key.String()).Uint64("gen", gen).Msg("cache drop superseded response")
		if err != nil {
			return nil, err
		}
		return payload, nil
	}

	if err != nil {
		e.status, e.err = StatusError, err
		e.updatedAt = c.now()
		e.fetchCtx, e.cancel = nil, nil
		last := e.payload
		obs := c.observersLocked(key)
		c.mu.Unlock()

		c.logger.Debug().Str("key", key.String()).Err(err).Msg("cache fetch failed")
		emit(obs, Event{Type: EventError, Key: key, Payload: last, Err: err})
		return nil, err
	}

	c.setLocked(key, payload)
	obs := c.observersLocked(key)
	c.mu.Unlock()

	emit(obs, Event{Type: EventUpdated, Key: key, Payload: payload})
	return payload, nil
}

func (c *QueryCache) finishFetch(key Key, done chan struct{}) {
	close(done)
	c.mu.Lock()
	if c.draining[key] == done {
		delete(c.draining, key)
	}
	c.mu.Unlock()
}

func flightKey(key Key, gen uint64) string {
	return key.String() + "#" + strconv.FormatUint(gen, 10)
}
