package cache

import (
	"context"
	"fmt"
	"time"
)

// GetAs returns the payload of key as T. It reports false when the entry is
// missing, holds no data or holds a different type.
func GetAs[T any](r Reader, key Key) (T, bool) {
	var zero T
	e, ok := r.Get(key)
	if !ok || !e.HasData {
		return zero, false
	}
	v, ok := e.Payload.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// ReadAs is Read with a typed fetch function
func ReadAs[T any](ctx context.Context, r Reader, key Key, fetch func(ctx context.Context) (T, error), freshFor time.Duration) (T, error) {
	var zero T
	v, err := r.Read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, freshFor)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T, want %T", key, v, zero)
	}
	return out, nil
}

// SetIfPresentAs is SetIfPresent for entries holding a T. Entries holding
// another type are left alone.
func SetIfPresentAs[T any](w Writer, key Key, fn func(old T) (T, bool)) bool {
	return w.SetIfPresent(key, typed(fn))
}

// UpdateWhereAs is UpdateWhere for entries holding a T
func UpdateWhereAs[T any](w Writer, match Predicate, fn func(old T) (T, bool)) []Key {
	return w.UpdateWhere(match, typed(fn))
}

func typed[T any](fn func(old T) (T, bool)) UpdateFunc {
	return func(old any) (any, bool) {
		v, ok := old.(T)
		if !ok {
			return old, false
		}
		return fn(v)
	}
}
