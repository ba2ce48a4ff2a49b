package jobs

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/productcache/cache"
)

type fakeCache struct {
	collected   atomic.Int64
	invalidated atomic.Int64
}

func (f *fakeCache) Collect() int {
	f.collected.Add(1)
	return 0
}

func (f *fakeCache) Invalidate(match cache.Predicate) []cache.Key {
	f.invalidated.Add(1)
	return nil
}

func TestSchedulerRunsTasks(t *testing.T) {
	fc := &fakeCache{}
	s := NewScheduler(fc, zerolog.Nop())
	require.NoError(t, s.Collect("@every 1s"))
	require.NoError(t, s.InvalidateLists("@every 1s", "products"))

	s.Start()
	assert.Eventually(t, func() bool {
		return fc.collected.Load() > 0 && fc.invalidated.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
	s.Stop(time.Second)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&fakeCache{}, zerolog.Nop())
	assert.Error(t, s.Collect("not a schedule"))
}

func TestCollectEvictsThroughCache(t *testing.T) {
	now := time.Now()
	qc := cache.New(cache.WithGCTime(time.Minute), cache.WithClock(func() time.Time { return now }))
	qc.Set(cache.EntityKey("products", 1), "p1")
	now = now.Add(2 * time.Minute)

	var m Maintainer = qc
	assert.Equal(t, 1, m.Collect())
	assert.Zero(t, qc.Len())
}
