package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/productcache/cache"
)

func TestCacheMetricsCountsReads(t *testing.T) {
	m := NewCacheMetrics()
	qc := cache.New(cache.WithMetrics(m))
	key := cache.EntityKey("products", 1)
	fetch := func(ctx context.Context) (any, error) { return "p1", nil }

	_, err := qc.Read(context.Background(), key, fetch, time.Minute)
	require.NoError(t, err)
	_, err = qc.Read(context.Background(), key, fetch, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.miss))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetch))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hit))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.drop))

	counts := m.Counts()
	assert.Equal(t, uint64(1), counts["hit"])
	assert.Equal(t, uint64(0), counts["shared"])
}

func TestHandlerExposesEntriesGauge(t *testing.T) {
	m := NewCacheMetrics()
	qc := cache.New(cache.WithMetrics(m))
	m.TrackEntries(qc.Len)
	qc.Set(cache.EntityKey("products", 1), "p1")
	m.Evict()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "productcache_cache_entries 1")
	assert.Contains(t, string(body), `productcache_cache_events_total{event="evict"} 1`)
}
