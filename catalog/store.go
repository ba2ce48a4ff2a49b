package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/productcache/cache"
)

// DefaultStaleTime is how long a fetched result is served without asking
// the remote again
const DefaultStaleTime = 5 * time.Minute

// Store serves product reads from the cache and runs product writes with
// the cache policy of each operation
type Store struct {
	remote     Remote
	cache      cache.ReadWriter
	collection string
	staleTime  time.Duration
	logger     zerolog.Logger
}

type StoreOption func(*Store)

func WithStaleTime(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.staleTime = d
		}
	}
}

func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithStoreCollection names the collection used in cache keys. It should
// match the API's collection.
func WithStoreCollection(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

func NewStore(remote Remote, qc cache.ReadWriter, opts ...StoreOption) *Store {
	s := &Store{
		remote:     remote,
		cache:      qc,
		collection: DefaultCollection,
		staleTime:  DefaultStaleTime,
		logger:     zerolog.Nop(),
	}
	if a, ok := remote.(*API); ok {
		s.collection = a.Collection()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Collection returns the collection used in cache keys
func (s *Store) Collection() string { return s.collection }

// ListKey is the cache key of a collection query
func (s *Store) ListKey(params ListParams) cache.Key {
	return cache.ListKey(s.collection, params.values())
}

// SearchKey is the cache key of a search. Searches are list entries, so
// writes reach them like any other list.
func (s *Store) SearchKey(query string) cache.Key {
	return cache.ListKey(s.collection, map[string]string{"q": query})
}

// ProductKey is the cache key of a single product
func (s *Store) ProductKey(id int) cache.Key {
	return cache.EntityKey(s.collection, id)
}

// Products returns a page of the collection
func (s *Store) Products(ctx context.Context, params ListParams) (Page, error) {
	return cache.ReadAs(ctx, s.cache, s.ListKey(params), func(ctx context.Context) (Page, error) {
		return s.remote.List(ctx, params)
	}, s.staleTime)
}

// Product returns a single product
func (s *Store) Product(ctx context.Context, id int) (Product, error) {
	if err := validateID(id); err != nil {
		return Product{}, err
	}
	return cache.ReadAs(ctx, s.cache, s.ProductKey(id), func(ctx context.Context) (Product, error) {
		return s.remote.Get(ctx, id)
	}, s.staleTime)
}

// Search returns the products matching query
func (s *Store) Search(ctx context.Context, query string) (Page, error) {
	return cache.ReadAs(ctx, s.cache, s.SearchKey(query), func(ctx context.Context) (Page, error) {
		return s.remote.Search(ctx, query)
	}, s.staleTime)
}

// CachedProducts returns the last known page without fetching, stale or not
func (s *Store) CachedProducts(params ListParams) (Page, bool) {
	return cache.GetAs[Page](s.cache, s.ListKey(params))
}

// CachedProduct returns the last known product without fetching
func (s *Store) CachedProduct(id int) (Product, bool) {
	return cache.GetAs[Product](s.cache, s.ProductKey(id))
}
