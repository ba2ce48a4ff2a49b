package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/productcache/cache"
)

// fakeRemote serves a fixed set of products. Calls can be held on gate and
// failed with failWith.
type fakeRemote struct {
	mu       sync.Mutex
	products []Product
	nextID   int
	failWith error
	gate     chan struct{}
	// answer updates without an id, as some services do
	omitID bool

	listCalls   atomic.Int64
	getCalls    atomic.Int64
	updateCalls atomic.Int64
	started     chan string
}

func newFakeRemote(products ...Product) *fakeRemote {
	return &fakeRemote{products: products, nextID: 100, started: make(chan string, 16)}
}

func (f *fakeRemote) wait(ctx context.Context, op string) error {
	select {
	case f.started <- op:
	default:
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

func (f *fakeRemote) List(ctx context.Context, params ListParams) (Page, error) {
	f.listCalls.Add(1)
	if err := f.wait(ctx, "list"); err != nil {
		return Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]Product(nil), f.products...)
	return Page{Items: items, Total: len(items), Limit: params.Limit}, nil
}

func (f *fakeRemote) Get(ctx context.Context, id int) (Product, error) {
	f.getCalls.Add(1)
	if err := f.wait(ctx, "get"); err != nil {
		return Product{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, errors.New("not found")
}

func (f *fakeRemote) Search(ctx context.Context, query string) (Page, error) {
	return f.List(ctx, ListParams{})
}

func (f *fakeRemote) Create(ctx context.Context, in NewProduct) (Product, error) {
	if err := f.wait(ctx, "create"); err != nil {
		return Product{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return Product{ID: f.nextID, Title: in.Title, Price: in.Price, Stock: in.Stock}, nil
}

func (f *fakeRemote) Update(ctx context.Context, in ProductPatch) (Product, error) {
	f.updateCalls.Add(1)
	if err := f.wait(ctx, "update"); err != nil {
		return Product{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := in.Apply(Product{ID: in.ID})
	for i, p := range f.products {
		if p.ID == in.ID {
			f.products[i] = in.Apply(p)
			out = f.products[i]
		}
	}
	if f.omitID {
		out.ID = 0
	}
	return out, nil
}

func (f *fakeRemote) Replace(ctx context.Context, p Product) (Product, error) {
	if err := f.wait(ctx, "replace"); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (f *fakeRemote) Patch(ctx context.Context, in ProductPatch) (Product, error) {
	return f.Update(ctx, in)
}

func (f *fakeRemote) Delete(ctx context.Context, id int) (Product, error) {
	if err := f.wait(ctx, "delete"); err != nil {
		return Product{}, err
	}
	return Product{ID: id}, nil
}

func sampleProducts() []Product {
	return []Product{
		{ID: 1, Title: "Essence Mascara", Price: 9.99, Stock: 5},
		{ID: 2, Title: "Eyeshadow Palette", Price: 19.99, Stock: 44},
	}
}

func newTestStore(remote Remote) (*Store, *cache.QueryCache) {
	qc := cache.New()
	return NewStore(remote, qc, WithStaleTime(time.Minute)), qc
}

func TestProductsServedFromCacheWhileFresh(t *testing.T) {
	remote := newFakeRemote(sampleProducts()...)
	store, _ := newTestStore(remote)
	ctx := context.Background()

	first, err := store.Products(ctx, ListParams{Limit: 10})
	require.NoError(t, err)
	second, err := store.Products(ctx, ListParams{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), remote.listCalls.Load())

	_, err = store.Products(ctx, ListParams{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), remote.listCalls.Load(), "different params are a different key")
}

func TestConcurrentProductReadsShareOneCall(t *testing.T) {
	remote := newFakeRemote(sampleProducts()...)
	remote.gate = make(chan struct{})
	store, _ := newTestStore(remote)

	const readers = 5
	var wg sync.WaitGroup
	results := make([]Product, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Product(context.Background(), 1)
		}(i)
	}

	<-remote.started
	// let the other readers join before releasing the call
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	assert.Equal(t, int64(1), remote.getCalls.Load())
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Essence Mascara", results[i].Title)
	}
}

func TestProductRejectsInvalidID(t *testing.T) {
	remote := newFakeRemote()
	store, _ := newTestStore(remote)

	_, err := store.Product(context.Background(), 0)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
	assert.Equal(t, int64(0), remote.getCalls.Load())
}

func TestSearchUsesItsOwnListKey(t *testing.T) {
	store, qc := newTestStore(newFakeRemote(sampleProducts()...))

	_, err := store.Search(context.Background(), "phone")
	require.NoError(t, err)

	keys := qc.Keys(cache.Lists(DefaultCollection))
	require.Len(t, keys, 1)
	assert.Equal(t, "products?q=phone", keys[0].String())
}

func TestCachedProductDoesNotFetch(t *testing.T) {
	remote := newFakeRemote(sampleProducts()...)
	store, _ := newTestStore(remote)

	_, ok := store.CachedProduct(1)
	assert.False(t, ok)
	assert.Equal(t, int64(0), remote.getCalls.Load())

	_, err := store.Product(context.Background(), 1)
	require.NoError(t, err)

	p, ok := store.CachedProduct(1)
	require.True(t, ok)
	assert.Equal(t, 1, p.ID)
}
