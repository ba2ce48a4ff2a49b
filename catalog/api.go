package catalog

import (
	"context"
	"net/url"
	"path"
	"strconv"

	"github.com/briangreenhill/productcache/gateway"
)

const (
	DefaultCollection = "products"
	DefaultCreatePath = "add"
)

// Remote is the set of calls the store makes against the service
type Remote interface {
	List(ctx context.Context, params ListParams) (Page, error)
	Get(ctx context.Context, id int) (Product, error)
	Search(ctx context.Context, query string) (Page, error)
	Create(ctx context.Context, in NewProduct) (Product, error)
	Update(ctx context.Context, in ProductPatch) (Product, error)
	Replace(ctx context.Context, p Product) (Product, error)
	Patch(ctx context.Context, in ProductPatch) (Product, error)
	Delete(ctx context.Context, id int) (Product, error)
}

// API maps product operations onto REST calls through the gateway
type API struct {
	client     *gateway.Client
	collection string
	createPath string
}

type APIOption func(*API)

func WithCollection(name string) APIOption {
	return func(a *API) {
		if name != "" {
			a.collection = name
		}
	}
}

// WithCreatePath sets the path below the collection that accepts creates.
// Empty means the collection itself.
func WithCreatePath(p string) APIOption {
	return func(a *API) { a.createPath = p }
}

func NewAPI(client *gateway.Client, opts ...APIOption) *API {
	a := &API{
		client:     client,
		collection: DefaultCollection,
		createPath: DefaultCreatePath,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Collection returns the remote collection name
func (a *API) Collection() string { return a.collection }

func (a *API) List(ctx context.Context, params ListParams) (Page, error) {
	q := url.Values{}
	for k, v := range params.values() {
		q.Set(k, v)
	}
	var page Page
	err := a.client.Get(ctx, a.collection, q, a.pageOf(&page))
	return page, err
}

func (a *API) Get(ctx context.Context, id int) (Product, error) {
	if err := validateID(id); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Get(ctx, a.itemPath(id), nil, &p)
	return p, err
}

func (a *API) Search(ctx context.Context, query string) (Page, error) {
	var page Page
	err := a.client.Get(ctx, path.Join(a.collection, "search"), url.Values{"q": {query}}, a.pageOf(&page))
	return page, err
}

func (a *API) Create(ctx context.Context, in NewProduct) (Product, error) {
	if err := validateInput(in); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Post(ctx, path.Join(a.collection, a.createPath), in, &p)
	return p, err
}

// Update sends the patch fields with PUT
func (a *API) Update(ctx context.Context, in ProductPatch) (Product, error) {
	if err := validateInput(in); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Put(ctx, a.itemPath(in.ID), in, &p)
	return p, err
}

// Replace sends a complete product with PUT
func (a *API) Replace(ctx context.Context, in Product) (Product, error) {
	if err := validateID(in.ID); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Put(ctx, a.itemPath(in.ID), in, &p)
	return p, err
}

func (a *API) Patch(ctx context.Context, in ProductPatch) (Product, error) {
	if err := validateInput(in); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Patch(ctx, a.itemPath(in.ID), in, &p)
	return p, err
}

// Delete removes the product. Services that answer with an empty body
// yield a zero Product.
func (a *API) Delete(ctx context.Context, id int) (Product, error) {
	if err := validateID(id); err != nil {
		return Product{}, err
	}
	var p Product
	err := a.client.Delete(ctx, a.itemPath(id), &p)
	return p, err
}

func (a *API) pageOf(p *Page) *collectionPage {
	return &collectionPage{page: p, collection: a.collection}
}

func (a *API) itemPath(id int) string {
	return path.Join(a.collection, strconv.Itoa(id))
}

var _ Remote = (*API)(nil)
