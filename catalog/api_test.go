package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/productcache/gateway"
)

func newTestAPI(t *testing.T, h http.HandlerFunc, opts ...APIOption) *API {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := gateway.New(srv.URL)
	require.NoError(t, err)
	return NewAPI(client, opts...)
}

func TestAPIListDecodesCollectionField(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "price,title", r.URL.Query().Get("select"))
		_, _ = io.WriteString(w, `{"products":[{"id":1,"title":"A","price":10}],"total":194,"skip":0,"limit":10}`)
	})

	page, err := api.List(context.Background(), ListParams{Limit: 10, Select: []string{"title", "price"}})
	require.NoError(t, err)
	assert.Equal(t, 194, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, Product{ID: 1, Title: "A", Price: 10}, page.Items[0])
}

func TestAPIListReadsConfiguredCollectionField(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/widgets", r.URL.Path)
		_, _ = io.WriteString(w, `{"tags":[{"id":9}],"widgets":[{"id":1,"title":"W","price":1}],"total":1}`)
	}, WithCollection("widgets"))

	for i := 0; i < 5; i++ {
		page, err := api.List(context.Background(), ListParams{})
		require.NoError(t, err)
		assert.Equal(t, []Product{{ID: 1, Title: "W", Price: 1}}, page.Items)
	}
}

func TestAPISearch(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/search", r.URL.Path)
		assert.Equal(t, "phone", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `{"items":[],"total":0}`)
	})

	page, err := api.Search(context.Background(), "phone")
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestAPICreatePostsToCreatePath(t *testing.T) {
	tests := []struct {
		name string
		opts []APIOption
		path string
	}{
		{name: "default", path: "/products/add"},
		{name: "collection root", opts: []APIOption{WithCreatePath("")}, path: "/products"},
		{name: "other collection", opts: []APIOption{WithCollection("items"), WithCreatePath("new")}, path: "/items/new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "Lipstick", body["title"])
				_, _ = io.WriteString(w, `{"id":195,"title":"Lipstick","price":3}`)
			}, tt.opts...)

			p, err := api.Create(context.Background(), NewProduct{Title: "Lipstick", Price: 3})
			require.NoError(t, err)
			assert.Equal(t, 195, p.ID)
		})
	}
}

func TestAPIPatchSendsOnlySetFields(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/products/7", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"price": 20.0}, body)
		_, _ = io.WriteString(w, `{"id":7,"title":"A","price":20}`)
	})

	p, err := api.Patch(context.Background(), ProductPatch{ID: 7, Price: Ptr(20.0)})
	require.NoError(t, err)
	assert.Equal(t, 20.0, p.Price)
}

func TestAPIValidatesBeforeCalling(t *testing.T) {
	called := false
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	ctx := context.Background()

	_, err := api.Get(ctx, -1)
	require.Error(t, err)
	_, err = api.Update(ctx, ProductPatch{})
	require.Error(t, err)
	_, err = api.Delete(ctx, 0)
	require.Error(t, err)
	_, err = api.Create(ctx, NewProduct{Title: "x", DiscountPercentage: 101})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "discountPercentage", verr.Field)

	assert.False(t, called)
}

func TestAPIDeleteNotFound(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Product with id '9' not found"}`)
	})

	_, err := api.Delete(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))
}

func TestPageAcceptsItemsOrCollectionField(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Page
	}{
		{
			name: "items",
			in:   `{"items":[{"id":1,"title":"A","price":1}],"total":1}`,
			want: Page{Items: []Product{{ID: 1, Title: "A", Price: 1}}, Total: 1},
		},
		{
			name: "products",
			in:   `{"products":[{"id":2,"title":"B","price":2}],"total":5,"skip":1,"limit":1}`,
			want: Page{Items: []Product{{ID: 2, Title: "B", Price: 2}}, Total: 5, Skip: 1, Limit: 1},
		},
		{
			name: "other arrays ignored",
			in:   `{"tags":[{"id":9}],"products":[{"id":3,"title":"C","price":3}],"related":[{"id":8}],"total":1}`,
			want: Page{Items: []Product{{ID: 3, Title: "C", Price: 3}}, Total: 1},
		},
		{
			name: "items wins over collection",
			in:   `{"products":[{"id":9}],"items":[{"id":4,"title":"D","price":4}]}`,
			want: Page{Items: []Product{{ID: 4, Title: "D", Price: 4}}},
		},
		{
			name: "no list",
			in:   `{"tags":[{"id":9}],"total":0}`,
			want: Page{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Page
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPageHelpersCopyOnWrite(t *testing.T) {
	orig := Page{Items: []Product{{ID: 1}, {ID: 2}}, Total: 2}

	replaced := orig.replaceAt(0, Product{ID: 1, Title: "X"})
	assert.Empty(t, orig.Items[0].Title)
	assert.Equal(t, "X", replaced.Items[0].Title)

	trimmed := orig.without(2)
	assert.Len(t, orig.Items, 2)
	assert.Equal(t, Page{Items: []Product{{ID: 1}}, Total: 1}, trimmed)

	grown := Page{}.prepend(Product{ID: 3})
	assert.Equal(t, 1, grown.Total)

	empty := Page{}.without(1)
	assert.Zero(t, empty.Total)
}

func TestProductPatchApply(t *testing.T) {
	p := Product{ID: 1, Title: "A", Price: 10, Stock: 3}
	got := ProductPatch{ID: 1, Title: Ptr("B"), Stock: Ptr(0)}.Apply(p)
	assert.Equal(t, Product{ID: 1, Title: "B", Price: 10, Stock: 0}, got)
}

func TestEmptyImagesPatchIsNoChange(t *testing.T) {
	p := Product{ID: 1, Title: "A", Images: []string{"a.png"}}
	patch := ProductPatch{ID: 1, Images: []string{}}

	body, err := json.Marshal(patch)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))
	assert.Equal(t, p, patch.Apply(p))

	got := ProductPatch{ID: 1, Images: []string{"b.png"}}.Apply(p)
	assert.Equal(t, []string{"b.png"}, got.Images)
}
