package catalog

import (
	"context"

	"github.com/briangreenhill/productcache/cache"
	"github.com/briangreenhill/productcache/mutation"
)

// Create adds a product. On success the new product is prepended to every
// cached list and stored under its own key.
func (s *Store) Create(ctx context.Context, in NewProduct) (Product, error) {
	m := mutation.Mutation[NewProduct, Product, struct{}]{
		Name:   "create-product",
		Fn:     s.remote.Create,
		Logger: s.logger,
		OnMutate: func(ctx context.Context, in NewProduct) (struct{}, error) {
			return struct{}{}, validateInput(in)
		},
		OnSuccess: func(p Product, _ NewProduct, _ struct{}) {
			s.updateLists(func(page Page) (Page, bool) {
				return page.prepend(p), true
			})
			s.cache.Set(s.ProductKey(p.ID), p)
		},
	}
	return m.Execute(ctx, in).Unwrap()
}

// Update sends the patch with PUT. Lists holding the product get the
// returned copy; the product's own entry is marked stale so the next read
// fetches the full record.
func (s *Store) Update(ctx context.Context, in ProductPatch) (Product, error) {
	return s.writeThrough(ctx, "update-product", s.remote.Update, in)
}

// Patch sends the patch with PATCH and applies the same cache policy as
// Update
func (s *Store) Patch(ctx context.Context, in ProductPatch) (Product, error) {
	return s.writeThrough(ctx, "patch-product", s.remote.Patch, in)
}

func (s *Store) writeThrough(ctx context.Context, name string, fn func(context.Context, ProductPatch) (Product, error), in ProductPatch) (Product, error) {
	m := mutation.Mutation[ProductPatch, Product, struct{}]{
		Name:   name,
		Fn:     keepID(fn),
		Logger: s.logger,
		OnMutate: func(ctx context.Context, in ProductPatch) (struct{}, error) {
			return struct{}{}, validateInput(in)
		},
		OnSuccess: func(p Product, in ProductPatch, _ struct{}) {
			s.replaceInLists(in.ID, p)
			s.cache.Invalidate(cache.Exact(s.ProductKey(in.ID)))
		},
	}
	return m.Execute(ctx, in).Unwrap()
}

// Replace sends a complete product with PUT. The returned product is the
// whole record, so it replaces the product's entry directly.
func (s *Store) Replace(ctx context.Context, p Product) (Product, error) {
	replace := func(ctx context.Context, p Product) (Product, error) {
		out, err := s.remote.Replace(ctx, p)
		if err == nil && out.ID == 0 {
			out.ID = p.ID
		}
		return out, err
	}
	m := mutation.Mutation[Product, Product, struct{}]{
		Name:   "replace-product",
		Fn:     replace,
		Logger: s.logger,
		OnMutate: func(ctx context.Context, p Product) (struct{}, error) {
			return struct{}{}, validateID(p.ID)
		},
		OnSuccess: func(out Product, in Product, _ struct{}) {
			s.replaceInLists(in.ID, out)
			s.cache.Set(s.ProductKey(in.ID), out)
		},
	}
	return m.Execute(ctx, p).Unwrap()
}

type optimisticSnapshot struct {
	previous    Product
	hadPrevious bool
	// the product as it was in each list the optimistic value was written to
	lists map[cache.Key]Product
}

// UpdateOptimistic writes the patch into the cache before the remote call
// returns. If the call fails the product entry and every list item touched
// are put back as they were. Whatever the outcome, the product entry and
// the touched lists are invalidated afterwards so the server's copy wins.
func (s *Store) UpdateOptimistic(ctx context.Context, in ProductPatch) (Product, error) {
	m := mutation.Mutation[ProductPatch, Product, optimisticSnapshot]{
		Name:     "update-product-optimistic",
		Fn:       keepID(s.remote.Update),
		Logger:   s.logger,
		OnMutate: s.applyOptimistic,
		OnError: func(_ error, in ProductPatch, snap optimisticSnapshot) bool {
			return s.rollback(in.ID, snap)
		},
		OnSettled: func(_ Product, _ error, in ProductPatch, snap optimisticSnapshot) {
			s.cache.Invalidate(cache.Exact(s.ProductKey(in.ID)))
			if len(snap.lists) > 0 {
				s.cache.Invalidate(func(k cache.Key) bool {
					_, ok := snap.lists[k]
					return ok
				})
			}
		},
	}
	return m.Execute(ctx, in).Unwrap()
}

func (s *Store) applyOptimistic(_ context.Context, in ProductPatch) (optimisticSnapshot, error) {
	snap := optimisticSnapshot{lists: make(map[cache.Key]Product)}
	if err := validateInput(in); err != nil {
		return snap, err
	}

	key := s.ProductKey(in.ID)
	// a fetch finishing now would overwrite the optimistic value
	s.cache.CancelInFlight(key)

	snap.previous, snap.hadPrevious = cache.GetAs[Product](s.cache, key)

	for _, k := range s.cache.Keys(cache.Lists(s.collection)) {
		cache.SetIfPresentAs(s.cache, k, func(page Page) (Page, bool) {
			i := page.indexOf(in.ID)
			if i < 0 {
				return page, false
			}
			snap.lists[k] = page.Items[i]
			return page.replaceAt(i, in.Apply(page.Items[i])), true
		})
	}

	if snap.hadPrevious {
		s.cache.Set(key, in.Apply(snap.previous))
	}
	return snap, nil
}

func (s *Store) rollback(id int, snap optimisticSnapshot) bool {
	if snap.hadPrevious {
		s.cache.Set(s.ProductKey(id), snap.previous)
	}
	for k, item := range snap.lists {
		cache.SetIfPresentAs(s.cache, k, func(page Page) (Page, bool) {
			i := page.indexOf(id)
			if i < 0 {
				return page, false
			}
			return page.replaceAt(i, item), true
		})
	}
	return snap.hadPrevious || len(snap.lists) > 0
}

// Delete removes a product. On success it is filtered out of every cached
// list, each list total drops by one, and the product's entry is removed.
func (s *Store) Delete(ctx context.Context, id int) (Product, error) {
	m := mutation.Mutation[int, Product, struct{}]{
		Name:   "delete-product",
		Fn:     s.remote.Delete,
		Logger: s.logger,
		OnMutate: func(ctx context.Context, id int) (struct{}, error) {
			return struct{}{}, validateID(id)
		},
		OnSuccess: func(_ Product, id int, _ struct{}) {
			s.updateLists(func(page Page) (Page, bool) {
				return page.without(id), true
			})
			s.cache.Remove(s.ProductKey(id))
		},
	}
	return m.Execute(ctx, id).Unwrap()
}

// keepID fills in the product id when the service answers an update
// without one, so the cached copy stays addressable
func keepID(fn func(context.Context, ProductPatch) (Product, error)) func(context.Context, ProductPatch) (Product, error) {
	return func(ctx context.Context, in ProductPatch) (Product, error) {
		p, err := fn(ctx, in)
		if err == nil && p.ID == 0 {
			p.ID = in.ID
		}
		return p, err
	}
}

func (s *Store) replaceInLists(id int, p Product) {
	s.updateLists(func(page Page) (Page, bool) {
		i := page.indexOf(id)
		if i < 0 {
			return page, false
		}
		return page.replaceAt(i, p), true
	})
}

func (s *Store) updateLists(fn func(Page) (Page, bool)) []cache.Key {
	return cache.UpdateWhereAs(s.cache, cache.Lists(s.collection), fn)
}
