package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/productcache/catalog"
	"github.com/briangreenhill/productcache/cli"
)

func newRegistry(a *app) *cli.Registry {
	r := cli.NewRegistry()
	r.Register(cli.New("list", "[-limit N] [-skip N] [-select a,b]  List products", a.list))
	r.Register(cli.New("get", "<id>  Show one product", a.get))
	r.Register(cli.New("search", "<query>  Search products", a.search))
	r.Register(cli.New("create", "'<json>'  Create a product", a.create))
	r.Register(cli.New("update", "<id> '<json>'  Update a product (PUT)", a.update))
	r.Register(cli.New("replace", "<id> '<json>'  Replace a product with a full record (PUT)", a.replace))
	r.Register(cli.New("patch", "<id> '<json>'  Update a product (PATCH)", a.patch))
	r.Register(cli.New("optimistic", "<id> '<json>'  Update a product optimistically", a.optimistic))
	r.Register(cli.New("delete", "<id>  Delete a product", a.delete))
	r.Register(cli.New("demo", "[-id N] [-readers N]  Show request collapsing and cache writes", a.demo))
	return r
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) list(ctx context.Context, args []string) (any, error) {
	fs := newFlags("list")
	limit := fs.Int("limit", 0, "page size")
	skip := fs.Int("skip", 0, "items to skip")
	sel := fs.String("select", "", "comma separated fields")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	params := catalog.ListParams{Limit: *limit, Skip: *skip}
	if *sel != "" {
		params.Select = strings.Split(*sel, ",")
	}
	return a.store.Products(ctx, params)
}

func (a *app) get(ctx context.Context, args []string) (any, error) {
	id, err := idArg(args)
	if err != nil {
		return nil, err
	}
	return a.store.Product(ctx, id)
}

func (a *app) search(ctx context.Context, args []string) (any, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return nil, fmt.Errorf("query required")
	}
	return a.store.Search(ctx, q)
}

func (a *app) create(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected one JSON argument")
	}
	var in catalog.NewProduct
	if err := sonic.UnmarshalString(args[0], &in); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return a.store.Create(ctx, in)
}

func (a *app) update(ctx context.Context, args []string) (any, error) {
	in, err := patchArgs(args)
	if err != nil {
		return nil, err
	}
	return a.store.Update(ctx, in)
}

func (a *app) replace(ctx context.Context, args []string) (any, error) {
	id, err := idArg(args)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("expected <id> '<json>'")
	}
	var p catalog.Product
	if err := sonic.UnmarshalString(args[1], &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	p.ID = id
	return a.store.Replace(ctx, p)
}

func (a *app) patch(ctx context.Context, args []string) (any, error) {
	in, err := patchArgs(args)
	if err != nil {
		return nil, err
	}
	return a.store.Patch(ctx, in)
}

func (a *app) optimistic(ctx context.Context, args []string) (any, error) {
	in, err := patchArgs(args)
	if err != nil {
		return nil, err
	}
	return a.store.UpdateOptimistic(ctx, in)
}

func (a *app) delete(ctx context.Context, args []string) (any, error) {
	id, err := idArg(args)
	if err != nil {
		return nil, err
	}
	return a.store.Delete(ctx, id)
}

type demoEntry struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

type demoReport struct {
	Readers     int               `json:"readers"`
	Product     catalog.Product   `json:"product"`
	Optimistic  catalog.Product   `json:"optimistic_value"`
	Updated     catalog.Product   `json:"updated"`
	UpdateError string            `json:"update_error,omitempty"`
	Entries     []demoEntry       `json:"entries"`
	Counters    map[string]uint64 `json:"counters"`
	Took        string            `json:"took"`
}

// demo reads one product from many goroutines at once, which the cache
// serves with a single remote call, then runs an optimistic update and
// reports what the cache holds
func (a *app) demo(ctx context.Context, args []string) (any, error) {
	fs := newFlags("demo")
	id := fs.Int("id", 1, "product id")
	readers := fs.Int("readers", 5, "concurrent readers")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *readers < 1 {
		return nil, fmt.Errorf("readers must be at least 1")
	}
	start := time.Now()

	results := make([]catalog.Product, *readers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			p, err := a.store.Product(gctx, *id)
			results[i] = p
			return err
		})
	}
	g.Go(func() error {
		_, err := a.store.Products(gctx, catalog.ListParams{Limit: 10})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := demoReport{Readers: *readers, Product: results[0]}
	title := results[0].Title + " (edited)"
	report.Optimistic = catalog.ProductPatch{ID: *id, Title: &title}.Apply(results[0])
	updated, err := a.store.UpdateOptimistic(ctx, catalog.ProductPatch{ID: *id, Title: &title})
	if err != nil {
		report.UpdateError = err.Error()
	}
	report.Updated = updated

	for _, e := range a.cache.Snapshot() {
		report.Entries = append(report.Entries, demoEntry{Key: e.Key.String(), Status: e.Status.String()})
	}
	report.Counters = a.metrics.Counts()
	report.Took = time.Since(start).Round(time.Millisecond).String()
	return report, nil
}

func idArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("product id required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid product id %q", args[0])
	}
	return id, nil
}

func patchArgs(args []string) (catalog.ProductPatch, error) {
	var in catalog.ProductPatch
	id, err := idArg(args)
	if err != nil {
		return in, err
	}
	if len(args) != 2 {
		return in, fmt.Errorf("expected <id> '<json>'")
	}
	if err := sonic.UnmarshalString(args[1], &in); err != nil {
		return in, fmt.Errorf("decode patch: %w", err)
	}
	in.ID = id
	return in, nil
}
