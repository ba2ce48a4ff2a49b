package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/productcache/catalog"
	"github.com/briangreenhill/productcache/internal/config"
)

func newTestApp(t *testing.T, baseURL string) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Remote.BaseURL = baseURL
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestRunCLIVersionAndHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCLI(context.Background(), []string{"version"}, &out))
	assert.Equal(t, version+"\n", out.String())

	out.Reset()
	require.NoError(t, runCLI(context.Background(), nil, &out))
	for _, name := range []string{"list", "get", "search", "create", "update", "replace", "patch", "optimistic", "delete", "demo"} {
		assert.Contains(t, out.String(), "  "+name+" ")
	}
}

func TestIDArg(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{args: []string{"7"}, want: 7},
		{args: []string{"x"}, wantErr: true},
		{args: nil, wantErr: true},
	}
	for _, tt := range tests {
		got, err := idArg(tt.args)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestPatchArgs(t *testing.T) {
	in, err := patchArgs([]string{"3", `{"title":"X","price":2.5}`})
	require.NoError(t, err)
	assert.Equal(t, 3, in.ID)
	assert.Equal(t, catalog.Ptr("X"), in.Title)
	assert.Equal(t, catalog.Ptr(2.5), in.Price)

	_, err = patchArgs([]string{"3"})
	assert.Error(t, err)
	_, err = patchArgs([]string{"3", "{"})
	assert.Error(t, err)
}

func TestCommandsAgainstRemote(t *testing.T) {
	remote := newFakeCatalog(t)
	a := newTestApp(t, remote.URL())
	registry := newRegistry(a)
	ctx := context.Background()

	get, ok := registry.Get("get")
	require.True(t, ok)
	v, err := get.Run(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, "Essence Mascara", v.(catalog.Product).Title)

	list, _ := registry.Get("list")
	v, err = list.Run(ctx, []string{"-limit", "1"})
	require.NoError(t, err)
	assert.Equal(t, 2, v.(catalog.Page).Total)

	_, err = list.Run(ctx, []string{"-bogus"})
	assert.Error(t, err)

	create, _ := registry.Get("create")
	v, err = create.Run(ctx, []string{`{"title":"Lipstick","price":4}`})
	require.NoError(t, err)
	assert.Equal(t, 101, v.(catalog.Product).ID)

	replace, _ := registry.Get("replace")
	v, err = replace.Run(ctx, []string{"1", `{"title":"Mascara Pro","price":11,"stock":2}`})
	require.NoError(t, err)
	assert.Equal(t, 1, v.(catalog.Product).ID)
	cached, ok := a.store.CachedProduct(1)
	require.True(t, ok)
	assert.Equal(t, "Mascara Pro", cached.Title)
	_, err = replace.Run(ctx, []string{"1"})
	assert.Error(t, err)

	del, _ := registry.Get("delete")
	_, err = del.Run(ctx, []string{"2"})
	require.NoError(t, err)
}

func TestDemoCollapsesReads(t *testing.T) {
	remote := newFakeCatalog(t)
	a := newTestApp(t, remote.URL())

	demo, ok := newRegistry(a).Get("demo")
	require.True(t, ok)
	v, err := demo.Run(context.Background(), []string{"-readers", "6"})
	require.NoError(t, err)

	report := v.(demoReport)
	assert.Equal(t, 6, report.Readers)
	assert.Equal(t, "Essence Mascara (edited)", report.Optimistic.Title)
	assert.Empty(t, report.UpdateError)
	assert.Equal(t, int64(1), remote.gets.Load(), "concurrent reads of one product make one call")
	assert.Equal(t, uint64(2), report.Counters["fetch"])
}
