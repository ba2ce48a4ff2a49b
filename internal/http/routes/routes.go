package routes

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/productcache/cache"
	"github.com/briangreenhill/productcache/catalog"
	"github.com/briangreenhill/productcache/gateway"
	appmw "github.com/briangreenhill/productcache/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

type Server struct {
	Router  *chi.Mux
	Store   *catalog.Store
	Cache   *cache.QueryCache
	Metrics http.Handler
}

type ServerOptions struct {
	Store *catalog.Store
	Cache *cache.QueryCache
	// Metrics serves /metrics when set
	Metrics http.Handler
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Store: opts.Store, Cache: opts.Cache, Metrics: opts.Metrics}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/products", func(pr chi.Router) {
		pr.Get("/", s.handleList)
		pr.Get("/search", s.handleSearch)
		pr.Get("/{id}", s.handleGet)
		pr.Get("/{id}/watch", s.handleWatch)
		pr.Delete("/{id}", s.handleDelete)

		pr.Group(func(wr chi.Router) {
			wr.Use(appmw.RequireJSON)
			wr.Use(appmw.Optimistic)
			wr.Post("/", s.handleCreate)
			wr.Put("/{id}", s.handleUpdate)
			wr.Patch("/{id}", s.handleUpdate)
		})
	})

	r.Get("/cache", s.handleCacheSnapshot)
	r.Post("/cache/invalidate", s.handleInvalidate)
	r.Post("/cache/warm", s.handleWarm)

	return s
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := s.Store.Products(r.Context(), params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "q required", http.StatusBadRequest)
		return
	}
	page, err := s.Store.Search(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.Store.Product(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewProduct
	if err := readJSON(r, &in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.Store.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// handleUpdate serves PUT and PATCH. Optimistic requests go through the
// optimistic path whatever the method.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var in catalog.ProductPatch
	if err := readJSON(r, &in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in.ID = id

	var p catalog.Product
	switch {
	case appmw.IsOptimistic(r.Context()):
		p, err = s.Store.UpdateOptimistic(r.Context(), in)
	case r.Method == http.MethodPatch:
		p, err = s.Store.Patch(r.Context(), in)
	default:
		p, err = s.Store.Update(r.Context(), in)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.Store.Delete(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p.ID == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

type entryView struct {
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	HasData   bool      `json:"has_data"`
	FetchedAt time.Time `json:"fetched_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Observers int       `json:"observers"`
	Error     string    `json:"error,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

func (s *Server) handleCacheSnapshot(w http.ResponseWriter, r *http.Request) {
	withPayload, _ := strconv.ParseBool(r.URL.Query().Get("payload"))
	entries := s.Cache.Snapshot()
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{
			Key:       e.Key.String(),
			Status:    e.Status.String(),
			HasData:   e.HasData,
			FetchedAt: e.FetchedAt,
			UpdatedAt: e.UpdatedAt,
			Observers: e.Observers,
		}
		if e.Err != nil {
			v.Error = e.Err.Error()
		}
		if withPayload {
			v.Payload = e.Payload
		}
		out = append(out, v)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleInvalidate marks every cached entry stale, or only the lists with
// ?scope=lists
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	match := cache.All()
	if r.URL.Query().Get("scope") == "lists" {
		match = cache.Lists(s.Store.Collection())
	}
	keys := s.Cache.Invalidate(match)
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"invalidated": names})
}

type warmRequest struct {
	Limit int   `json:"limit"`
	IDs   []int `json:"ids"`
}

// handleWarm loads the first page and the given products concurrently
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var in warmRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)
	g.Go(func() error {
		_, err := s.Store.Products(ctx, catalog.ListParams{Limit: in.Limit})
		return err
	})
	for _, id := range in.IDs {
		g.Go(func() error {
			_, err := s.Store.Product(ctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": s.Cache.Len()})
}

// fail maps an error onto a status code: validation 400, remote statuses
// passed through, transport failures 502 and timeouts 504
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	var nerr *gateway.NetworkError
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	if code, ok := gateway.StatusCode(err); ok {
		return code
	}
	switch {
	case errors.Is(err, cache.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func listParams(r *http.Request) (catalog.ListParams, error) {
	q := r.URL.Query()
	var p catalog.ListParams
	var err error
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil || p.Limit < 0 {
			return p, errors.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("skip"); v != "" {
		if p.Skip, err = strconv.Atoi(v); err != nil || p.Skip < 0 {
			return p, errors.Errorf("invalid skip %q", v)
		}
	}
	if v := q.Get("select"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				p.Select = append(p.Select, f)
			}
		}
	}
	return p, nil
}

func productID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid product id %q", raw)
	}
	return id, nil
}

func readJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}
