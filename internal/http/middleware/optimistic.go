package middleware

import (
	"context"
	"mime"
	"net/http"
	"strconv"
)

type contextKey string

const OptimisticKey contextKey = "optimistic"

// Optimistic marks the request context when the caller asked for an
// optimistic write with ?optimistic=true or the X-Optimistic header
func Optimistic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query().Get("optimistic")
		if v == "" {
			v = r.Header.Get("X-Optimistic")
		}
		if on, _ := strconv.ParseBool(v); on {
			r = r.WithContext(context.WithValue(r.Context(), OptimisticKey, true))
		}
		next.ServeHTTP(w, r)
	})
}

// IsOptimistic reports whether Optimistic marked the context
func IsOptimistic(ctx context.Context) bool {
	on, _ := ctx.Value(OptimisticKey).(bool)
	return on
}

// RequireJSON rejects request bodies that are not declared as JSON
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
