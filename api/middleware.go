// Package api provides the HTTP+WebSocket service nestedsetd exposes
// over a registry.Registry: routes scoped /{tenant}/{tree}/v1/..., the
// same logging/timeout/gzip middleware chain the reference service
// composes, plus bearer-JWT auth and a live audit-event stream.
package api

import (
	"compress/gzip"
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"nestedset/registry"
)

// WithDefaults wraps a handler with the standard middleware chain.
func WithDefaults(h http.Handler) http.Handler {
	return LoggingMiddleware(
		TimeoutMiddleware(
			GzipMiddleware(h),
			30*time.Second,
		),
	)
}

// LoggingMiddleware logs every request's method, path, status, and
// latency.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(lw, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, lw.status, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// TimeoutMiddleware bounds request handling to timeout.
func TimeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(next, timeout, "request timeout")
}

// GzipMiddleware decompresses gzip request bodies and compresses
// responses when the client advertises support for it.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gr.Close()
			r.Body = io.NopCloser(gr)
		}

		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			w = &gzipResponseWriter{ResponseWriter: w, Writer: gz}
		}

		next.ServeHTTP(w, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	io.Writer
}

func (grw *gzipResponseWriter) Write(p []byte) (int, error) {
	return grw.Writer.Write(p)
}

type ctxKey int

const (
	handleKey ctxKey = iota
	tenantKey
	treeNameKey
)

// WithTenant extracts {tenant} from the URL, acquires its registry
// handle for the duration of the request, and injects it into context.
func WithTenant(reg *registry.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := r.PathValue("tenant")
			tree := r.PathValue("tree")
			if tenant == "" {
				http.Error(w, "tenant required", http.StatusBadRequest)
				return
			}

			h, err := reg.Get(r.Context(), tenant)
			if err != nil {
				if err == registry.ErrTenantNotFound {
					http.Error(w, "tenant not found", http.StatusNotFound)
					return
				}
				log.Printf("error getting tenant %s: %v", tenant, err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			reg.Acquire(h)
			defer reg.Release(h)

			ctx := context.WithValue(r.Context(), handleKey, h)
			ctx = context.WithValue(ctx, tenantKey, tenant)
			ctx = context.WithValue(ctx, treeNameKey, tree)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleFrom returns the registry.Handle injected by WithTenant.
func HandleFrom(ctx context.Context) *registry.Handle {
	if v := ctx.Value(handleKey); v != nil {
		return v.(*registry.Handle)
	}
	return nil
}

// TenantFrom returns the tenant path segment injected by WithTenant.
func TenantFrom(ctx context.Context) string {
	if v := ctx.Value(tenantKey); v != nil {
		return v.(string)
	}
	return ""
}

// TreeFrom returns the tree path segment injected by WithTenant.
func TreeFrom(ctx context.Context) string {
	if v := ctx.Value(treeNameKey); v != nil {
		return v.(string)
	}
	return ""
}
