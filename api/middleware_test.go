package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"nestedset/registry"
)

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

func TestGzipMiddlewareCompressesResponseWhenAccepted(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello, world"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected a gzip content-encoding header")
	}

	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("expected a valid gzip body: %v", err)
	}
	defer gr.Close()
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("expected %q, got %q", "hello, world", got)
	}
}

func TestGzipMiddlewareSkipsCompressionWithoutAcceptHeader(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Fatalf("expected no gzip encoding without an Accept-Encoding header")
	}
	if rec.Body.String() != "plain" {
		t.Fatalf("expected uncompressed body %q, got %q", "plain", rec.Body.String())
	}
}

func TestGzipMiddlewareDecompressesRequestBody(t *testing.T) {
	var gotBody string
	handler := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("compressed-request"))
	gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotBody != "compressed-request" {
		t.Fatalf("expected decompressed body %q, got %q", "compressed-request", gotBody)
	}
}

func TestWithTenantInjectsHandleAndRejectsMissingTenant(t *testing.T) {
	dir, err := os.MkdirTemp("", "middleware-test")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	reg := registry.New(registry.Config{DataDir: dir})
	t.Cleanup(func() { reg.Close() })

	if _, err := reg.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	var gotTenant string
	mux := http.NewServeMux()
	mux.Handle("/{tenant}/{tree}/v1/ping", WithTenant(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantFrom(r.Context())
		if HandleFrom(r.Context()) == nil {
			t.Fatalf("expected a handle injected into context")
		}
	})))

	req := httptest.NewRequest(http.MethodGet, "/acme/main/v1/ping", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotTenant != "acme" {
		t.Fatalf("expected tenant %q, got %q", "acme", gotTenant)
	}
}

func TestWithTenantUnknownTenantReturns404(t *testing.T) {
	dir, err := os.MkdirTemp("", "middleware-test")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	reg := registry.New(registry.Config{DataDir: dir})
	t.Cleanup(func() { reg.Close() })

	mux := http.NewServeMux()
	mux.Handle("/{tenant}/{tree}/v1/ping", WithTenant(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not run for an unknown tenant")
	})))

	req := httptest.NewRequest(http.MethodGet, "/nobody/main/v1/ping", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
