// Package server implements the HTTP API over a docstore.Store.
package server

import (
	"net/http"

	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/server/handlers"
	"github.com/maruel/docstore/internal/server/ratelimit"
)

// Options configures NewRouter.
type Options struct {
	// Version is reported by /api/health.
	Version string
	// MaxBodyBytes limits request bodies. Zero means unlimited.
	MaxBodyBytes int64
	// RateLimits throttles clients when set. The caller closes it.
	RateLimits *ratelimit.Config
}

// NewRouter returns the handler serving the API at /api/.
//
// A document whose id is "_ids" cannot be addressed individually: the path
// lists ids instead.
func NewRouter(store *docstore.Store, opts Options) http.Handler {
	mux := &http.ServeMux{}
	limit := opts.MaxBodyBytes
	hh := handlers.NewHealthHandler(opts.Version)
	dh := handlers.NewDocHandler(store)

	mux.Handle("GET "+ratelimit.HealthPath, Wrap(hh.Health, limit))
	mux.Handle("GET /api/v1/types", Wrap(dh.ListTypes, limit))

	mux.Handle("GET /api/v1/docs/{type}", Wrap(dh.Query, limit))
	mux.Handle("POST /api/v1/docs/{type}", Wrap(dh.Create, limit))
	mux.Handle("DELETE /api/v1/docs/{type}", Wrap(dh.Purge, limit))
	mux.Handle("GET /api/v1/docs/{type}/_ids", Wrap(dh.IDs, limit))

	mux.Handle("GET /api/v1/docs/{type}/{id}", Wrap(dh.Get, limit))
	mux.Handle("PUT /api/v1/docs/{type}/{id}", Wrap(dh.Put, limit))
	mux.Handle("DELETE /api/v1/docs/{type}/{id}", Wrap(dh.Delete, limit))

	if opts.RateLimits == nil {
		return mux
	}
	return ratelimit.Middleware(opts.RateLimits, mux, writeRateLimitError)
}
