// Package server assembles the domain handlers into the /api/v1 router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gymledger/internal/attendance"
	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/clock"
	"gymledger/internal/httpx"
	"gymledger/internal/invoice"
	"gymledger/internal/membership"
	"gymledger/pkg/eventstore"
)

// Deps are the collaborators the router serves. Ping and a zero rate limit are optional.
type Deps struct {
	Members    membership.Service
	Billing    billing.Service
	Plans      catalog.Service
	Attendance attendance.Service
	Invoices   *invoice.Projector
	Journal    eventstore.Store
	Clock      clock.Clock
	Logger     *zap.Logger
	Ping       func(ctx context.Context) error

	RateLimitPerMinute int
	RateLimitBurst     int
}

// NewRouter mounts every route under /api/v1 and /healthz at the root.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health(d.Ping))

	r.Route("/api/v1", func(r chi.Router) {
		if d.RateLimitPerMinute > 0 {
			r.Use(newWriteLimiter(d.RateLimitPerMinute, d.RateLimitBurst).middleware)
		}
		r.Use(middleware.Timeout(30 * time.Second))

		r.Mount("/plans", catalog.NewHandler(d.Plans).Routes())
		membership.NewHandler(d.Members, d.Clock).Register(r)
		billing.NewHandler(d.Billing).Register(r)
		attendance.NewHandler(d.Attendance).Register(r)
		invoice.NewHandler(d.Invoices).Register(r)

		j := &journalHandler{journal: d.Journal, members: d.Members}
		r.Get("/members/{memberID}/history", j.handleHistory)
		r.Get("/events", j.handleEvents)
	})
	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				httpx.Error(w, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
