// Package app builds the service graph from configuration. cmd/api serves it and cmd/chaos
// drives it.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gymledger/internal/attendance"
	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/clients"
	"gymledger/internal/clock"
	"gymledger/internal/config"
	"gymledger/internal/invoice"
	"gymledger/internal/lock"
	"gymledger/internal/membership"
	"gymledger/internal/server"
	"gymledger/internal/store/memory"
	"gymledger/internal/store/postgres"
	"gymledger/pkg/eventstore"
)

// store is every storage interface one driver implements.
type store interface {
	membership.Store
	billing.Store
	catalog.Store
	attendance.Store
}

type App struct {
	Members    membership.Service
	Billing    billing.Service
	Plans      catalog.Service
	Attendance attendance.Service
	Invoices   *invoice.Projector
	Journal    eventstore.Store
	Clock      clock.Clock

	ping    func(ctx context.Context) error
	closers []func() error
}

// Build connects the configured store, lock and notifier and wires the services over them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Clock: clock.System{}}

	var st store
	switch cfg.StoreDriver {
	case "memory":
		st = memory.New()
		a.Journal = eventstore.NewMemoryStore()
		logger.Warn("using in-memory store: data is lost on exit")
	default:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		st = postgres.New(db)
		a.Journal = eventstore.NewEventStore(db.DB)
		a.ping = db.PingContext
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedis(client, cfg.LockTTL, logger)
	}

	var (
		renewalNotifier membership.Notifier
		paymentNotifier billing.Notifier
	)
	if cfg.NotificationURL != "" {
		nc := clients.NewNotificationClient(cfg.NotificationURL, logger)
		renewalNotifier, paymentNotifier = nc, nc
	}

	a.Plans = catalog.NewService(st, a.Journal, a.Clock, logger)
	a.Billing = billing.NewService(st, a.Journal, locker, paymentNotifier, a.Clock, logger)
	a.Members = membership.NewService(st, a.Plans, a.Billing, a.Journal, locker, renewalNotifier, a.Clock, logger)
	a.Attendance = attendance.NewService(st, a.Members, a.Journal, a.Clock, logger, cfg.CheckInBlockOnBalance)
	a.Invoices = invoice.NewProjector(a.Billing, a.Members)
	return a, nil
}

// ServerDeps returns the router's collaborators.
func (a *App) ServerDeps(cfg *config.Config, logger *zap.Logger) server.Deps {
	return server.Deps{
		Members:            a.Members,
		Billing:            a.Billing,
		Plans:              a.Plans,
		Attendance:         a.Attendance,
		Invoices:           a.Invoices,
		Journal:            a.Journal,
		Clock:              a.Clock,
		Logger:             logger,
		Ping:               a.ping,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
