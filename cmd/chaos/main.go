// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gymledger/internal/app"
	"gymledger/internal/chaos"
	"gymledger/internal/config"
	"gymledger/internal/logging"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 50, "simultaneous requests per experiment")
		duration    = flag.Duration("duration", 30*time.Second, "observation window per experiment")
		interval    = flag.Duration("sample-interval", time.Second, "metric sampling interval")
		cooldown    = flag.Duration("cooldown", 10*time.Second, "pause between experiments")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer a.Close()

	engine := chaos.NewEngine(logger, chaos.WithSampleInterval(*interval), chaos.WithCooldown(*cooldown))
	engine.RegisterDefaults(chaos.Target{
		Members:     a.Members,
		Billing:     a.Billing,
		Plans:       a.Plans,
		Concurrency: *concurrency,
		Duration:    *duration,
	})

	day := chaos.GameDay{
		Name:      "ledger invariants",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}
	if err := engine.ExecuteGameDay(ctx, day); err != nil {
		logger.Error("game day interrupted", zap.Error(err))
	}

	for _, r := range engine.Results() {
		if !r.HypothesisHeld {
			logger.Error("invariant violated", zap.String("experiment", r.ExperimentName))
			a.Close()
			os.Exit(1)
		}
	}
}
