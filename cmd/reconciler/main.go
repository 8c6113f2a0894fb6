package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/database"
	"github.com/iliyamo/raffle-settlement/internal/logger"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

func main() {
	once := pflag.Bool("once", false, "run a single reconciliation pass and exit")
	interval := pflag.Duration("interval", time.Minute, "time between passes")
	pflag.Parse()

	config.LoadDotEnv()
	log := logger.New().Named("reconciler")
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	settleCfg := config.LoadSettlementConfig()

	db, err := database.Open(
		database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName),
		database.PoolConfig{MaxOpen: 4, MaxIdle: 2, MaxLifetime: cfg.DBConnMaxLifetime},
	)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	rec := service.NewReconciler(
		repository.NewLedgerRepo(db),
		repository.NewSaleRepo(db),
		repository.NewTicketRepo(db),
		repository.NewReviewRepo(db),
		settleCfg.StaleAfter,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := rec.RunOnce(ctx)
		log.Info("reconcile pass finished", zap.Any("report", report))
		if err != nil {
			log.Error("reconcile pass had failures", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := rec.Run(ctx, *interval); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reconciler stopped", zap.Error(err))
		os.Exit(1)
	}
}
