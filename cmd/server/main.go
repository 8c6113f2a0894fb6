package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/database"
	"github.com/iliyamo/raffle-settlement/internal/feed"
	"github.com/iliyamo/raffle-settlement/internal/handler"
	"github.com/iliyamo/raffle-settlement/internal/logger"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
	"github.com/iliyamo/raffle-settlement/internal/notify"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"github.com/iliyamo/raffle-settlement/internal/rate"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/iliyamo/raffle-settlement/internal/router"
	"github.com/iliyamo/raffle-settlement/internal/service"
	"github.com/iliyamo/raffle-settlement/internal/utils"
	"github.com/iliyamo/raffle-settlement/migrations"
)

func main() {
	config.LoadDotEnv()
	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	settleCfg := config.LoadSettlementConfig()
	rateCfg := config.LoadRateConfig()
	notifyCfg := config.LoadNotifyConfig()

	db, err := database.Open(
		database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName),
		database.PoolConfig{MaxOpen: cfg.DBMaxOpenConns, MaxIdle: cfg.DBMaxIdleConns, MaxLifetime: cfg.DBConnMaxLifetime},
	)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if _, err := database.Migrate(context.Background(), db, migrations.FS, log.Named("migrate")); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	rdb, err := config.NewRedisClient(context.Background())
	if err != nil {
		log.Warn("redis unavailable: live feed, rate cache, rate limit and board cache disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}

	ledger := repository.NewLedgerRepo(db)
	sales := repository.NewSaleRepo(db)
	tickets := repository.NewTicketRepo(db)
	reviews := repository.NewReviewRepo(db)

	// exchange rate: primary -> fallback -> last good -> emergency
	var sources []rate.Source
	for _, s := range []struct{ name, url string }{
		{"primary", rateCfg.PrimaryURL},
		{"fallback", rateCfg.FallbackURL},
	} {
		if s.url == "" {
			continue
		}
		src := rate.NewJSONSource(s.name, s.url, rateCfg.HTTPTimeout)
		defer src.Close()
		sources = append(sources, src)
	}
	var rateCache rate.Cache
	if rdb != nil {
		rateCache = rate.NewRedisCache(rdb, rateCfg.CacheTTL)
	}
	rates := rate.NewChain(sources, rateCache, rateCfg.Emergency, log.Named("rate"))

	deps := service.SettlerDeps{
		Ledger:   ledger,
		Sales:    sales,
		Tickets:  tickets,
		Reviews:  reviews,
		Rates:    rates,
		Notifier: notify.NewDispatcher(queue.NewPublisher(notifyCfg.AMQPURL, notifyCfg.Queue, log.Named("queue")), log.Named("notify")),
	}
	var soldFeed *feed.RedisFeed
	if rdb != nil {
		soldFeed = feed.NewRedisFeed(rdb, feed.DefaultChannel)
		deps.Feed = soldFeed
	}
	settler := service.NewSettler(deps, settleCfg, log.Named("settlement"))
	reconciler := service.NewReconciler(ledger, sales, tickets, reviews, settleCfg.StaleAfter, log.Named("reconciler"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if notifyCfg.ConsumerEnabled {
		wa := notify.NewWhatsAppClient(notifyCfg.GatewayURL, settleCfg.NotifyTimeout)
		defer wa.Close()
		go func() {
			err := queue.StartNotificationConsumer(ctx, notifyCfg.AMQPURL, notifyCfg.Queue, notify.NewDeliverer(wa, log.Named("whatsapp")), log.Named("consumer"))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.AccessLog(log.Named("http")))
	e.Use(metrics.HTTPMetrics())

	var subscriber handler.Subscriber
	if soldFeed != nil {
		subscriber = soldFeed
	}
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit"))
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e, db)
	router.RegisterPublic(e,
		handler.NewSettlementHandler(settler, settleCfg.SettleTimeout, log.Named("http")),
		handler.NewTicketHandler(tickets, subscriber, log.Named("http")),
		handler.NewSaleHandler(sales, log.Named("http")),
		limit, cache)
	opCfg := config.LoadOperatorConfig()
	if opCfg.PasswordHash == "" {
		log.Warn("OPERATOR_PASSWORD_HASH not set: operator login disabled")
	} else if err := utils.CheckHash(opCfg.PasswordHash); err != nil {
		log.Warn("OPERATOR_PASSWORD_HASH looks wrong", zap.Error(err))
	}
	router.RegisterOperator(e,
		handler.NewOperatorHandler(opCfg, cfg.JWTSecret, cfg.AccessTTLMin, ledger, reviews, reconciler, log.Named("operator")),
		cfg.JWTSecret, limit)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// let in-flight notifications and feed publishes finish
	settler.Wait()
}
