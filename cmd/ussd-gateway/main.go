// Command ussd-gateway is the production entry point: it wires config,
// logging, the Redis session store, the core-banking upstream client, the
// action-module registry, and the hot-reloadable menu engine into the
// gorilla/mux HTTP surface §6 and §7 describe, then serves it with a
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/vservices/ussd-gateway/internal/applog"
	"github.com/vservices/ussd-gateway/internal/config"
	"github.com/vservices/ussd-gateway/internal/kv"
	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/modules"
	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/turn"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func main() {
	log := applog.New(getLogLevel())

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Warn().Err(err).Msg("falling back to UTC")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	kvStore, err := kv.NewRedisStore(ctx, kv.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis failed")
	}

	sessions := session.New(kvStore, cfg.Redis.SessionPrefix, cfg.Redis.TTL, loc)

	upstreamClient := upstream.New(cfg.Upstream.APIURL, upstream.Config{
		BankID:    cfg.Bank.ID,
		BankName:  cfg.Bank.Name,
		Country:   cfg.Bank.Country,
		TrxSource: cfg.Bank.TrxSource,
	}, cfg.Upstream.Timeout, cfg.Upstream.ConnectTimeout, log)

	if _, err := config.LoadBusinessRules("config/business-rules.json"); err != nil {
		log.Fatal().Err(err).Msg("load business rules failed")
	}

	reg := registry.New()
	if err := reg.Discover("pin.", modules.NewPIN(log)); err != nil {
		log.Fatal().Err(err).Msg("register pin module failed")
	}
	if err := reg.Discover("balance.", modules.NewBalance(log)); err != nil {
		log.Fatal().Err(err).Msg("register balance module failed")
	}
	if err := reg.Discover("statement.", modules.NewStatement(log)); err != nil {
		log.Fatal().Err(err).Msg("register statement module failed")
	}
	// No DailyTotals backend is wired yet: the airtime module's own nil
	// handling treats an unset hook as "no aggregate cap enforced beyond
	// the per-purchase min/max", which matches the spec's explicit
	// statement that the source of truth is implementation-defined.
	if err := reg.Discover("airtime.", modules.NewAirtime(log, nil)); err != nil {
		log.Fatal().Err(err).Msg("register airtime module failed")
	}

	validators := menu.NewCustomValidators()

	nodes, err := menu.LoadDir(cfg.MenuDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load menu directory failed")
	}
	engine := menu.New(nodes, reg, upstreamClient, validators, log)

	watcher, err := menu.NewWatcher(cfg.MenuDir, engine, log)
	if err != nil {
		log.Warn().Err(err).Msg("menu hot-reload disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	handler := turn.New(sessions, engine, upstreamClient, cfg.Redis.TTL.Seconds(), log)
	router := turn.NewShortcodeRouter().WithFallback(handler)
	if cfg.Bank.Shortcode != "" {
		router = router.WithShortcode(cfg.Bank.Shortcode, handler)
	}

	r := mux.NewRouter()
	r.Handle("/api/ussd", router).Methods(http.MethodPost)
	r.HandleFunc("/healthz", turn.HealthHandler(func() bool {
		return sessions.Healthy(context.Background())
	}, log)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: applog.Middleware(log)(r),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("ussd-gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func getLogLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}
