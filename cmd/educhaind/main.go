package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"educhain/authsvc"
	"educhain/cache"
	"educhain/chain"
	"educhain/config"
	"educhain/crypto"
	"educhain/escrow"
	"educhain/exchange"
	"educhain/history"
	"educhain/observability/logging"
	telemetry "educhain/observability/otel"
	"educhain/reputation"
	"educhain/server"
	"educhain/wallet"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to service configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup("educhain", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "educhain",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLP.Endpoint,
		Insecure:    cfg.OTLP.Insecure,
		Metrics:     cfg.OTLP.Metrics,
		Traces:      cfg.OTLP.Traces,
	})
	if err != nil {
		log.Error("initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	deriver, err := crypto.NewDeriver(cfg.MasterSecret)
	if err != nil {
		log.Error("initialise wallet deriver", "error", err)
		os.Exit(1)
	}
	ownerKey, err := crypto.PrivateKeyFromHex(cfg.OwnerKeyHex)
	if err != nil {
		log.Error("parse owner key", "error", err)
		os.Exit(1)
	}

	client, err := chain.Dial(ctx, cfg.NodeURL)
	if err != nil {
		log.Error("connect to node", "url", cfg.NodeURL, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	gw, err := chain.NewGateway(client, chain.Config{
		ChainID:            big.NewInt(cfg.ChainID),
		TokenAddress:       cfg.TokenAddress,
		EscrowAddress:      cfg.EscrowAddress,
		ExchangeAddress:    cfg.ExchangeAddress,
		OwnerKey:           ownerKey,
		ConfirmTimeout:     cfg.ConfirmTimeout(),
		AllowCountFallback: cfg.AllowCountFallback,
		Logger:             log,
	})
	if err != nil {
		log.Error("initialise chain gateway", "error", err)
		os.Exit(1)
	}

	var store cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		store, err = cache.NewRedis(ctx, cfg.Cache.RedisAddress, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
		if err != nil {
			log.Error("connect to redis", "addr", cfg.Cache.RedisAddress, "error", err)
			os.Exit(1)
		}
	default:
		store = cache.NewMemory()
	}

	users := authsvc.NewClient(cfg.AuthServiceURL, 10*time.Second, log)
	bookings := escrow.NewCoordinator(gw, deriver, log)
	exchanges := exchange.NewService(gw, deriver, log)
	ledger := history.NewProjector(gw, bookings, exchanges, users, store, history.Config{
		HistoryTTL:    cfg.Cache.HistoryTTL(),
		StatsTTL:      cfg.Cache.StatsTTL(),
		WalletInfoTTL: cfg.Cache.WalletInfoTTL(),
	}, log)
	wallets := wallet.NewService(gw, deriver, users, ledger, log)
	reviews := reputation.NewGate(users, bookings, exchanges, gw, deriver, log)

	srv := server.New(wallets, bookings, exchanges, reviews, gw, users,
		server.NewAuthenticator(cfg.JWTSecret), log)

	if cfg.InitializeWallets {
		go func() {
			results, err := wallets.InitializeAll(context.Background())
			if err != nil {
				log.Error("wallet initialization sweep failed", "error", err)
				return
			}
			failed := 0
			for _, r := range results {
				if r.Err != "" {
					failed++
				}
			}
			log.Info("wallet initialization sweep finished", "total", len(results), "failed", failed)
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.ListenAddress, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("stopped")
}
