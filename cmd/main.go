package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/api"
	"github.com/amirphl/amm-limit-orders/internal/cache"
	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/config"
	"github.com/amirphl/amm-limit-orders/internal/db"
	"github.com/amirphl/amm-limit-orders/internal/db/conf"
	"github.com/amirphl/amm-limit-orders/internal/engine"
	"github.com/amirphl/amm-limit-orders/internal/executor"
	"github.com/amirphl/amm-limit-orders/internal/notifier"
	"github.com/amirphl/amm-limit-orders/internal/oracle"
	"github.com/amirphl/amm-limit-orders/internal/scheduler"
	"github.com/amirphl/amm-limit-orders/internal/utils"
	"github.com/amirphl/amm-limit-orders/internal/wallet"
)

func main() {
	log := utils.GetLogger()

	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	log.WithFields(logrus.Fields{"storage": cfg.Storage, "price_source": cfg.PriceSource, "dry_run": cfg.DryRun}).Info("Starting AMM limit order engine")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received signal %v, shutting down...", sig)
		cancel()
	}()

	storage, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStorage()

	tokenCache, err := openCache(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer tokenCache.Close()

	evm, err := chain.DialEVM(ctx, cfg.RPCURL, common.HexToAddress(cfg.FactoryAddress), log)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}
	defer evm.Close()
	var client chain.Client = evm
	if cfg.DryRun {
		client = chain.NewDryRunClient(evm, log)
		log.Warn("Dry run enabled, transactions will not be broadcast")
	}

	tokens := chain.NewTokens(client, tokenCache, common.HexToAddress(cfg.WrappedNative), log)
	pools := oracle.NewPoolOracle(client, tokens, cfg.Tiers())
	var prices oracle.Oracle = pools
	if cfg.PriceSource == config.PriceSourceFeed {
		prices = oracle.NewFeedOracle(cfg.PriceFeedURL, cfg.PriceFeedRPS, &http.Client{Timeout: 10 * time.Second})
	}

	// Set up notification system
	var sender notifier.Notifier = notifier.NewLogNotifier(log)
	if cfg.TelegramToken != "" && !cfg.DryRun {
		sender = notifier.NewTelegramNotifier(cfg.TelegramToken)
	}
	dispatcher := notifier.NewDispatcher(sender, cfg.OwnerChats, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	wallets := wallet.NewEnvProvider(big.NewInt(cfg.ChainID), cfg.OwnerKeys)
	exec := executor.New(
		executor.Config{
			Router:      common.HexToAddress(cfg.RouterAddress),
			SlippageBps: cfg.SlippageBps,
			TxDeadline:  cfg.TxDeadline,
		},
		client, tokens, pools, wallets, storage, storage, dispatcher,
		executor.NewMetrics(registry), log,
	)

	sched := scheduler.New(storage, prices, exec, cfg.MonitorInterval, scheduler.NewMetrics(registry), log)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	svc := engine.NewService(storage, storage, sched, pools, tokens, cfg.SlippageBps, log)
	server := api.NewServer(cfg.ListenAddr, api.NewRouter(api.NewHandler(svc, log), registry), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Errorf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("Graceful shutdown initiated...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Errorf("Failed to stop HTTP server: %v", err)
	}
	sched.Stop()
	log.Info("Shutdown complete")
}

func openStorage(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (db.Storage, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("Using in-memory storage, orders are lost on restart")
		return db.NewMemory(), func() {}, nil
	}

	// Run migrations if enabled
	if cfg.RunMigration {
		if err := runMigrations(ctx, cfg.DBConnStr, log); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	dbConfig, err := conf.NewConfig(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create DB config: %w", err)
	}
	storage, err := db.New(*dbConfig)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Connected to Postgres")
	return storage, func() { storage.GetDB().Close() }, nil
}

func openCache(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), nil
	}
	r := cache.NewRedis(cfg.RedisAddr, "limitorder:")
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	log.Infof("Connected to Redis at %s", cfg.RedisAddr)
	return r, nil
}

// runMigrations creates the database if it doesn't exist and runs the schema.sql script
func runMigrations(ctx context.Context, connStr string, log logrus.FieldLogger) error {
	log.Info("Running database migrations...")

	// Parse connection string to extract database name
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Connect to the postgres database to create ours
	base := *u
	base.Path = "/postgres"
	baseDB, err := sql.Open("postgres", base.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		log.Infof("Creating database %s...", dbName)
		_, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	target, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer target.Close()

	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err = target.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	log.Info("Database migrations completed successfully")
	return nil
}
