package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/console"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/logging"
	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/internal/storage/memory"
	"github.com/example/bank-ledger/internal/storage/postgres"
	"github.com/example/bank-ledger/internal/storage/sqlite"
	"github.com/example/bank-ledger/pkg/audit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, _, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := openProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMaxRetries(cfg.MaxRetries),
		ledger.WithRejectNegativeAmounts(cfg.RejectNegativeAmounts),
	}
	var chain *audit.ChainLogger
	if cfg.AuditEnabled {
		chain = audit.NewChainLogger()
		if cfg.AuditSink != "" {
			sink, err := openAuditSink(cfg.AuditSink, chain)
			if err != nil {
				return err
			}
			defer sink.Close()
			logger.Info("audit sink opened", zap.String("path", cfg.AuditSink), zap.Int("restored", chain.Len()))
		}
		opts = append(opts, ledger.WithAuditLog(chain))
	}

	ledgerService := ledger.NewLedgerService(provider, opts...)
	validator := ledger.NewValidator(provider)

	logger.Info("ledger ready",
		zap.String("storage", cfg.Storage),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("audit", cfg.AuditEnabled))

	err = console.New(ledgerService, validator, os.Stdout, logger).
		WithPrompt(true).
		Run(ctx, os.Stdin)

	if chain != nil {
		logger.Info("audit chain closed",
			zap.Int("entries", chain.Len()),
			zap.String("head", chain.Head()))
	}
	return err
}

func openProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		logger.Info("opening sqlite database", zap.String("path", cfg.SQLitePath))
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		logger.Info("connecting to postgres")
		p, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return memory.New(), nil
	}
}

// openAuditSink verifies the entries already in path, continues chain from
// their tip and appends new ones to it.
func openAuditSink(path string, chain *audit.ChainLogger) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit sink: %w", err)
	}

	tip, err := audit.VerifyStream(f)
	if err == nil {
		err = chain.Restore(tip)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audit sink %s: %w", path, err)
	}

	chain.WithSink(f)
	return f, nil
}
