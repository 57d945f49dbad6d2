package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/JonMunkholm/segexport/internal/config"
	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/logging"
	"github.com/JonMunkholm/segexport/internal/metrics"
	"github.com/JonMunkholm/segexport/internal/segment"
	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/web"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, closeStore, err := openStore(ctx, cfg.Store, pool)
	if err != nil {
		return err
	}
	defer closeStore()

	src, err := source.NewPostgresTable(pool, cfg.Export.Table, cfg.Export.OrderBy, cfg.Export.Columns...)
	if err != nil {
		return fmt.Errorf("export source: %w", err)
	}

	dl, err := download.NewSourceDownloader(download.Settings{
		PageSize:         cfg.Export.PageSize,
		MinZipSegments:   cfg.Export.MinZipSegments,
		SegmentsPerEntry: cfg.Export.SegmentsPerEntry,
		EntryPrefix:      cfg.Export.EntryPrefix,
	}, src)
	if err != nil {
		return err
	}

	m := metrics.New()
	limiter := download.NewLimiter(cfg.Export.MaxConcurrentCompletes, cfg.Export.MaxWaitTime)
	exports := download.New[uuid.UUID](store, dl, download.Config{
		Limiter:  limiter,
		Metrics:  m,
		Format:   workbook.DefaultFormat,
		FileName: cfg.Export.FileName,
	})

	server, err := web.NewServer(exports, m, web.Options{
		RequestTimeout:  cfg.Server.RequestTimeout,
		CompleteTimeout: cfg.Server.CompleteTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		TrustedProxies:  cfg.Server.TrustedProxies,
		APIKeys:         cfg.Server.APIKeys,
		Health:          pool.Ping,
	})
	if err != nil {
		return err
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Janitor.Enabled {
		sweeper, ok := store.(segment.Sweeper)
		if !ok {
			return fmt.Errorf("store backend %q cannot be swept", cfg.Store.Backend)
		}
		go web.NewJanitor(sweeper, cfg.Janitor.TTL, cfg.Janitor.Interval, m).Run(jobCtx)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for exports to finish completing", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("exports did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	return server.Start(cfg.Server.Addr())
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

// openStore builds the configured segment store. The returned func
// releases backend resources.
func openStore(ctx context.Context, cfg config.StoreConfig, pool *pgxpool.Pool) (segment.Store[uuid.UUID], func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendPostgres:
		store := segment.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("segment store schema: %w", err)
		}
		slog.Info("segment store ready", "backend", "postgres")
		return store, func() {}, nil

	case config.BackendBlob:
		store, err := segment.OpenBlobStore(ctx, cfg.BlobURL, cfg.BlobPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("segment store: %w", err)
		}
		slog.Info("segment store ready", "backend", "blob", "prefix", cfg.BlobPrefix)
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("close blob store", "error", err)
			}
		}, nil

	default:
		slog.Info("segment store ready", "backend", "memory")
		return segment.NewMemoryStore(uuid.New), func() {}, nil
	}
}
