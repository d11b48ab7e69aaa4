package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/bookshelf-api/internal/assets"
	"github.com/Clark-Hu/bookshelf-api/internal/auth"
	"github.com/Clark-Hu/bookshelf-api/internal/catalog"
	"github.com/Clark-Hu/bookshelf-api/internal/config"
	httpserver "github.com/Clark-Hu/bookshelf-api/internal/http"
	"github.com/Clark-Hu/bookshelf-api/internal/metrics"
	"github.com/Clark-Hu/bookshelf-api/internal/repository"
	"github.com/Clark-Hu/bookshelf-api/internal/store"
)

const migrationsDir = "db/migrations"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stdout, "[bookshelf-api] ", log.LstdFlags|log.Lshortfile)

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		QueryTimeout:           time.Duration(cfg.DBQueryTimeout) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer st.Close()

	if cfg.DBAutoMigrate {
		if err := st.Migrate(dbCtx, migrationsDir); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		logger.Printf("migrations applied from %s", migrationsDir)
	}

	assetStore, closeAssets, err := openAssetStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init asset store: %v", err)
	}
	defer closeAssets()

	m := metrics.New()
	m.ObservePool(st.Stats)
	repo := repository.New(st)
	catalogSvc := catalog.New(repo.Books, assetStore, catalog.Options{
		MaxRetries: cfg.RatingMaxRetries,
		Logger:     logger,
		Metrics:    m,
	})
	authSvc := auth.NewService(repo.Users, auth.Options{
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: time.Duration(cfg.TokenTTLHours) * time.Hour,
	})

	server := httpserver.New(cfg, httpserver.Deps{
		Store:   st,
		Catalog: catalogSvc,
		Auth:    authSvc,
		Assets:  assetStore,
		Metrics: m,
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()
	logger.Printf("listening on :%s (assets: %s)", cfg.Port, cfg.AssetBackend)

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			log.Printf("server error: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("graceful shutdown error: %v", err)
	}
	// Let pending cover removals finish before the pool closes.
	catalogSvc.Wait()
}

func openAssetStore(ctx context.Context, cfg config.Config, logger *log.Logger) (assets.Store, func(), error) {
	switch cfg.AssetBackend {
	case config.AssetBackendGCS:
		// Objects are served by the bucket's public endpoint.
		gcs, err := assets.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentials, "", logger)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() {
			if err := gcs.Close(); err != nil {
				logger.Printf("close gcs client: %v", err)
			}
		}, nil
	default:
		disk, err := assets.NewDiskStore(cfg.AssetDir, cfg.PublicBaseURL+"/images", logger)
		if err != nil {
			return nil, nil, err
		}
		return disk, func() {}, nil
	}
}
