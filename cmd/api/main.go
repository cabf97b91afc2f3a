package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zimupdates/internal/app"
	"zimupdates/internal/cache"
	"zimupdates/internal/collections"
	"zimupdates/internal/config"
	"zimupdates/internal/logging"
	"zimupdates/internal/media"
	"zimupdates/internal/relsync"
	"zimupdates/internal/search"
	"zimupdates/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		return err
	}
	records := store.NewSQLStore(db, dialect)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearch(records), logger)
	if meiliClient != nil && meiliClient.Healthy() {
		go func() {
			if err := searchService.ReindexAll(context.WithoutCancel(ctx), records); err != nil {
				logger.Warn("initial reindex failed", zap.Error(err))
			}
		}()
	}

	resolver, err := mediaResolver(cfg)
	if err != nil {
		return err
	}

	deps := collections.Deps{
		Store:   records,
		Media:   resolver,
		Indexer: searchService,
		Logger:  logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		pages, err := cache.NewRedisCache(cfg.RedisURL, cfg.PageCacheTTL)
		if err != nil {
			logger.Warn("page cache unavailable; edited updates expire by ttl", zap.Error(err))
		} else {
			defer pages.Close()
			deps.Pages = pages
		}
	}
	registry := collections.Default(deps)
	service := app.NewService(records, registry, searchService, logger)

	if cfg.ReconcileInterval > 0 {
		reconciler := relsync.NewReconciler(records, collections.KidSponsors, logger)
		go reconciler.Run(ctx, cfg.ReconcileInterval)
		logger.Info("relationship reconciler enabled", zap.Duration("interval", cfg.ReconcileInterval))
	}

	if strings.TrimSpace(cfg.AdminAPIKey) == "" {
		logger.Warn("ADMIN_API_KEY is empty; only public collections are readable and writes are disabled")
	}

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		AdminAPIKey: cfg.AdminAPIKey,
		CORSOrigins: cfg.CORSOrigins,
		CSRFOrigins: cfg.CSRFOrigins,
		Logger:      logger,
	})
	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("dialect", dialect.Name))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

func mediaResolver(cfg config.Config) (media.Resolver, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return media.NewStaticResolver(cfg.MediaBaseURL), nil
	}
	return media.NewMinioResolver(media.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
		TTL:       cfg.MediaURLTTL,
	})
}
