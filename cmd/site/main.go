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

	"zimupdates/internal/cache"
	"zimupdates/internal/config"
	"zimupdates/internal/export"
	"zimupdates/internal/logging"
	"zimupdates/internal/richtext"
	"zimupdates/internal/site"
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
		logger.Fatal("site stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rendererOpts := []richtext.Option{
		richtext.WithLogger(logger),
		richtext.WithSanitizer(richtext.NewSanitizer(richtext.WithURLSchemes(cfg.SanitizeURLSchemes...))),
	}
	if strings.TrimSpace(cfg.SerializerURL) != "" {
		rendererOpts = append(rendererOpts, richtext.WithSerializer(richtext.NewHTTPSerializer(cfg.SerializerURL, nil)))
	}

	opts := site.Options{
		Client:   site.NewClient(cfg.BackendURL, nil),
		Renderer: richtext.NewRenderer(rendererOpts...),
		Exporter: export.NewService(
			export.WithChromePath(cfg.ChromePath),
			export.WithSiteName("Zim Updates"),
			export.WithLogger(logger),
		),
		Logger: logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		pages, err := cache.NewRedisCache(cfg.RedisURL, cfg.PageCacheTTL)
		if err != nil {
			logger.Warn("page cache disabled", zap.Error(err))
		} else {
			defer pages.Close()
			opts.Cache = pages
		}
	}

	server := &http.Server{
		Addr:              cfg.SiteAddr,
		Handler:           site.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("site listening", zap.String("addr", cfg.SiteAddr), zap.String("backend", cfg.BackendURL))
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
