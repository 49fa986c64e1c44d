// Package main запускает HTTP-сервер маркетплейса услуг.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/servicemarket/internal/catalog"
	"github.com/mmeshcher/servicemarket/internal/config"
	"github.com/mmeshcher/servicemarket/internal/handler"
	"github.com/mmeshcher/servicemarket/internal/middleware"
	"github.com/mmeshcher/servicemarket/internal/repository"
	"github.com/mmeshcher/servicemarket/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var catalogClient service.CatalogClient
	if cfg.CatalogAddress != "" {
		catalogClient = catalog.NewClient(cfg.CatalogAddress)
	}

	svc := service.NewService(repo, catalogClient, logger)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		logger.Warn("JWT secret is not configured, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая синхронизация каталога услуг
	g.Go(func() error {
		svc.StartCatalogSync(ctx, cfg.CatalogSyncInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting servicemarket server", "addr", cfg.RunAddress, "postgres", cfg.DatabaseURI != "")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newRepository открывает PostgreSQL, если задан DATABASE_URI, иначе in-memory хранилище со стартовым каталогом.
func newRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}

	repo := repository.NewMemoryRepository()
	if err := repo.UpsertServices(context.Background(), repository.DefaultCatalog()); err != nil {
		return nil, err
	}
	return repo, nil
}
