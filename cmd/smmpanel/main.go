// Package main запускает HTTP-сервер SMM-панели.
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

	"github.com/mmeshcher/smmpanel-system/internal/catalog"
	"github.com/mmeshcher/smmpanel-system/internal/config"
	"github.com/mmeshcher/smmpanel-system/internal/handler"
	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/service"
	"github.com/mmeshcher/smmpanel-system/internal/store"
	"github.com/mmeshcher/smmpanel-system/internal/supplier"
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
	defer repo.Close()

	var supplierClient *supplier.Client
	if cfg.SupplierAddress != "" {
		supplierClient = supplier.NewClient(cfg.SupplierAddress, cfg.SupplierKey)
	}

	adapter := catalog.NewAdapter(cfg.FxRate, cfg.PriceMargin, cfg.MinOrderQuantity)

	var sup service.Supplier
	if supplierClient != nil {
		sup = supplierClient
	}

	svc := service.NewService(repo, sup, adapter, logger, service.Options{
		AdminEmail:    cfg.AdminEmail,
		AdminPassword: cfg.AdminPassword,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(svc)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой синхронизации заказов с поставщиком
	g.Go(func() error {
		svc.StartSupplierSync(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting smm panel server", "addr", cfg.RunAddress)
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

// newRepository выбирает хранилище: PostgreSQL при заданном DATABASE_URI,
// иначе локальное файловое хранилище.
func newRepository(cfg *config.Config) (repository.Repository, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}

	kv, err := store.New(cfg.StorePath, cfg.StoreSecret)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	return repository.NewFileRepository(kv), nil
}
