// Package main запускает HTTP-сервер сервиса оформления заказов.
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

	"github.com/mmeshcher/checkout-system/internal/config"
	"github.com/mmeshcher/checkout-system/internal/handler"
	"github.com/mmeshcher/checkout-system/internal/invoice"
	"github.com/mmeshcher/checkout-system/internal/middleware"
	"github.com/mmeshcher/checkout-system/internal/provider"
	"github.com/mmeshcher/checkout-system/internal/reconcile"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var providers []provider.Provider
	if cfg.CardProviderAddress != "" {
		providers = append(providers, provider.NewCardProvider(cfg.CardProviderAddress))
	}
	if cfg.RedirectProviderAddress != "" {
		providers = append(providers, provider.NewRedirectProvider(cfg.RedirectProviderAddress))
	}
	if cfg.WalletProviderAddress != "" {
		providers = append(providers, provider.NewWalletProvider(cfg.WalletProviderAddress))
	}
	registry := provider.NewRegistry(providers...)

	engine := reconcile.NewEngine(repo, registry, logger)
	defer engine.Close()

	invoiceWorker := invoice.NewWorker(repo, cfg.Jurisdictions(), logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	webhookMiddleware := middleware.NewWebhookMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(engine, logger, authMiddleware, webhookMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового воркера выпуска документов
	g.Go(func() error {
		invoiceWorker.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting checkout server",
			"addr", cfg.RunAddress,
			"providers", registry.Available())
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
