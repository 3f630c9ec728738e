// Package main запускает HTTP-сервер сервиса аренды ТВ-времени.
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

	"github.com/akorotchenko/tvtime-system/internal/broadcast"
	"github.com/akorotchenko/tvtime-system/internal/checkout"
	"github.com/akorotchenko/tvtime-system/internal/config"
	"github.com/akorotchenko/tvtime-system/internal/handler"
	"github.com/akorotchenko/tvtime-system/internal/mailer"
	"github.com/akorotchenko/tvtime-system/internal/middleware"
	"github.com/akorotchenko/tvtime-system/internal/repository"
	"github.com/akorotchenko/tvtime-system/internal/service"
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

	var checkoutClient *checkout.Client
	if cfg.CheckoutSystemAddress != "" {
		checkoutClient = checkout.NewClient(cfg.CheckoutSystemAddress)
	} else {
		sugar.Warn("checkout system address is not set, online payments are disabled")
	}

	var mailClient service.Mailer
	if cfg.MailAPIKey != "" && cfg.MailFrom != "" {
		mailClient = mailer.NewClient(cfg.MailAPIKey, cfg.MailFrom)
	} else {
		sugar.Warn("mail credentials are not set, email notifications are disabled")
	}

	var publisher service.Broadcaster
	if cfg.AmqpURL != "" {
		p := broadcast.NewPublisher(cfg.AmqpURL)
		defer p.Close()
		publisher = p
	} else {
		sugar.Warn("AMQP URL is not set, device events are disabled")
	}

	svc := service.NewService(repo, checkoutClient, mailClient, publisher, logger)
	defer svc.Close()

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := svc.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
			sugar.Fatalw("admin bootstrap error", "error", err.Error())
		}
	}

	if cfg.PaymentWebhookSecret == "" {
		sugar.Warn("payment webhook secret is not set, payment webhooks will be rejected")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.PaymentWebhookSecret)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой доставки уведомлений и событий устройств
	g.Go(func() error {
		svc.StartOutboxDispatcher(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting tvtime server", "addr", cfg.RunAddress)
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
