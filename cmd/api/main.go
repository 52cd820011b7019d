package main

import (
	"context"
	"fmt"
	"marketplace-checkout/internal/client"
	"marketplace-checkout/internal/config"
	"marketplace-checkout/internal/email"
	"marketplace-checkout/internal/handler"
	"marketplace-checkout/internal/logger"
	"marketplace-checkout/internal/monitoring"
	"marketplace-checkout/internal/reconcile"
	"marketplace-checkout/internal/repository"
	"marketplace-checkout/internal/server"
	"marketplace-checkout/internal/service"
	"marketplace-checkout/internal/signature"
	"marketplace-checkout/internal/webhook"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	shutdownTracer, err := monitoring.InitTracer(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		log.Fatal("init tracer", zap.Error(err))
	}

	db, err := client.OpenDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	verifier, err := signature.FromKey(cfg.Webhook.PublicKey)
	if err != nil {
		log.Warn("webhook public key unusable, every webhook will be rejected", zap.Error(err))
	}

	productRepo := repository.NewProductRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	entitlementRepo := repository.NewEntitlementRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	confirmations := reconcile.NewStore(log)
	mailer := email.NewSender(&cfg.SMTP, log)

	fulfillmentService := service.NewFulfillmentService(
		db,
		productRepo,
		subRepo,
		entitlementRepo,
		paymentRepo,
		sessionRepo,
		confirmations,
		mailer,
		log,
	)
	cardService := service.NewCardCheckoutService(
		db,
		client.NewCardGateway(&cfg.BrainTree),
		productRepo,
		paymentRepo,
		entitlementRepo,
		log,
	)
	libraryService := service.NewLibraryService(entitlementRepo)

	dispatcher := webhook.NewDispatcher(fulfillmentService, webhookEventRepo, log)

	srv := server.NewServer(
		handler.NewWebhookHandler(verifier, dispatcher, log),
		handler.NewCheckoutHandler(cardService, libraryService, log),
		cfg.Auth.JWTSecret,
		log,
	)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info("signal received, starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown", zap.Error(err))
	}
	if err := shutdownTracer(ctx); err != nil {
		log.Error("tracer shutdown", zap.Error(err))
	}
}
