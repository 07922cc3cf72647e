package main

import (
	"context"
	"fmt"
	"os"

	"lodge-service/config"
	"lodge-service/internal/payment"
	"lodge-service/internal/repository"
	"lodge-service/internal/service"
	"lodge-service/internal/sweeper"
	"lodge-service/pkg/database"
	"lodge-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/sweeper/main.go [pending|noshow|payments|verify|all]")
		fmt.Println("  pending  - cancel pending reservations older than PENDING_TTL")
		fmt.Println("  noshow   - mark confirmed reservations past check-in as no_show")
		fmt.Println("  payments - fail initiated payments older than STALE_PAYMENT_TTL")
		fmt.Println("  verify   - re-check pending gateway payments older than PAYMENT_VERIFY_AFTER")
		fmt.Println("  all      - run every sweep (default)")
		os.Exit(1)
	}

	cfg := config.Load(log)

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos := repository.New(db)
	bookingSvc := service.NewBookingService(service.Deps{
		Repo: repos,
		Providers: payment.NewDefaultRegistry(payment.GatewayConfig{
			BaseURL: cfg.Payments.GatewayURL,
			APIKey:  cfg.Payments.GatewayKey,
			Timeout: cfg.Payments.Timeout,
		}, log),
		Policy: service.Policy{
			DepositPercent:     cfg.Booking.DepositPercent,
			AutoConfirmOffline: cfg.Booking.AutoConfirmOffline,
			ProviderTimeout:    cfg.Payments.Timeout,
			CallbackURL:        cfg.Payments.CallbackURL,
		},
		Log: log,
	})

	sw := sweeper.New(repos.Reservations, repos.Payments, bookingSvc, sweeper.Config{
		PendingTTL:      cfg.Sweeper.PendingTTL,
		StalePaymentTTL: cfg.Sweeper.StalePaymentTTL,
		VerifyAfter:     cfg.Sweeper.VerifyAfter,
	}, log)

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "pending":
		log.Info("running pending expiry")
		_, err = sw.ExpirePending(ctx)
	case "noshow":
		log.Info("running no-show sweep")
		_, err = sw.MarkNoShows(ctx)
	case "payments":
		log.Info("running stale payment sweep")
		_, err = sw.FailStalePayments(ctx)
	case "verify":
		log.Info("running pending payment verification")
		_, err = sw.VerifyPending(ctx)
	case "all":
		fallthrough
	default:
		log.Info("running full sweep")
		err = sw.RunAll(ctx)
	}
	if err != nil {
		log.Fatal("sweep failed", zap.Error(err))
	}

	log.Info("sweep completed successfully")
}
