package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"lodge-service/config"
	"lodge-service/internal/cache"
	"lodge-service/internal/consumer"
	"lodge-service/internal/payment"
	"lodge-service/internal/producer"
	"lodge-service/internal/repository"
	"lodge-service/internal/service"
	"lodge-service/internal/sweeper"
	gtransport "lodge-service/internal/transport/grpc"
	"lodge-service/pkg/database"
	"lodge-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos := repository.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", zap.Error(err))
	}
	healthSrv := health.NewServer()
	healthReporter := gtransport.NewHealthReporter(healthSrv, 0, log)
	healthReporter.Add("postgres", gtransport.PingFunc(sqlDB.PingContext))

	var availability service.AvailabilityCache
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("failed to create redis client", zap.Error(err))
		}
		defer redisClient.Close()
		availability = cache.NewAvailabilityCache(redisClient, cfg.Redis.CacheTTL, log)
		healthReporter.Add("redis", redisClient)
		log.Info("Redis cache enabled")
	} else {
		log.Info("Redis cache disabled")
	}

	var events service.EventBus
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer := producer.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBookingEvents)
		defer kafkaProducer.Close()
		events = kafkaProducer
	} else {
		log.Warn("KAFKA_BROKERS не задан, события бронирований не публикуются")
	}

	providers := payment.NewDefaultRegistry(payment.GatewayConfig{
		BaseURL: cfg.Payments.GatewayURL,
		APIKey:  cfg.Payments.GatewayKey,
		Timeout: cfg.Payments.Timeout,
	}, log)

	bookingSvc := service.NewBookingService(service.Deps{
		Repo:      repos,
		Providers: providers,
		Cache:     availability,
		Events:    events,
		Policy: service.Policy{
			DepositPercent:     cfg.Booking.DepositPercent,
			AutoConfirmOffline: cfg.Booking.AutoConfirmOffline,
			ProviderTimeout:    cfg.Payments.Timeout,
			CallbackURL:        cfg.Payments.CallbackURL,
		},
		Log: log,
	})

	if len(cfg.Kafka.Brokers) > 0 {
		callbacks := consumer.NewPaymentCallbackConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.TopicPaymentCallbacks, bookingSvc, log)
		defer callbacks.Close()
		go func() {
			if err := callbacks.Run(ctx); err != nil {
				log.Error("payment callback consumer stopped", zap.Error(err))
			}
		}()
	}

	sw := sweeper.New(repos.Reservations, repos.Payments, bookingSvc, sweeper.Config{
		PendingTTL:      cfg.Sweeper.PendingTTL,
		StalePaymentTTL: cfg.Sweeper.StalePaymentTTL,
		VerifyAfter:     cfg.Sweeper.VerifyAfter,
	}, log)
	scheduler := sweeper.NewScheduler(sw, cfg.Sweeper.Interval, log)
	scheduler.Start(ctx)

	go healthReporter.Run(ctx)

	lis, err := net.Listen("tcp", cfg.Port)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			gtransport.NewRecoveryUnaryServerInterceptor(log),
			gtransport.NewLoggingUnaryServerInterceptor(log),
		),
	)

	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Starting gRPC server", zap.String("addr", cfg.Port))
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	<-quit
	log.Info("Shutting down gRPC server...")

	healthSrv.Shutdown()
	scheduler.Stop()
	cancel()

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped gracefully")
}
