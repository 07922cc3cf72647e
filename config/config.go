package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"lodge-service/pkg/database"

	"go.uber.org/zap"
)

type Config struct {
	Port     string
	DB       DB
	Redis    Redis
	Kafka    Kafka
	Payments Payments
	Booking  Booking
	Sweeper  Sweeper
}

type DB struct {
	database.Config
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type Kafka struct {
	Brokers               []string
	GroupID               string
	TopicBookingEvents    string
	TopicPaymentCallbacks string
}

type Payments struct {
	GatewayURL  string
	GatewayKey  string
	CallbackURL string
	Timeout     time.Duration
}

type Booking struct {
	DepositPercent     int
	AutoConfirmOffline bool
}

type Sweeper struct {
	Interval        time.Duration
	PendingTTL      time.Duration
	StalePaymentTTL time.Duration
	VerifyAfter     time.Duration
}

func Load(log *zap.Logger) *Config {
	return &Config{
		Port: getEnv("GRPC_PORT", log),
		DB: DB{
			Config: database.Config{
				Host:     getEnv("DB_HOST", log),
				Port:     getEnv("DB_PORT", log),
				User:     getEnv("DB_USER", log),
				Password: getEnv("DB_PASSWORD", log),
				Name:     getEnv("DB_NAME", log),
				SSLMode:  getEnv("DB_SSLMODE", log),
			},
		},
		Redis: Redis{
			Enabled:  getEnvDefault("REDIS_ENABLED", "false") == "true",
			Addr:     getEnvDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvDefault("REDIS_PASSWORD", ""),
			DB:       atoiDefault(getEnvDefault("REDIS_DB", "0"), 0),
			CacheTTL: parseDurationWithDays(getEnvDefault("AVAILABILITY_CACHE_TTL", "30s")),
		},
		Kafka: Kafka{
			Brokers:               splitAndTrim(os.Getenv("KAFKA_BROKERS")),
			GroupID:               getEnvDefault("KAFKA_GROUP_ID", "lodge-service"),
			TopicBookingEvents:    getEnvDefault("KAFKA_TOPIC_BOOKING_EVENTS", "lodge.booking.events"),
			TopicPaymentCallbacks: getEnvDefault("KAFKA_TOPIC_PAYMENT_CALLBACKS", "lodge.payment.callbacks"),
		},
		Payments: Payments{
			GatewayURL:  getEnv("PAYMENT_GATEWAY_URL", log),
			GatewayKey:  getEnv("PAYMENT_GATEWAY_KEY", log),
			CallbackURL: getEnv("PAYMENT_CALLBACK_URL", log),
			Timeout:     parseDurationWithDays(getEnvDefault("PAYMENT_PROVIDER_TIMEOUT", "10s")),
		},
		Booking: Booking{
			DepositPercent:     atoiDefault(getEnvDefault("DEPOSIT_PERCENT", "30"), 30),
			AutoConfirmOffline: getEnvDefault("AUTO_CONFIRM_OFFLINE", "false") == "true",
		},
		Sweeper: Sweeper{
			Interval:        parseDurationWithDays(getEnvDefault("SWEEP_INTERVAL", "5m")),
			PendingTTL:      parseDurationWithDays(getEnvDefault("PENDING_TTL", "2d")),
			StalePaymentTTL: parseDurationWithDays(getEnvDefault("STALE_PAYMENT_TTL", "30m")),
			VerifyAfter:     parseDurationWithDays(getEnvDefault("PAYMENT_VERIFY_AFTER", "15m")),
		},
	}
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

// parseDurationWithDays понимает стандартный формат time.ParseDuration и суффикс "d" (дни).
func parseDurationWithDays(s string) time.Duration {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0
		}
		return time.Duration(days) * 24 * time.Hour
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return duration
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		pt := strings.TrimSpace(p)
		if pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
