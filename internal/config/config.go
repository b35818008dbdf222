package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AppEnv                string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	NotifyChannel         string
	ReconcileLockSeconds  int
	LowStockAlertLimit    int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	OTLPEndpoint          string
	ServiceName           string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	lockSeconds, err := strconv.Atoi(getEnv("RECONCILE_LOCK_SECONDS", "15"))
	if err != nil || lockSeconds < 1 {
		lockSeconds = 15
	}
	alertLimit, err := strconv.Atoi(getEnv("LOW_STOCK_ALERT_LIMIT", "20"))
	if err != nil || alertLimit < 1 {
		alertLimit = 20
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AppEnv:                getEnv("APP_ENV", "production"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		NotifyChannel:         getEnv("NOTIFY_CHANNEL", "barpos:changes"),
		ReconcileLockSeconds:  lockSeconds,
		LowStockAlertLimit:    alertLimit,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:           getEnv("SERVICE_NAME", "barpos-backend"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
