package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"barpos/backend/internal/config"
	"barpos/backend/internal/httpapi"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/logger"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/service"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/memory"
	pgstore "barpos/backend/internal/store/postgres"
	"barpos/backend/internal/telemetry"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			closers = append(closers, func() error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return tp.Shutdown(shutdownCtx)
			})
			log.Info("tracing: otlp", zap.String("endpoint", cfg.OTLPEndpoint))
		}
		mp, err := telemetry.InitMeter(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
		if err != nil {
			log.Warn("metrics disabled", zap.Error(err))
		} else {
			closers = append(closers, func() error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return mp.Shutdown(shutdownCtx)
			})
		}
	}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		seeded, err := memory.NewSeeded(log)
		if err != nil {
			log.Fatal("seed in-memory repository", zap.Error(err))
		}
		repo = seeded
		log.Info("repository: in-memory")
	}

	var broker notify.Broker
	var locker lock.Locker
	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisBroker := notify.NewRedisBroker(client, cfg.NotifyChannel, log)
		if err := redisBroker.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process broker and locks", zap.Error(err))
			_ = client.Close()
		} else {
			broker = redisBroker
			locker = lock.NewRedisLocker(client)
			closers = append(closers, client.Close)
			log.Info("broker: redis", zap.String("channel", cfg.NotifyChannel))
		}
	}
	if broker == nil {
		broker = notify.NewHub(32, log)
		log.Info("broker: in-process")
	}

	lockTTL := time.Duration(cfg.ReconcileLockSeconds) * time.Second
	if locker == nil {
		locker = lock.NewLocalLocker(lockTTL)
	}

	svc := service.New(repo, broker, locker, log, service.Options{
		ReconcileLockTTL:   lockTTL,
		LowStockAlertLimit: cfg.LowStockAlertLimit,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	// The dashboard stream clears its own write deadline.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("bar POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
