package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oroshine/booking-engine/internal/api"
	"github.com/oroshine/booking-engine/internal/booking"
	"github.com/oroshine/booking-engine/internal/config"
	"github.com/oroshine/booking-engine/internal/db"
	"github.com/oroshine/booking-engine/internal/notify"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s buffer=%s lock_ttl=%s", cfg.Env, cfg.HTTPPort, cfg.BookingBuffer, cfg.LockTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatalf("schema migration error: %v", err)
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	cache := redisclient.NewAvailabilityCache(rdb, cfg.AvailabilityTTL)
	limiter := redisclient.NewRateLimiter(rdb)
	queue := redisclient.NewTaskQueue(rdb, "notifications")
	markers := redisclient.NewMarkerStore(rdb, cfg.MarkerTTL)

	// The API process only enqueues; cmd/notify-worker consumes, so the
	// collaborators here are never called.
	dispatcher := notify.NewDispatcher(queue, markers, repo, nil, nil, notify.DispatcherConfig{
		ClinicEmail: cfg.ClinicEmail,
		MaxRetries:  cfg.MaxTaskRetries,
		BaseDelay:   cfg.RetryBaseDelay,
	})

	svc := booking.NewService(repo, locker, cache, dispatcher, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Limiter: limiter,
		PgPool:  pgPool,
		Redis:   rdb,
		Cfg:     cfg,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
