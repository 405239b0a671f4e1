package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/oroshine/booking-engine/internal/booking"
	"github.com/oroshine/booking-engine/internal/config"
	"github.com/oroshine/booking-engine/internal/db"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

// Flips confirmed appointments whose time has passed to completed. Runs as
// its own binary so API replicas stay stateless.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("completion-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	cache := redisclient.NewAvailabilityCache(rdb, cfg.AvailabilityTTL)
	svc := booking.NewService(repo, locker, cache, noopEnqueuer{}, cfg)

	// Run once at startup, then every 10 minutes.
	runOnce(rootCtx, svc)

	c := cron.New()
	if _, err := c.AddFunc("*/10 * * * *", func() {
		runOnce(rootCtx, svc)
	}); err != nil {
		log.Fatalf("schedule completion sweep: %v", err)
	}
	c.Start()

	<-rootCtx.Done()
	log.Println("shutdown signal received, stopping completion worker")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

// The sweep only mutates status; there is nothing to notify.
type noopEnqueuer struct{}

func (noopEnqueuer) AppointmentBooked(ctx context.Context, id uuid.UUID) error    { return nil }
func (noopEnqueuer) AppointmentCancelled(ctx context.Context, id uuid.UUID) error { return nil }

func runOnce(ctx context.Context, svc *booking.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.CompletePastAppointments(runCtx); err != nil {
		log.Printf("completion run error: %v", err)
		return
	}
	log.Printf("completion run complete in %s", time.Since(start))
}
