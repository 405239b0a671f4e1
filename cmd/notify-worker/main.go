package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/oroshine/booking-engine/internal/booking"
	"github.com/oroshine/booking-engine/internal/config"
	"github.com/oroshine/booking-engine/internal/db"
	"github.com/oroshine/booking-engine/internal/notify"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("notify-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running notify worker in env=%s max_retries=%d base_delay=%s", cfg.Env, cfg.MaxTaskRetries, cfg.RetryBaseDelay)

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

	// The worker blocks on BRPOP, so it gets a client with a longer read timeout.
	rdb, err := redisclient.NewWorkerClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 10*time.Second)
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
	queue := redisclient.NewTaskQueue(rdb, "notifications")
	markers := redisclient.NewMarkerStore(rdb, cfg.MarkerTTL)

	email := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)

	var calendar notify.CalendarClient
	if cfg.CalendarBaseURL != "" {
		calendar = notify.NewHTTPCalendarClient(cfg.CalendarBaseURL)
	} else {
		log.Println("CALENDAR_BASE_URL not set, calendar sync disabled")
		calendar = notify.NoopCalendar{}
	}

	dispatcher := notify.NewDispatcher(queue, markers, repo, email, calendar, notify.DispatcherConfig{
		ClinicEmail: cfg.ClinicEmail,
		MaxRetries:  cfg.MaxTaskRetries,
		BaseDelay:   cfg.RetryBaseDelay,
	})

	dispatcher.Run(rootCtx)
}
