package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"devicewatch.org/internal/auth"
	"devicewatch.org/internal/config"
	"devicewatch.org/internal/httpapi"
	"devicewatch.org/internal/obs"
	"devicewatch.org/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	// Регистрация метрик и логгера
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("DEVICEWATCH_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	limiter, err := ratelimit.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("ratelimit: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Printf("rate limiting disabled: no counter store configured (fail-open)")
	}

	codec, err := auth.NewCodec(cfg.AccessSecret, cfg.RefreshSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	store := auth.NewPGStore(db)
	svc, err := auth.NewService(store, codec, auth.WithRateLimiter(limiter))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, store, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.RateLimit(api.Handler(), 20, 10),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting devicewatch-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
