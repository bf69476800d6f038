package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lawbook/api/internal/allocator"
	"lawbook/api/internal/app"
	"lawbook/api/internal/authz"
	"lawbook/api/internal/config"
	"lawbook/api/internal/evidence"
	"lawbook/api/internal/search"
	"lawbook/api/internal/store"
	"lawbook/api/internal/tally"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if strings.TrimSpace(cfg.MasterID) == "" {
		log.Printf("WARNING: LAWBOOK_MASTER_ID is not set; all gated operations will be refused")
	}

	violationPolicy, err := allocator.ParsePolicy(cfg.ViolationIDPolicy)
	if err != nil {
		log.Fatalf("invalid VIOLATION_ID_POLICY: %v", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gate := authz.NewGate(cfg.MasterID)
	service := app.New(dataStore, gate, violationPolicy, cfg.AllocMaxAttempts)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for offender tallies")
		tallyCache, err := tally.NewRedisCache(cfg.RedisURL, time.Duration(cfg.TallyTTLSeconds)*time.Second)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer tallyCache.Close()
		service = service.WithTally(tallyCache)
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		log.Printf("Using Meilisearch for rule search")
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		service = service.WithSearch(search.NewService(meiliClient, dataStore))
	}

	var evidenceService *evidence.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO for evidence storage")
		evidenceService, err = evidence.New(ctx, evidence.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	}

	httpServer := app.NewHTTPServer(service, evidenceService, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Lawbook API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
