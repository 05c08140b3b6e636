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

	"framedata/api/internal/app"
	"framedata/api/internal/config"
	"framedata/api/internal/counter"
	"framedata/api/internal/gitrepo"
	"framedata/api/internal/media"
	"framedata/api/internal/proposals"
	"framedata/api/internal/publish"
	"framedata/api/internal/redisstore"
	"framedata/api/internal/search"
	"framedata/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	catalog, err := store.DefaultCatalog()
	if strings.TrimSpace(cfg.QueriesDir) != "" {
		log.Printf("Loading named queries from %s", cfg.QueriesDir)
		catalog, err = store.LoadCatalog(os.DirFS(cfg.QueriesDir))
	}
	if err != nil {
		log.Fatalf("query catalog failed: %v", err)
	}

	proposed := store.NewPostgresStore(db, store.BucketProposed, catalog, cfg.StoreTimeout)
	published := store.NewPostgresStore(db, store.BucketPublished, catalog, cfg.StoreTimeout)

	policy := store.DefaultRetryPolicy()
	if cfg.CounterMaxAttempts > 0 {
		policy.MaxAttempts = uint(cfg.CounterMaxAttempts)
	}

	var (
		versions *counter.Counter
		counters *redisstore.Store
	)
	switch cfg.CounterBackend {
	case "redis":
		log.Printf("Using Redis for proposal counters")
		counters, err = redisstore.New(cfg.RedisURL, "framedata:", cfg.StoreTimeout)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer counters.Close()
		versions = counter.New(counters, policy)
	case "postgres", "":
		log.Printf("Using PostgreSQL for proposal counters")
		versions = counter.New(proposed, policy)
	default:
		log.Fatalf("unknown COUNTER_BACKEND %q", cfg.CounterBackend)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewTagSets(published))
	defer searchService.Close()

	proposalStore := proposals.NewStore(proposed, proposed, store.DefaultRetryPolicy())
	pipeline := publish.New(proposalStore, published, searchService)
	service := app.New(cfg, published, proposalStore, versions, pipeline, searchService)
	if counters != nil {
		service.WithDependency("redis", counters)
	}

	if strings.TrimSpace(cfg.JournalDir) != "" {
		log.Printf("Recording publications in %s", cfg.JournalDir)
		journal := gitrepo.New(cfg.JournalDir)
		pipeline.WithJournal(journal)
		service.WithJournal(journal)
	}

	if strings.TrimSpace(cfg.MediaEndpoint) != "" {
		files, err := media.New(media.Config{
			Endpoint:  cfg.MediaEndpoint,
			AccessKey: cfg.MediaAccessKey,
			SecretKey: cfg.MediaSecretKey,
			Bucket:    cfg.MediaBucket,
			UseSSL:    cfg.MediaUseSSL,
			Timeout:   cfg.StoreTimeout,
		})
		if err != nil {
			log.Fatalf("media store failed: %v", err)
		}
		service.WithMedia(files)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Framedata API listening on %s", cfg.Addr)
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
