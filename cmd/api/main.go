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

	"inkwell/api/internal/app"
	"inkwell/api/internal/archive"
	"inkwell/api/internal/chat"
	"inkwell/api/internal/config"
	"inkwell/api/internal/endpoint"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitmirror"
	"inkwell/api/internal/persist"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("persistence backend failed: %v", err)
	}

	dataStore := store.New()
	var saver *persist.Saver
	if backend != nil {
		defer backend.Close()
		state, err := persist.Load(ctx, backend)
		if err != nil {
			log.Fatalf("state load failed: %v", err)
		}
		dataStore.Load(state)
		saver = persist.NewSaver(backend)
		defer saver.Close()
	} else {
		log.Printf("No persistence backend configured, state is in-memory only")
	}

	if err := os.MkdirAll(cfg.MirrorDir, 0o755); err != nil {
		log.Fatalf("failed to create mirror dir: %v", err)
	}
	mirror := gitmirror.New(cfg.MirrorDir)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewMemory(dataStore))
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveService, err = archive.New(ctx, archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("archive setup failed: %v", err)
		}
		log.Printf("Evicted versions archived to %s", cfg.MinioEndpoint)
	}

	var chatHandler http.Handler
	var streamer session.Streamer
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		chatHandler = chat.NewHandler(chat.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL))
		streamer = &session.HTTPStreamer{
			Resolver: endpoint.Resolver{BaseURL: cfg.ChatBaseURL, DevOrigin: cfg.DevOrigin},
			Mode:     dataStore.APIMode,
		}
	} else {
		log.Printf("OPENAI_API_KEY not set, chat disabled")
	}

	service := app.NewService(app.Deps{
		Store:    dataStore,
		Saver:    saver,
		Backend:  backend,
		Search:   searchService,
		Mirror:   mirror,
		Archive:  archiveService,
		Export:   export.NewService(dataStore),
		Streamer: streamer,
	})

	httpServer := app.NewHTTPServer(service, chatHandler, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: chat responses stream for as long as a turn runs.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
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

// openBackend picks the durable store: Redis when configured, then Postgres,
// otherwise none.
func openBackend(ctx context.Context, cfg config.Config) (persist.Backend, error) {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for state persistence")
		return persist.NewRedisBackend(cfg.RedisURL)
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Using PostgreSQL for state persistence")
		return persist.NewPostgresBackend(ctx, cfg.DatabaseURL)
	}
	return nil, nil
}
