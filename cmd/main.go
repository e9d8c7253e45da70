package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-gamer/server/internal/ai"
	"ai-gamer/server/internal/chat"
	"ai-gamer/server/internal/commentary"
	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/memory"
	"ai-gamer/server/internal/obs"
	"ai-gamer/server/internal/rag"
	"ai-gamer/server/internal/storage"
	"ai-gamer/server/internal/tts"
	"ai-gamer/server/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Printf("Warning: Failed to load config file, using defaults: %v", err)
		cfg = config.Default()
	}

	// Initialize storage connections
	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer mysqlStore.Close()
	log.Println("MySQL connected successfully")

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		redisStore = nil
	} else {
		defer redisStore.Close()
		log.Println("Redis connected successfully")
	}

	// Initialize AI clients
	aiClient := ai.NewClient(cfg.AI.Generation, mysqlStore)
	embedder := ai.NewEmbeddingService(cfg.AI.Embedding, cfg.AI.Generation.BaseURL)

	// Initialize the vector index for memory search
	var memoryIndex *rag.MemoryIndex
	if cfg.AI.Embedding.APIKey != "" {
		memoryIndex, err = rag.NewMemoryIndex(cfg.Database.Qdrant, embedder)
		if err != nil {
			log.Printf("Warning: Failed to connect to Qdrant: %v", err)
			memoryIndex = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := memoryIndex.EnsureCollection(ctx); err != nil {
				log.Printf("Warning: Failed to initialize Qdrant collection: %v", err)
				memoryIndex.Close()
				memoryIndex = nil
			} else {
				log.Println("Qdrant connected successfully")
				defer memoryIndex.Close()
			}
			cancel()
		}
	}

	// Event hub
	hub := web.NewEventHub()
	go hub.Run()

	// Memory engine
	var slots memory.SlotStore
	if redisStore != nil {
		slots = redisStore
	}
	var searcher memory.Searcher
	if memoryIndex != nil {
		searcher = memoryIndex
	}
	memEngine := memory.NewEngine(mysqlStore, slots, aiClient, searcher, hub, cfg.Memory)
	defer memEngine.Close()

	// Providers. A stored OBS config overrides the file/env one so URL and
	// password changes made from the control panel survive restarts.
	obsCfg := cfg.OBS
	if found, err := mysqlStore.GetSetting("obs_config", &obsCfg); err != nil {
		log.Printf("Warning: Failed to load OBS config: %v", err)
	} else if found {
		log.Printf("Loaded stored OBS config (%s)", obsCfg.URL)
	}
	obsClient := obs.NewClient(obsCfg)
	ttsClient := tts.NewClient(cfg.TTS)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	ttsClient.StartCleanupLoop(rootCtx, time.Hour, 24*time.Hour)

	if err := mysqlStore.CleanOldInteractions(30 * 24 * time.Hour); err != nil {
		log.Printf("Warning: Failed to clean old interactions: %v", err)
	}

	// Commentary orchestrator
	orchestrator := commentary.New(aiClient, obsClient, ttsClient, memEngine, hub, mysqlStore, cfg.Commentary)

	// Twitch chat
	twitchService := chat.NewTwitchService(hub)
	if cfg.Twitch.Channel != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
		if res := twitchService.Connect(ctx, cfg.Twitch.Channel, cfg.Twitch.Username, cfg.Twitch.Token); !res.Success {
			log.Printf("Warning: Failed to connect to Twitch: %s", res.Message)
		}
		cancel()
	}

	// HTTP server
	srv := web.NewServer(cfg, hub, orchestrator, memEngine, obsClient, ttsClient, twitchService, aiClient, mysqlStore)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	orchestrator.Stop()
	obsClient.Disconnect()
	twitchService.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
