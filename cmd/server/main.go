package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"model-pipeline-service/internal/adapters/primary/http/handlers"
	"model-pipeline-service/internal/adapters/primary/http/middleware"
	"model-pipeline-service/internal/adapters/secondary/fsstore"
	"model-pipeline-service/internal/config"
	"model-pipeline-service/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	initLogger(cfg)

	store, err := fsstore.New(cfg.Artifacts.Dir)
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}
	log.Infof("artifact store at %s", store.Dir())

	predictionSvc := services.NewPredictionService(store)

	// Load whatever is currently published. Nothing published yet is
	// fine; the API answers 503 until the first publish lands.
	if err := predictionSvc.Reload(context.Background()); err != nil {
		log.WithError(err).Warn("initial artifact load failed")
	}

	// Follow the store's published version for the life of the process.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	watcher := fsstore.NewWatcher(store, cfg.Artifacts.PollInterval)
	go func() {
		err := watcher.Watch(watchCtx, func() {
			if err := predictionSvc.Reload(context.Background()); err != nil {
				log.WithError(err).Warn("artifact reload failed")
			}
		})
		if err != nil {
			log.WithError(err).Error("artifact watch stopped")
		}
	}()

	// Primary Adapter (HTTP Handlers)
	h := handlers.NewServingHandler(predictionSvc)

	// Setup router
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), gin.Recovery())

	api := router.Group("/api/v1")
	h.RegisterRoutes(api)

	// Liveness only; model load state is visible on /api/v1/version
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("starting serving server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	watchCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced shutdown: %v", err)
	}

	log.Info("server stopped")
}

func initLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
