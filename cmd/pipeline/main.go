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
	"model-pipeline-service/internal/adapters/secondary/k8s"
	"model-pipeline-service/internal/adapters/secondary/postgres"
	"model-pipeline-service/internal/adapters/secondary/probe"
	"model-pipeline-service/internal/config"
	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
	"model-pipeline-service/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	initLogger(cfg)

	// Create database pool
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		log.Fatalf("parse db config: %v", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		log.Fatalf("create db pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		log.Fatalf("ping db: %v", err)
	}
	log.Info("database connection established")

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	// Secondary Adapters (Output Ports)
	source := postgres.NewDatasetSource(pool)
	runRepo := postgres.NewPipelineRunRepository(pool)

	store, err := fsstore.New(cfg.Artifacts.Dir)
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}
	log.Infof("artifact store at %s", store.Dir())

	// Deployer (Optional - based on config)
	var deployer output.Deployer
	if cfg.Deploy.Enabled {
		client, err := k8s.NewDeployer(&cfg.Deploy)
		if err != nil {
			log.Warnf("deployer init failed (continuing without K8s integration): %v", err)
		} else {
			deployer = client
			log.Info("deployer initialized")
		}
	} else {
		log.Info("K8s deploys disabled")
	}

	prober := probe.NewClient(&cfg.Probe)

	// Core Services (Application Layer)
	trainer := services.NewTrainingService()
	pipelineSvc := services.NewPipelineService(source, trainer, store, deployer, prober, runRepo, services.PipelineOptions{
		Query: output.QuerySpec{
			Table:    cfg.Pipeline.SourceTable,
			Features: cfg.Pipeline.SourceFeatures,
			Label:    cfg.Pipeline.SourceLabel,
			Limit:    cfg.Pipeline.SourceLimit,
		},
		Train: domain.TrainConfig{
			SplitRatio:   cfg.Training.SplitRatio,
			Seed:         cfg.Training.Seed,
			Stratify:     cfg.Training.Stratify,
			LearningRate: cfg.Training.LearningRate,
			Epochs:       cfg.Training.Epochs,
		},
		Threshold:      cfg.Pipeline.Threshold,
		ExtractRetries: cfg.Pipeline.ExtractRetries,
		RetryBackoff:   cfg.Pipeline.RetryBackoff,
		HealthInterval: cfg.Pipeline.HealthInterval,
		HealthMaxPolls: cfg.Pipeline.HealthMaxPolls,
		Keep:           cfg.Artifacts.Keep,
	})

	// Primary Adapter (HTTP Handlers)
	h := handlers.NewPipelineHandler(pipelineSvc)

	// Setup router
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), gin.Recovery())

	api := router.Group("/api/v1")
	h.RegisterRoutes(api)

	// Health check with DB ping
	router.GET("/healthz", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("starting pipeline server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

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
