package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/ledgerline/contractflow/internal/api"
	"github.com/ledgerline/contractflow/internal/config"
	"github.com/ledgerline/contractflow/internal/coordination"
	"github.com/ledgerline/contractflow/internal/notify"
	"github.com/ledgerline/contractflow/internal/pipeline"
	"github.com/ledgerline/contractflow/internal/store"
	"github.com/ledgerline/contractflow/internal/vectorstore"
	"github.com/ledgerline/contractflow/internal/workflow"
	"github.com/ledgerline/contractflow/internal/ws"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Contractflow...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/contractflow.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Workflow state registry: Redis-backed when configured, in-memory otherwise.
	var registry workflow.Registry
	var redisRegistry *workflow.RedisRegistry
	if cfg.Database.Redis.URL != "" {
		rr, rErr := workflow.NewRedisRegistry(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, using in-memory workflow registry", zap.Error(rErr))
			registry = workflow.NewMemoryRegistry()
		} else {
			redisRegistry = rr
			registry = rr
			logger.Info("Redis workflow registry initialized")
		}
	} else {
		registry = workflow.NewMemoryRegistry()
	}

	// Record store for contracts and invoices.
	var recordStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			recordStore = ps
		}
	}

	// Reviewer notifiers.
	var notifiers []pipeline.ReviewNotifier
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers = append(notifiers,
			notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(dErr))
		} else {
			notifiers = append(notifiers, dn)
		}
	}

	// Coordination layer.
	set := coordination.NewCoordinatorSet(logger)
	connections := coordination.NewConnectionRegistry(set, registry, logger)
	polling := coordination.NewPollingBridgeAdapter(set, registry,
		time.Duration(cfg.Pipeline.PollIntervalSeconds)*time.Second, logger)

	var invoiceStore pipeline.InvoiceStore
	var contractStore api.ContractStore
	if recordStore != nil {
		invoiceStore = recordStore
		contractStore = recordStore
	}
	engine := pipeline.NewEngine(set, registry, pipeline.BuiltinRunners(), invoiceStore, notifiers,
		time.Duration(cfg.Pipeline.ReviewTimeoutSeconds)*time.Second, cfg.Pipeline.StageRetries, logger)

	// Contract similarity retrieval (optional; needs an embedder collaborator).
	retriever := buildRetriever(cfg, logger)

	wsServer := ws.NewServer(connections, logger)
	handler := api.NewHandler(engine, polling, connections, wsServer, retriever, contractStore, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Contractflow listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Contractflow...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if recordStore != nil {
		recordStore.Close()
	}
	if redisRegistry != nil {
		redisRegistry.Close()
	}
}

// buildRetriever wires contract similarity search when both Qdrant and an
// embedding endpoint are configured.
func buildRetriever(cfg *config.Config, logger *zap.Logger) *vectorstore.Retriever {
	if cfg.Database.Qdrant.Host == "" || cfg.Embedding.Endpoint == "" {
		return nil
	}
	dimension := cfg.Database.Qdrant.Dimension
	if dimension == 0 {
		dimension = 1536
	}
	client, err := vectorstore.NewClient(context.Background(), vectorstore.Config{
		Host:      cfg.Database.Qdrant.Host,
		Port:      cfg.Database.Qdrant.Port,
		Dimension: dimension,
	})
	if err != nil {
		logger.Warn("Qdrant unavailable, similarity search disabled", zap.Error(err))
		return nil
	}
	embedder := vectorstore.NewAPIEmbedder(vectorstore.EmbedderConfig{
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
	})
	logger.Info("Contract similarity search initialized")
	return vectorstore.NewRetriever(client, embedder)
}
