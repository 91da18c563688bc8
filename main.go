package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/choraleia/chathub/pkg/config"
	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/engine"
	"github.com/choraleia/chathub/pkg/event"
	"github.com/choraleia/chathub/pkg/memory"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}

	cfg, configFile, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	utils.SetLogLevel(cfg.Log.Level)
	logger.Info("Config loaded", "file", configFile, "driver", cfg.DatabaseDriver())

	database, err := db.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}

	var store memory.Store = memory.NewInMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = memory.NewRedisStore(rdb)
		logger.Info("Chat memory kept in redis", "addr", cfg.Redis.Addr)
	}

	credentials := service.NewCredentialsService(database, utils.NewCipher(cfg.EncryptionKey()))
	workflows := service.NewWorkflowService(database)
	agents := service.NewAgentService(database, credentials)
	modelService := service.NewModelService(credentials, workflows, agents)
	emitter := event.NewEmitter()

	chat := service.NewChatHubService(
		database,
		engine.NewLocalEngine(modelService, store),
		credentials,
		workflows,
		agents,
		emitter,
		service.ChatHubOptions{
			ContextWindowLength: cfg.MemoryWindow(),
			TitleTimeout:        cfg.TitleTimeout(),
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, Services{
		Chat:        chat,
		Models:      modelService,
		Agents:      agents,
		Credentials: credentials,
		Workflows:   workflows,
		Emitter:     emitter,
	})
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	chat.Shutdown()
}
