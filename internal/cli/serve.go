package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minervahq/minerva/internal/config"
	"github.com/minervahq/minerva/internal/logger"
	"github.com/minervahq/minerva/pkg/agent"
	"github.com/minervahq/minerva/pkg/cache"
	"github.com/minervahq/minerva/pkg/gateway"
	"github.com/minervahq/minerva/pkg/kvstore"
	"github.com/minervahq/minerva/pkg/ratelimit"
	"github.com/minervahq/minerva/pkg/session"
	"github.com/minervahq/minerva/pkg/toolrpc"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Minerva API server",
	Long: `Run the Minerva API server in the foreground. The server exposes
blocking queries, SSE and websocket streams, backed by the agent loop,
the tool server and Redis.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.GetZerolog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis degrades to a no-op store when unreachable; caching and rate
	// limiting switch off rather than blocking startup.
	store := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Logger:   log,
	})
	defer store.Close()
	if !store.Available() {
		log.Warn().Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, caching and rate limiting disabled")
	}

	toolClient, err := toolrpc.NewClient(toolrpc.Config{
		ServerURL:   cfg.Tools.ServerURL,
		CallTimeout: cfg.Tools.CallTimeout(),
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool client: %w", err)
	}
	if err := toolClient.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.Tools.ServerURL).Msg("Tool server unreachable, starting without tools")
	}
	defer toolClient.Disconnect()

	provider, err := agent.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	orchestrator, err := agent.New(agent.Config{
		Provider:     provider,
		Tools:        toolClient,
		Cache:        cache.New(store, log),
		Sessions:     session.NewStore(),
		Logger:       log,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		MaxRounds:    cfg.Agent.MaxRounds,
		ModelTimeout: cfg.Agent.ModelTimeout(),
		CacheTTL:     cfg.Agent.CacheTTL(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Keep the tool descriptor list fresh without restarting.
	scheduler := cron.New()
	if cfg.Tools.RefreshSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Tools.RefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := toolClient.Refresh(refreshCtx); err != nil {
				log.Warn().Err(err).Msg("Tool descriptor refresh failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid tools.refresh_schedule: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	server, err := gateway.NewServer(
		gateway.ServerOptions{Host: cfg.Server.Host, Port: cfg.Server.Port},
		orchestrator,
		ratelimit.New(store, ratelimit.Normal, log),
		ratelimit.New(store, ratelimit.Streaming, log),
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info().Str("provider", provider.Name()).Str("model", cfg.LLM.Model).Msg("Minerva started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	return server.Stop()
}
