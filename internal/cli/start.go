package cli

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkoval/zoya/internal/config"
	"github.com/dkoval/zoya/internal/logger"
	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/internal/telegram"
	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/coretools"
	"github.com/dkoval/zoya/pkg/dialog"
	"github.com/dkoval/zoya/pkg/exchange"
	"github.com/dkoval/zoya/pkg/extract"
	"github.com/dkoval/zoya/pkg/history"
	"github.com/dkoval/zoya/pkg/maintenance"
	"github.com/dkoval/zoya/pkg/persona"
	"github.com/dkoval/zoya/pkg/profile"
	"github.com/dkoval/zoya/pkg/provider"
	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bot",
	Long:  "Start the bot in the foreground: connect to Telegram, open the stores, and process messages until interrupted.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	resolver, err := sandbox.NewResolver(sandbox.Config{
		BaseDir:       cfg.Sandbox.BaseDir,
		MaxReadBytes:  cfg.Sandbox.MaxReadBytes,
		MaxWriteBytes: cfg.Sandbox.MaxWriteBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to set up sandbox: %w", err)
	}

	hist, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer hist.Close()

	profiles, err := profile.Open(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer profiles.Close()

	actions := actionlog.New(cfg.Maintenance.ActionLogKeep)

	personaSrc, err := persona.New(cfg.Persona.Path)
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}
	defer personaSrc.Close()

	gemini := provider.NewGeminiClient(
		provider.WithBaseURL(cfg.Provider.BaseURL),
		provider.WithMetrics(m),
	)

	registry := tool.NewRegistry()
	dispatcher := tool.NewDispatcher(registry, tool.DispatcherConfig{
		ReadTimeout:     time.Duration(cfg.Tools.ReadTimeoutSec) * time.Second,
		MutatingTimeout: time.Duration(cfg.Tools.MutatingTimeoutSec) * time.Second,
		MaxOutputChars:  cfg.Tools.MaxOutputChars,
	}, m).WithPolicy(exchange.NewPolicy())

	driver := dialog.NewDriver(gemini, dispatcher, dialog.Config{
		ProModel:     cfg.Provider.ProModel,
		LiteModel:    cfg.Provider.LiteModel,
		ProMaxSteps:  cfg.Dialog.ProMaxSteps,
		LiteMaxSteps: cfg.Dialog.LiteMaxSteps,
		APIKeys:      cfg.Provider.APIKeys,
		MaxAttempts:  cfg.Provider.Retry.MaxAttempts,
		BaseDelay:    time.Duration(cfg.Provider.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Provider.Retry.MaxDelayMS) * time.Millisecond,
	}, m)

	engine := exchange.NewEngine(
		driver,
		registry,
		extract.New(coretools.SendToolName, coretools.AskToolName),
		hist,
		profiles,
		actions,
		personaSrc,
		m,
		exchange.Config{
			RecentLimit: cfg.History.RecentLimit,
			BudgetBytes: cfg.History.BudgetBytes,
		},
	)

	bot, err := telegram.New(cfg.Telegram, engine, hist, actions, m)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}

	// Tools need the transport for direct sends, the transport needs
	// the engine; register tools once both exist.
	if err := coretools.RegisterAll(registry, coretools.Deps{
		Resolver:  resolver,
		Runner:    sandbox.NewRunner(time.Duration(cfg.Tools.MutatingTimeoutSec) * time.Second),
		Profiles:  profiles,
		Messenger: bot,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	registry.Freeze()

	if cfg.Maintenance.Enabled {
		svc := maintenance.New(hist, actions, maintenance.Config{
			Schedule:     cfg.Maintenance.Schedule,
			ArchiveAfter: time.Duration(cfg.Maintenance.ArchiveAfterDays) * 24 * time.Hour,
		})
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start maintenance: %w", err)
		}
		defer svc.Stop()
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, m)
	}

	log.Info().Str("version", version).Msg("zoya started")
	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("bot stopped: %w", err)
	}
	log.Info().Msg("zoya shut down")
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics endpoint failed")
	}
}
