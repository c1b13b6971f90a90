package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kiara-intelligence/kiara/agent"
	"github.com/kiara-intelligence/kiara/chat"
	"github.com/kiara-intelligence/kiara/config"
	"github.com/kiara-intelligence/kiara/conversations"
	"github.com/kiara-intelligence/kiara/llm"
	"github.com/kiara-intelligence/kiara/llm/openrouter"
	kiaralogger "github.com/kiara-intelligence/kiara/logger"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/migrations"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logFile    string
	pretty     bool
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "kiara",
	Short:         "Kiara Intelligence chat with long-term memory",
	Long:          "Chat with the Kiara models while memories, personality and conversation notes are kept in SQLite.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != "" && pretty {
			return fmt.Errorf("--logfile and --pretty are mutually exclusive")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "Path to log file. If not set, logs to stdout/stderr")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database file (default: database.path from config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $KIARA_CONFIG_PATH or ~/.kiara/config.yaml)")
}

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg           *config.Config
	logger        zerolog.Logger
	db            *sql.DB
	memories      *memory.Manager
	personalities *personality.Manager
	agents        *agent.Manager
	store         *conversations.Store
}

func (a *app) Close() error {
	return a.db.Close()
}

// newApp loads configuration, opens the database and wires the memory,
// personality and agent layers.
func newApp() (*app, error) {
	logger, err := kiaralogger.InitWithOptions(logFile, pretty)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger.Info().
		Str("config", path).
		Str("db", cfg.Database.Path).
		Msg("kiara starting")

	db, err := migrations.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	personalities, err := personality.NewManager(cfg.Personality.ProfilesDir, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load personality profiles: %w", err)
	}

	memories := memory.NewManager(memory.NewSQLBackend(db, logger), logger,
		memory.WithShortTermTTL(cfg.Memory.ShortTermTTL),
		memory.WithRelevantLimit(cfg.Memory.RelevantLimit),
		memory.WithConsolidateEvery(cfg.Memory.ConsolidateEvery),
		memory.WithPendingLog(memory.NewPendingLog(cfg.Memory.PendingMaxRetries, 500*time.Millisecond, logger)),
		memory.WithProfileUpdater(personalities),
	)

	agents := agent.NewManager(memories, personalities, logger,
		agent.WithUserLevel(cfg.Personality.UserLevel),
		agent.WithPreloadLimit(cfg.Memory.PreloadLimit),
	)

	return &app{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		memories:      memories,
		personalities: personalities,
		agents:        agents,
		store:         conversations.NewStore(db, logger),
	}, nil
}

// chatService builds the OpenRouter client stack and the chat pipeline.
func (a *app) chatService() (*chat.Service, error) {
	if a.cfg.OpenRouter.APIKey == "" {
		return nil, fmt.Errorf("missing openrouter.api_key in config file (or OPENROUTER_API_KEY)")
	}
	base, err := openrouter.NewClient(openrouter.Options{
		APIKey:  a.cfg.OpenRouter.APIKey,
		BaseURL: a.cfg.OpenRouter.BaseURL,
		Model:   a.cfg.Model("dominator").Model,
		Referer: a.cfg.OpenRouter.Referer,
		Title:   a.cfg.OpenRouter.Title,
		Timeout: a.cfg.Chat.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter client: %w", err)
	}

	client := llm.WrapWithMiddleware(base, llm.NewLoggingMiddleware(a.logger))
	client = llm.WithRetry(client, llm.DefaultRetryPolicy(), a.logger)

	return chat.NewService(a.memories, a.agents, a.personalities, a.store, client, a.cfg, a.logger), nil
}
