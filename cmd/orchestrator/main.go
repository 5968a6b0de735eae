package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebridge/orchestrator/internal/api"
	"github.com/carebridge/orchestrator/internal/bus"
	"github.com/carebridge/orchestrator/internal/config"
	"github.com/carebridge/orchestrator/internal/conversation"
	"github.com/carebridge/orchestrator/internal/correlation"
	"github.com/carebridge/orchestrator/internal/intent"
	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/metrics"
	"github.com/carebridge/orchestrator/internal/prompts"
	"github.com/carebridge/orchestrator/internal/push"
	"github.com/carebridge/orchestrator/internal/router"
	"github.com/carebridge/orchestrator/internal/session"
	"github.com/carebridge/orchestrator/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Conversational orchestrator: routes chat turns to worker agents over a message bus.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address to bind")
	rootCmd.PersistentFlags().Int("port", 8088, "port to listen on")
	rootCmd.PersistentFlags().String("redis-url", "", "redis connection URL; empty uses in-process store/bus")
	rootCmd.PersistentFlags().String("prompts-dir", "", "directory of prompt template overrides")
	rootCmd.PersistentFlags().String("intent-rules-file", "", "YAML keyword overlay for intent classification")
	rootCmd.PersistentFlags().String("agent-topics-file", "", "YAML overlay for agent routing topics/deadlines")

	for _, name := range []string{"mode", "addr", "port", "redis-url", "prompts-dir", "intent-rules-file", "agent-topics-file"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("orchestrator")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Default()
	if mode := viper.GetString("mode"); mode != "" {
		cfg.Mode = mode
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if port := viper.GetInt("port"); port != 0 {
		cfg.Port = port
	}
	cfg.FromEnv()
	if url := viper.GetString("redis-url"); url != "" {
		cfg.RedisURL = url
	}
	if dir := viper.GetString("prompts-dir"); dir != "" {
		cfg.PromptsDir = dir
	}
	if file := viper.GetString("intent-rules-file"); file != "" {
		cfg.IntentRulesFile = file
	}
	if file := viper.GetString("agent-topics-file"); file != "" {
		cfg.AgentTopicsFile = file
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("orchestrator starting", "config", cfg.String(), "version", version.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	instanceID := instanceIdentity()

	components, err := wire(ctx, cfg, instanceID, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	go components.engine.Start(ctx, instanceID, components.routes.ResponseTopics())

	server := api.NewServer(api.Deps{
		Engine:      components.engine,
		Store:       components.store,
		Push:        components.pushHub,
		Metrics:     components.exporter,
		Membership:  components.membership,
		Correlation: components.correlation,
		Logger:      logger,
		Mode:        cfg.Mode,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, terminationSignals...)
	go func() {
		<-sig
		logger.Info("orchestrator received shutdown signal")
		cancel()
	}()

	if len(reloadSignals) > 0 {
		reloadCh := make(chan os.Signal, 1)
		signal.Notify(reloadCh, reloadSignals...)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-reloadCh:
					logger.Info("orchestrator received reload signal, reloading prompts")
					if err := components.promptLoader.Reload(components.promptReg); err != nil {
						logger.Error("orchestrator: prompt reload failed", "error", err)
					}
				}
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	logger.Info("orchestrator listening", "addr", addr)
	if err := server.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// instanceIdentity picks a stable-enough identifier for this process to use
// as a bus consumer name and membership key: the hostname when available,
// suffixed with a random component so two instances on the same host never
// collide.
func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "orchestrator"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// wiring holds every long-lived component assembled by wire, so run can
// close them in reverse dependency order on shutdown.
type wiring struct {
	store        session.Store
	bus          bus.Bus
	membership   *correlation.Membership
	correlation  *correlation.Registry
	pushHub      *push.Hub
	exporter     *metrics.Exporter
	routes       *router.Table
	engine       *conversation.Engine
	promptReg    *prompts.Registry
	promptLoader *prompts.Loader

	closers []func() error
}

func (w *wiring) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			slog.Warn("orchestrator: cleanup error during shutdown", "error", err)
		}
	}
}

func wire(ctx context.Context, cfg *config.Config, instanceID string, logger *slog.Logger) (*wiring, error) {
	w := &wiring{}

	if cfg.UsesRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		store, err := session.NewRedisStore(ctx, session.RedisStoreOptions{
			URL: cfg.RedisURL, DB: cfg.RedisSessionDB, TTL: cfg.SessionTTL, MaxHistory: cfg.MaxHistoryLength,
		})
		if err != nil {
			return nil, fmt.Errorf("connect session store: %w", err)
		}
		w.store = store
		w.closers = append(w.closers, store.Close)

		theBus, err := bus.NewRedisBus(ctx, bus.RedisBusOptions{URL: cfg.RedisURL, DB: cfg.RedisBusDB, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect message bus: %w", err)
		}
		w.bus = theBus
		w.closers = append(w.closers, theBus.Close)

		membershipOpts := *opts
		membershipOpts.DB = cfg.RedisMembershipDB
		membershipClient := redis.NewClient(&membershipOpts)
		membership := correlation.NewMembership(membershipClient, "orchestrator:membership", instanceID, 15*time.Second, logger)
		go membership.Start(ctx)
		w.membership = membership
		w.closers = append(w.closers, membershipClient.Close)
	} else {
		logger.Warn("orchestrator: no redis URL configured, running single-instance with in-memory store and bus")
		memStore := session.NewMemoryStore(cfg.SessionTTL)
		memStore.SetMaxHistory(cfg.MaxHistoryLength)
		w.store = memStore
		w.bus = bus.NewMemoryBus()
	}

	promptReg := prompts.NewRegistry()
	loader := prompts.NewLoader(cfg.PromptsDir, prompts.Defaults())
	if err := loader.Reload(promptReg); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	w.promptReg = promptReg
	w.promptLoader = loader

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(intent.Config{
		Provider:  providers,
		Prompts:   promptReg,
		RulesFile: cfg.IntentRulesFile,
		Logger:    logger,
	})

	defaultTable := router.NewDefaultTable()
	defaultTable.ApplyAgentDeadlines(cfg.AgentSoftDeadline, cfg.AgentHardDeadline)
	routes, err := router.LoadFromFileInto(defaultTable, cfg.AgentTopicsFile)
	if err != nil {
		return nil, fmt.Errorf("load agent topics: %w", err)
	}
	w.routes = routes

	corrReg := correlation.New(logger)
	w.correlation = corrReg
	w.pushHub = push.NewHub(logger)
	w.exporter = metrics.New(metrics.DefaultConfig())

	w.engine = conversation.New(conversation.Config{
		Sessions:             w.store,
		Classifier:           classifier,
		Routes:               routes,
		Providers:            providers,
		Prompts:              promptReg,
		Bus:                  w.bus,
		Correlation:          corrReg,
		Push:                 w.pushHub,
		Metrics:              w.exporter,
		Logger:               logger,
		DispatchFlushTimeout: cfg.DispatchFlushDeadline,
		MaxMessageChars:      cfg.MaxMessageChars,
		SweepInterval:        cfg.SweepInterval,
	})

	return w, nil
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (*llm.Registry, error) {
	if len(cfg.LLMProviders) == 0 {
		return nil, errors.New("no LLM providers configured")
	}

	opts := make([]llm.RegistryOption, 0, len(cfg.LLMProviders))
	for _, p := range cfg.LLMProviders {
		var provider llm.Provider
		switch p.Kind {
		case "openai":
			provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
				Name: p.Name, APIKey: p.APIKey, BaseURL: p.BaseURL,
				Model: p.Model, MaxTokens: p.MaxTokens, Temperature: p.Temperature, Timeout: p.Timeout,
			})
		case "mock", "":
			provider = llm.NewMockProvider(p.Name, 0)
		default:
			return nil, fmt.Errorf("unknown llm provider kind %q", p.Kind)
		}
		opts = append(opts, llm.RegistryOption{
			Provider:         provider,
			RateLimitRPM:     cfg.ProviderRateLimitRPM,
			CircuitThreshold: 5,
			CircuitCooldown:  cfg.ProviderCircuitCooldown,
		})
	}
	return llm.NewRegistry(logger, opts...), nil
}
