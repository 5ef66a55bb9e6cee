package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/appforge/internal/api"
	"github.com/p-blackswan/appforge/internal/classify"
	"github.com/p-blackswan/appforge/internal/config"
	"github.com/p-blackswan/appforge/internal/deploy"
	ghclient "github.com/p-blackswan/appforge/internal/github"
	"github.com/p-blackswan/appforge/internal/health"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/metrics"
	"github.com/p-blackswan/appforge/internal/notify"
	"github.com/p-blackswan/appforge/internal/project"
	"github.com/p-blackswan/appforge/internal/retry"
	"github.com/p-blackswan/appforge/internal/store"
	"github.com/p-blackswan/appforge/internal/synth"
	"github.com/p-blackswan/appforge/internal/validate"
	"github.com/p-blackswan/appforge/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("store_driver", cfg.StoreDriver).
		Bool("github_app", cfg.GitHubAppEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting appforge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Project persistence
	coll, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open project store")
	}
	checker.Register("store", health.PingCheck(coll))
	if sq, ok := coll.(*store.Store); ok {
		m.WatchStoreSize(sq.SizeBytes)
	}

	// GitHub credentials: App installation tokens take precedence over GITHUB_TOKEN.
	var tokens ghclient.TokenSource = ghclient.StaticToken(cfg.GitHubToken)
	if cfg.GitHubAppEnabled() {
		cache, closeCache := tokenCache(ctx, cfg, logger)
		defer closeCache()

		app, appErr := ghclient.NewAppTokenSource(
			cfg.GitHubAppID,
			cfg.GitHubInstallationID,
			cfg.GitHubPrivateKeyPath,
			cache,
			logger,
		)
		if appErr != nil {
			logger.Warn().Err(appErr).Msg("failed to init GitHub App credentials, falling back to GITHUB_TOKEN")
		} else {
			if cfg.GitHubAPIURL != "" {
				app = app.WithBaseURL(cfg.GitHubAPIURL)
			}
			tokens = app
			logger.Info().Msg("GitHub App credentials initialized")
		}
	}
	checker.Register("github", health.CredentialCheck(func() bool {
		return cfg.GitHubAppEnabled() || cfg.GitHubToken != ""
	}))
	checker.Register("anthropic", health.CredentialCheck(func() bool {
		return cfg.AnthropicAPIKey != ""
	}))

	provider := llm.NewAnthropicProvider(cfg.AnthropicAPIKey,
		llm.WithModel(cfg.AnthropicModel),
		llm.WithMaxTokens(cfg.AnthropicMaxTokens),
		llm.WithTemperature(cfg.AnthropicTemperature),
		llm.WithBaseURL(cfg.AnthropicBaseURL),
		llm.WithLogger(logger),
	)

	classifier := classify.New(provider, logger)
	synthesizer := synth.New(provider, validate.New(), logger,
		synth.WithMaxAttempts(cfg.SynthMaxAttempts),
		synth.WithDiagnosticFeedback(cfg.SynthFeedbackDiagnostic),
		synth.WithMetrics(m),
	)
	mutator := ghclient.NewMutator(ghclient.Config{
		Owner:   cfg.GitHubRepoOwner,
		Prefix:  cfg.GitHubRepoPrefix,
		BaseURL: cfg.GitHubAPIURL,
	}, tokens, logger, ghclient.WithMetrics(m))

	polls := deploy.NewScheduler(mutator, logger,
		deploy.WithInterval(cfg.DeployPollInterval),
		deploy.WithMaxWait(cfg.DeployPollMaxWait),
		deploy.WithSchedulerMetrics(m),
	)

	opts := []project.Option{project.WithMetrics(m)}
	if cfg.SlackEnabled() {
		opts = append(opts, project.WithNotifier(notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, logger).
			WithRetry(retry.DefaultConfig())))
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack deployment notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured, deployment notifications disabled")
	}

	repo := project.NewRepository(coll, cfg.StoreCollection, logger)
	svc := project.NewService(repo, classifier, synthesizer, mutator, polls, logger, opts...)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.HTTPAddr,
		APIKey:     cfg.APIKey,
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOriginList(),
	}, svc, checker, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
		logger.Info().Msg("shutting down after server failure")
	}

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	// Stops every deployment poll loop.
	svc.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := coll.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close project store")
	}

	logger.Info().Msg("appforge stopped")
}

// tokenCache picks where GitHub installation tokens are cached. With the
// redis store driver the tokens survive restarts and are shared between
// replicas.
func tokenCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (tokenstore.Store, func()) {
	if cfg.StoreDriver != config.StoreDriverRedis {
		return tokenstore.NewMemoryStore(), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid REDIS_URL for token cache, using memory")
		return tokenstore.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable for token cache, using memory")
		client.Close()
		return tokenstore.NewMemoryStore(), func() {}
	}
	return tokenstore.NewRedisStore(client), func() { client.Close() }
}
