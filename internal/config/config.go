package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"`
	APIKey         string `envconfig:"API_KEY"` // empty = no auth
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"20"`

	// Anthropic (classification + code generation)
	AnthropicAPIKey      string  `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel       string  `envconfig:"ANTHROPIC_MODEL" default:"claude-3-7-sonnet-latest"`
	AnthropicTemperature float64 `envconfig:"ANTHROPIC_TEMPERATURE" default:"0.1"`
	AnthropicMaxTokens   int     `envconfig:"ANTHROPIC_MAX_TOKENS" default:"8192"`
	AnthropicBaseURL     string  `envconfig:"ANTHROPIC_BASE_URL"`

	// GitHub: either a static token or GitHub App credentials
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubRepoOwner      string `envconfig:"GITHUB_REPO_OWNER" default:"your-github-username"`
	GitHubRepoPrefix     string `envconfig:"GITHUB_REPO_PREFIX" default:"react-app-"`
	GitHubAPIURL         string `envconfig:"GITHUB_API_URL"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`

	// Project persistence
	StoreDriver     string `envconfig:"STORE_DRIVER" default:"sqlite"` // "sqlite" or "redis"
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"data/projects.db"`
	RedisURL        string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	StoreCollection string `envconfig:"STORE_COLLECTION" default:"prompt-to-app-projects"`

	// Synthesis
	SynthMaxAttempts        int  `envconfig:"SYNTH_MAX_ATTEMPTS" default:"3"`
	SynthFeedbackDiagnostic bool `envconfig:"SYNTH_FEEDBACK_DIAGNOSTICS" default:"false"`

	// Deployment polling
	DeployPollInterval time.Duration `envconfig:"DEPLOY_POLL_INTERVAL" default:"5s"`
	DeployPollMaxWait  time.Duration `envconfig:"DEPLOY_POLL_MAX_WAIT" default:"15m"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`
}

// GitHubAppEnabled returns true if GitHub App credentials are configured.
// App credentials take precedence over GITHUB_TOKEN.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubInstallationID > 0 && c.GitHubPrivateKeyPath != ""
}

// SlackEnabled returns true if deployment notifications should be posted to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverSQLite, StoreDriverRedis:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q, expected sqlite or redis", c.StoreDriver)
	}
	if c.SynthMaxAttempts < 1 {
		return fmt.Errorf("SYNTH_MAX_ATTEMPTS must be >= 1, got %d", c.SynthMaxAttempts)
	}
	if c.DeployPollInterval <= 0 {
		return fmt.Errorf("DEPLOY_POLL_INTERVAL must be positive")
	}
	return nil
}

// Load reads an optional .env file and then configuration from environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
