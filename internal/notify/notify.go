// Package notify posts deployment outcomes to Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/appforge/internal/deploy"
	"github.com/p-blackswan/appforge/internal/retry"
)

// Deployment describes a finished deployment.
type Deployment struct {
	ProjectID     string
	ProjectName   string
	RepoName      string
	RepoURL       string
	DeploymentURL string
	Status        deploy.Status
}

// Poster abstracts the Slack API client for testing.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts deployment results to a single channel.
type Slack struct {
	api     Poster
	channel string
	retry   retry.Config
	logger  zerolog.Logger
}

// NewSlack creates a notifier using a bot token.
func NewSlack(botToken, channel string, logger zerolog.Logger, opts ...slack.Option) *Slack {
	return NewSlackWithPoster(slack.New(botToken, opts...), channel, logger)
}

// NewSlackWithPoster creates a notifier over an existing client.
func NewSlackWithPoster(api Poster, channel string, logger zerolog.Logger) *Slack {
	return &Slack{
		api:     api,
		channel: channel,
		retry:   retry.Config{MaxAttempts: 1},
		logger:  logger.With().Str("component", "notify").Str("channel", channel).Logger(),
	}
}

// WithRetry repeats posts that Slack rate limited or failed server-side.
func (s *Slack) WithRetry(cfg retry.Config) *Slack {
	if cfg.Retryable == nil {
		cfg.Retryable = Transient
	}
	s.retry = cfg
	return s
}

// Transient reports whether a Slack API error is worth retrying.
func Transient(err error) bool {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return sc.Code == http.StatusTooManyRequests || sc.Code >= http.StatusInternalServerError
	}
	return retry.Transient(err)
}

// DeploymentFinished posts d to the configured channel.
func (s *Slack) DeploymentFinished(ctx context.Context, d Deployment) error {
	summary := Summary(d)
	var ts string
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		_, ts, err = s.api.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(summary, false),
			slack.MsgOptionBlocks(Blocks(d)...),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("posting deployment notice: %w", err)
	}
	s.logger.Debug().Str("project", d.ProjectID).Str("ts", ts).Msg("deployment notice posted")
	return nil
}

// Summary is the plain-text fallback of a deployment notice.
func Summary(d Deployment) string {
	name := d.ProjectName
	if name == "" {
		name = d.RepoName
	}
	switch d.Status {
	case deploy.StatusSuccess:
		return fmt.Sprintf("%s deployed: %s", name, d.DeploymentURL)
	case deploy.StatusFailure:
		return fmt.Sprintf("%s deployment failed: %s/actions", name, d.RepoURL)
	}
	return fmt.Sprintf("%s deployment is %s", name, d.Status)
}

// Blocks renders d as Block Kit blocks.
func Blocks(d Deployment) []slack.Block {
	icon := "⏳"
	switch d.Status {
	case deploy.StatusSuccess:
		icon = "✅"
	case deploy.StatusFailure:
		icon = "❌"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s *%s*", icon, Summary(d)), false, false),
			nil, nil,
		),
	}
	if d.RepoURL != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("<%s|%s>", d.RepoURL, d.RepoName), false, false),
		))
	}
	return blocks
}

// Nop discards notices.
type Nop struct{}

func (Nop) DeploymentFinished(context.Context, Deployment) error { return nil }
