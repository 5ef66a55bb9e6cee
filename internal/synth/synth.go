// Package synth drives code generation through the LLM with a bounded
// number of attempts against the syntax validator.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/metrics"
)

// DefaultMaxAttempts is one initial attempt plus two retries.
const DefaultMaxAttempts = 3

// Validator checks generated source. A *perrors.SyntaxValidationError
// return is the only failure the synthesizer retries.
type Validator interface {
	Validate(source string) error
}

// Task is a synthesis input: InitTask or EditTask.
type Task interface {
	Mode() string
	systemPrompt() string
	userPrompt() string
}

// InitTask generates a component from scratch.
type InitTask struct {
	RequestText string
}

func (InitTask) Mode() string { return "init" }
func (InitTask) systemPrompt() string { return initSystemPrompt }
func (t InitTask) userPrompt() string { return t.RequestText }

// EditTask rewrites ExistingCode according to EditText.
type EditTask struct {
	ExistingCode string
	EditText     string
}

func (EditTask) Mode() string { return "edit" }
func (t EditTask) systemPrompt() string { return editSystemPrompt(t.ExistingCode) }
func (t EditTask) userPrompt() string { return t.EditText }

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMaxAttempts overrides the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Synthesizer) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithDiagnosticFeedback appends the previous attempt's diagnostics to the
// next prompt. Off by default, so every retry resends the same prompt.
func WithDiagnosticFeedback(on bool) Option {
	return func(s *Synthesizer) { s.feedback = on }
}

// WithMetrics records per-attempt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// Synthesizer generates validated source code.
type Synthesizer struct {
	provider    llm.LLMProvider
	validator   Validator
	maxAttempts int
	feedback    bool
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New creates a Synthesizer.
func New(provider llm.LLMProvider, validator Validator, logger zerolog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider:    provider,
		validator:   validator,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.With().Str("component", "synth").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxAttempts returns the configured attempt budget.
func (s *Synthesizer) MaxAttempts() int { return s.maxAttempts }

type outcome int

const (
	outcomeValid outcome = iota
	outcomeRetryable
	outcomeFatal
)

// Synthesize returns source that has passed the validator, or an error.
// Only syntax validation failures are retried; once the budget is spent the
// error is a *perrors.GenerationExhaustedError wrapping the last diagnostics.
func (s *Synthesizer) Synthesize(ctx context.Context, task Task) (string, error) {
	log := s.logger.With().Str("mode", task.Mode()).Logger()
	var last *perrors.SyntaxValidationError

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		start := time.Now()
		source, res, err := s.attempt(ctx, task, last)
		switch res {
		case outcomeValid:
			s.metrics.RecordSynthAttempt("valid")
			log.Info().Int("attempt", attempt).Int("bytes", len(source)).
				Dur("elapsed", time.Since(start)).Msg("code generated")
			return source, nil
		case outcomeRetryable:
			s.metrics.RecordSynthAttempt("invalid")
			errors.As(err, &last)
			log.Warn().Int("attempt", attempt).Int("max_attempts", s.maxAttempts).
				Int("diagnostics", len(last.Diagnostics)).Msg("generated code failed validation")
		default:
			s.metrics.RecordSynthAttempt("error")
			log.Error().Err(err).Int("attempt", attempt).Msg("code generation failed")
			return "", err
		}
	}

	log.Error().Int("attempts", s.maxAttempts).Msg("generation attempts exhausted")
	return "", &perrors.GenerationExhaustedError{Attempts: s.maxAttempts, Last: last}
}

func (s *Synthesizer) attempt(ctx context.Context, task Task, prev *perrors.SyntaxValidationError) (string, outcome, error) {
	user := task.userPrompt()
	if s.feedback && prev != nil {
		user += feedbackPreamble + diagnosticsText(prev)
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: task.systemPrompt(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return "", outcomeFatal, fmt.Errorf("code generation failed: %w", err)
	}

	source, err := Extract(resp)
	if err != nil {
		return "", outcomeFatal, err
	}

	if err := s.validator.Validate(source); err != nil {
		if perrors.IsRetryable(err) {
			return "", outcomeRetryable, err
		}
		return "", outcomeFatal, err
	}
	return source, outcomeValid, nil
}

// Extract pulls raw source text out of a generation response. Structured
// text blocks are preferred; the flattened Text field is the fallback.
// A surrounding markdown fence is removed.
func Extract(resp *llm.CompletionResponse) (string, error) {
	if resp == nil {
		return "", &perrors.ExtractionError{Reason: "empty response"}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == llm.BlockText {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		text = strings.TrimSpace(resp.Text)
	}
	text = stripFence(text)
	if text == "" {
		return "", &perrors.ExtractionError{Reason: "response contained no text"}
	}
	return text, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return ""
	}
	body := s[nl+1:]
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

func diagnosticsText(e *perrors.SyntaxValidationError) string {
	lines := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		lines = append(lines, "- "+d.String())
	}
	return strings.Join(lines, "\n")
}
