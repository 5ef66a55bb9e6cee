// Package classify gates requests before any code is generated. A single
// schema-constrained LLM call decides whether a create or edit request is
// feasible; there is no retry at this layer.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/llm"
)

// Verdict is the closed set of classification outcomes.
type Verdict string

const (
	Feasible      Verdict = "feasible"
	TooComplex    Verdict = "too-complex"
	Inappropriate Verdict = "inappropriate"
	Irrelevant    Verdict = "irrelevant"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case Feasible, TooComplex, Inappropriate, Irrelevant:
		return true
	}
	return false
}

// Request is the classification input. CurrentCode is set only for edits.
type Request struct {
	CurrentCode string
	Text        string
}

// IsEdit reports whether the request targets existing code.
func (r Request) IsEdit() bool { return r.CurrentCode != "" }

// Result is the outcome of a classification.
type Result struct {
	Verdict       Verdict
	Rationale     string
	SuggestedName string
}

// Feasible reports whether synthesis may proceed.
func (r *Result) Feasible() bool { return r.Verdict == Feasible }

// Classifier sends requests to the classification collaborator.
type Classifier struct {
	provider llm.LLMProvider
	logger   zerolog.Logger
}

// New creates a Classifier backed by provider.
func New(provider llm.LLMProvider, logger zerolog.Logger) *Classifier {
	return &Classifier{
		provider: provider,
		logger:   logger.With().Str("component", "classify").Logger(),
	}
}

type toolOutput struct {
	Verdict     Verdict `json:"verdict"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// Classify evaluates req. Any collaborator failure, including a malformed
// structured response, is returned as a ClassificationError.
func (c *Classifier) Classify(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("classify: request text is empty: %w", perrors.ErrInvalidInput)
	}

	system, user := initSystemPrompt, "Evaluate this app creation request: "+req.Text
	if req.IsEdit() {
		system = editSystemPrompt
		user = "Current code: " + req.CurrentCode + "\n\nEvaluate this edit request: " + req.Text
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Tools: []llm.ToolSchema{{
			Name:        classifyToolName,
			Description: "Record the evaluation of the user's request.",
			InputSchema: json.RawMessage(classifyToolSchema),
		}},
		ToolChoice: classifyToolName,
	})
	if err != nil {
		return nil, &perrors.ClassificationError{Err: err}
	}

	out, err := parseToolOutput(resp)
	if err != nil {
		return nil, &perrors.ClassificationError{Err: err}
	}

	c.logger.Info().
		Bool("edit", req.IsEdit()).
		Str("verdict", string(out.Verdict)).
		Dur("elapsed", time.Since(start)).
		Msg("request classified")

	return &Result{
		Verdict:       out.Verdict,
		Rationale:     out.Description,
		SuggestedName: strings.TrimSpace(out.Name),
	}, nil
}

func parseToolOutput(resp *llm.CompletionResponse) (*toolOutput, error) {
	if resp == nil || resp.ToolUse == nil {
		return nil, fmt.Errorf("response carried no %s tool call", classifyToolName)
	}
	if resp.ToolUse.Name != classifyToolName {
		return nil, fmt.Errorf("unexpected tool call %q", resp.ToolUse.Name)
	}
	var out toolOutput
	if err := json.Unmarshal(resp.ToolUse.Input, &out); err != nil {
		return nil, fmt.Errorf("decoding classification: %w", err)
	}
	if !out.Verdict.Valid() {
		return nil, fmt.Errorf("unknown verdict %q", out.Verdict)
	}
	return &out, nil
}
