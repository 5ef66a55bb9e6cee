// Package llm defines the LLM provider interface and related types.
// Classification and code generation both go through this interface, so tests
// substitute a fake provider and production wires the Anthropic client.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason describes why the LLM stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// Content block types.
const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

// ToolUse represents a tool call requested by the LLM.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes a tool's interface for the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema object
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolSchema
	// ToolChoice forces the named tool when set, which makes the response
	// schema-constrained to that tool's InputSchema.
	ToolChoice  string
	MaxTokens   int
	Temperature *float64
	Model       string // override provider default if set
}

// ContentBlock is one element of a structured assistant message.
type ContentBlock struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	ToolUse *ToolUse `json:"tool_use,omitempty"`
}

// CompletionResponse is returned by Complete().
// Content holds the structured message when the provider returns one; Text is
// the flattened plain-text view and is the only field some providers fill.
type CompletionResponse struct {
	Content      []ContentBlock
	Text         string
	StopReason   string   // StopReasonEndTurn | StopReasonToolUse | StopReasonMaxTokens
	ToolUse      *ToolUse // populated when StopReason == StopReasonToolUse
	InputTokens  int
	OutputTokens int
}

// LLMProvider is the core abstraction for language model backends.
type LLMProvider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
