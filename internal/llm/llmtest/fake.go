// Package llmtest provides a scripted LLMProvider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/p-blackswan/appforge/internal/llm"
)

// Reply is one scripted provider outcome.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider replays Replies in order and records every request.
// Once the script is exhausted the last reply repeats.
type Provider struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.CompletionRequest
}

// New creates a Provider with the given script.
func New(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

// Text is a reply whose only content is plain text.
func Text(s string) Reply {
	return Reply{Response: &llm.CompletionResponse{Text: s, StopReason: llm.StopReasonEndTurn}}
}

// Blocks is a reply carrying a structured message of text blocks.
func Blocks(parts ...string) Reply {
	resp := &llm.CompletionResponse{StopReason: llm.StopReasonEndTurn}
	for _, p := range parts {
		resp.Content = append(resp.Content, llm.ContentBlock{Type: llm.BlockText, Text: p})
		resp.Text += p
	}
	return Reply{Response: resp}
}

// Tool is a reply carrying a single tool call with input marshalled from v.
func Tool(name string, v any) Reply {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal tool input: %v", err))
	}
	tu := &llm.ToolUse{ID: "toolu_test", Name: name, Input: raw}
	return Reply{Response: &llm.CompletionResponse{
		StopReason: llm.StopReasonToolUse,
		ToolUse:    tu,
		Content:    []llm.ContentBlock{{Type: llm.BlockToolUse, ToolUse: tu}},
	}}
}

// Fail is a reply that returns err.
func Fail(err error) Reply { return Reply{Err: err} }

// Complete implements llm.LLMProvider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted reply for call %d", idx+1)
	}
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	r := p.replies[idx]
	return r.Response, r.Err
}

// ModelID implements llm.LLMProvider.
func (p *Provider) ModelID() string { return "fake-model" }

// Calls returns how many times Complete was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns a copy of every recorded request.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
