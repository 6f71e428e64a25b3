// Package agent provides the LLM-backed pieces of the orchestrators: a thin
// completion runner over the Anthropic API, the keyword planner, and the
// analysis prompt builders.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sniper-hq/sniper/pkg/config"
)

// Runner produces one completion for one prompt. The orchestrators only need
// single-turn text-in/text-out; anything stateful lives above this interface.
type Runner interface {
	Run(ctx context.Context, system, prompt string) (string, error)
}

// ClaudeRunner is the production Runner over the Anthropic Messages API.
type ClaudeRunner struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaudeRunner builds a runner from LLM configuration.
func NewClaudeRunner(cfg config.LLMConfig) *ClaudeRunner {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeRunner{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}
}

// Run sends one user message and returns the concatenated text blocks of the
// response.
func (r *ClaudeRunner) Run(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("llm completion: empty response (stop reason %s)", msg.StopReason)
	}
	return out, nil
}
