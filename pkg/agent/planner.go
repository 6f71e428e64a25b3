package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// maxExpandedKeywords caps how many search terms the planner hands to the
// trend orchestrator regardless of what the model returns.
const maxExpandedKeywords = 3

const plannerSystem = "You are a search planner for a content research tool. " +
	"Answer with JSON only, no prose."

const plannerPromptTemplate = `Expand the seed keywords into at most 3 search terms
covering three dimensions: the core topic, a usage scene, and a user pain point.
Seed keywords: %s
Respond with a JSON array of strings, e.g. ["term one","term two","term three"].`

// Planner expands seed keywords into search terms.
type Planner struct {
	runner Runner
	logger *slog.Logger
}

func NewPlanner(runner Runner) *Planner {
	return &Planner{runner: runner, logger: slog.Default().With("component", "planner")}
}

// ExpandKeywords asks the model for up to three expanded terms. A model
// failure or an unparseable answer falls back to the seeds themselves, so a
// flaky LLM never blocks a trend run.
func (p *Planner) ExpandKeywords(ctx context.Context, seeds []string) []string {
	fallback := capKeywords(seeds)
	if len(fallback) == 0 {
		return nil
	}

	prompt := strings.Replace(plannerPromptTemplate, "%s", strings.Join(seeds, ", "), 1)
	raw, err := p.runner.Run(ctx, plannerSystem, prompt)
	if err != nil {
		p.logger.Warn("Keyword expansion failed, using seeds", "error", err)
		return fallback
	}

	expanded := parseKeywordList(raw)
	if len(expanded) == 0 {
		p.logger.Warn("Keyword expansion returned no usable terms, using seeds", "raw", raw)
		return fallback
	}
	return capKeywords(expanded)
}

// parseKeywordList extracts a JSON string array from a model answer that may
// wrap it in markdown fences or surrounding prose.
func parseKeywordList(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var terms []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &terms); err != nil {
		return nil
	}

	out := terms[:0]
	for _, term := range terms {
		if t := strings.TrimSpace(term); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func capKeywords(terms []string) []string {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := strings.TrimSpace(term); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) > maxExpandedKeywords {
		cleaned = cleaned[:maxExpandedKeywords]
	}
	return cleaned
}
