package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// trendTopN is how many deduplicated cards survive into the detail fetch.
const trendTopN = 10

const trendSystem = "You are a content trend analyst. You receive raw posts " +
	"and comments from a social platform and produce a concise, actionable " +
	"trend analysis for a content creator."

// StartTrendAnalysis launches the trend workflow for seed keywords.
func (o *Orchestrators) StartTrendAnalysis(ctx context.Context, tenant connectors.Tenant, keywords []string) (*models.Task, error) {
	if len(keywords) == 0 {
		return nil, services.NewValidationError("keywords", "at least one seed keyword is required")
	}
	return o.start(ctx, tenant, TaskTypeTrendAnalysis, func(ctx context.Context, taskID string) {
		o.runScoped(ctx, tenant, taskID, func(ctx context.Context, scope ConnectorScope) error {
			return o.runTrend(ctx, scope, taskID, keywords)
		})
	})
}

func (o *Orchestrators) runTrend(ctx context.Context, scope ConnectorScope, taskID string, seeds []string) error {
	o.logStep(ctx, taskID, 1, "init", map[string]any{"keywords": seeds}, nil)

	expanded := o.planner.ExpandKeywords(ctx, seeds)
	o.logStep(ctx, taskID, 2, "keyword_expansion",
		map[string]any{"seeds": seeds},
		map[string]any{"expanded": expanded})
	o.setProgress(ctx, taskID, 20)

	// Login probe before any search: a missing login parks the task instead
	// of burning the search budget on guaranteed failures.
	login, err := scope.Login(ctx, connectors.PlatformXHS, connectors.LoginMethodQR, nil)
	if err != nil {
		return fmt.Errorf("login probe: %w", err)
	}
	if !login.IsLoggedIn {
		_, err := o.tasks.WaitingLogin(ctx, taskID, map[string]any{
			"platform":     connectors.PlatformXHS,
			"context_id":   login.ContextID,
			"resource_url": login.ResourceURL,
			"qrcode":       login.QRCodeURL,
			"timeout":      login.TimeoutSeconds,
		})
		return err
	}

	cards, err := scope.SearchAndExtract(ctx, connectors.PlatformXHS, expanded, 20)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	top := DedupAndRank(cards, trendTopN)
	o.logStep(ctx, taskID, 3, "search_and_extract",
		map[string]any{"keywords": expanded},
		map[string]any{"found": len(cards), "kept": len(top)})
	o.setProgress(ctx, taskID, 50)

	urls := make([]string, 0, len(top))
	for _, card := range top {
		urls = append(urls, card.FullURL)
	}
	var details []models.NoteDetail
	if len(urls) > 0 {
		details, err = scope.GetNoteDetails(ctx, connectors.PlatformXHS, urls, 2)
		if err != nil {
			return fmt.Errorf("note details: %w", err)
		}
	}
	o.logStep(ctx, taskID, 4, "get_note_details",
		map[string]any{"urls": len(urls)},
		map[string]any{"fetched": len(details)})
	o.setProgress(ctx, taskID, 80)

	analysis, err := o.llm.Run(ctx, trendSystem, trendPrompt(seeds, top, details))
	if err != nil {
		return fmt.Errorf("trend analysis: %w", err)
	}
	o.logStep(ctx, taskID, 5, "analyze", nil, map[string]any{"length": len(analysis)})

	_, err = o.tasks.Complete(ctx, taskID, map[string]any{
		"analysis": analysis,
		"keywords": expanded,
		"notes":    top,
	})
	return err
}

// trendPrompt embeds the collected cards and comments for the analyst model.
func trendPrompt(seeds []string, cards []models.NoteCard, details []models.NoteDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seed keywords: %s\n\n", strings.Join(seeds, ", "))
	b.WriteString("Top posts by likes:\n")
	for i, card := range cards {
		fmt.Fprintf(&b, "%d. %q by %s — %d likes (keyword: %s)\n",
			i+1, card.Title, card.Author, card.LikedCount, card.Keyword)
	}

	b.WriteString("\nPost details and comments:\n")
	for _, d := range details {
		if !d.Success {
			continue
		}
		fmt.Fprintf(&b, "--- %q by %s (likes %d, collects %d, comments %d)\n",
			d.Title, d.Author, d.LikedCount, d.CollectedCount, d.CommentCount)
		if d.Content != "" {
			fmt.Fprintf(&b, "%s\n", d.Content)
		}
		for _, c := range d.Comments {
			fmt.Fprintf(&b, "  comment by %s: %s\n", c.Author, c.Content)
		}
	}

	b.WriteString("\nAnalyze the trend: recurring themes, what drives engagement, " +
		"content angles worth pursuing, and concrete title suggestions.")
	return b.String()
}
