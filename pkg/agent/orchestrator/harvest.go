package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// Analysis modes for the article workflow.
const (
	AnalysisComprehensive = "comprehensive"
	AnalysisQuick         = "quick"
	AnalysisComparison    = "comparison"
	AnalysisTrend         = "trend"
)

var analysisSystems = map[string]string{
	AnalysisComprehensive: "You are a research analyst. Produce a thorough structured analysis " +
		"of the articles: key claims, evidence quality, notable data points, and takeaways.",
	AnalysisQuick: "You are a research analyst. Produce a short bullet summary of the articles; " +
		"five bullets maximum.",
	AnalysisComparison: "You are a research analyst. Compare the articles: where they agree, " +
		"where they conflict, and which claims are better supported.",
	AnalysisTrend: "You are a research analyst. Extract the trends the articles point to and " +
		"what they imply going forward.",
}

// StartArticleAnalysis launches the harvest/analyze workflow: fetch article
// details, then run the requested analysis over the combined text.
func (o *Orchestrators) StartArticleAnalysis(ctx context.Context, tenant connectors.Tenant, urls []string, mode string) (*models.Task, error) {
	if len(urls) == 0 {
		return nil, services.NewValidationError("urls", "at least one article url is required")
	}
	if mode == "" {
		mode = AnalysisComprehensive
	}
	if _, ok := analysisSystems[mode]; !ok {
		return nil, services.NewValidationError("mode",
			"must be one of comprehensive, quick, comparison, trend")
	}
	return o.start(ctx, tenant, TaskTypeArticleAnalysis, func(ctx context.Context, taskID string) {
		o.runScoped(ctx, tenant, taskID, func(ctx context.Context, scope ConnectorScope) error {
			return o.runArticleAnalysis(ctx, scope, taskID, urls, mode)
		})
	})
}

func (o *Orchestrators) runArticleAnalysis(ctx context.Context, scope ConnectorScope, taskID string, urls []string, mode string) error {
	o.logStep(ctx, taskID, 1, "init", map[string]any{"urls": urls, "mode": mode}, nil)
	o.setProgress(ctx, taskID, 10)

	details, err := scope.GetNoteDetails(ctx, connectors.PlatformWeChatArticle, urls, 2)
	if err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}

	fetched := 0
	var corpus strings.Builder
	for _, d := range details {
		if !d.Success {
			continue
		}
		fetched++
		fmt.Fprintf(&corpus, "=== %q by %s\n%s\n\n", d.Title, d.Author, d.Content)
	}
	o.logStep(ctx, taskID, 2, "fetch_articles",
		map[string]any{"urls": len(urls)},
		map[string]any{"fetched": fetched})
	o.setProgress(ctx, taskID, 60)

	if fetched == 0 {
		return fmt.Errorf("none of the %d articles could be fetched", len(urls))
	}

	analysis, err := o.llm.Run(ctx, analysisSystems[mode], corpus.String())
	if err != nil {
		return fmt.Errorf("article analysis: %w", err)
	}
	o.logStep(ctx, taskID, 3, "analyze", map[string]any{"mode": mode},
		map[string]any{"length": len(analysis)})

	_, err = o.tasks.Complete(ctx, taskID, map[string]any{
		"analysis": analysis,
		"mode":     mode,
		"fetched":  fetched,
	})
	return err
}
