package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

const (
	// DefaultMonitorWindowDays is the lookback window for creator monitoring.
	DefaultMonitorWindowDays = 10

	// monitorDetailChunk is how many note URLs are detailed per round while
	// scanning a creator. Small chunks make the early exit worth having: a
	// creator whose second note is already outside the window costs one
	// round, not a full scan.
	monitorDetailChunk = 3
)

// CreatorReport is the per-creator outcome of a monitor run.
type CreatorReport struct {
	CreatorID             string              `json:"creator_id"`
	Nickname              string              `json:"nickname,omitempty"`
	RecentNotes           []models.NoteDetail `json:"recent_notes"`
	PinnedNotes           []models.NoteDetail `json:"pinned_notes,omitempty"`
	LastNoteOutsideWindow *models.NoteDetail  `json:"last_note_outside_window,omitempty"`
	Error                 string              `json:"error,omitempty"`
}

// StartCreatorMonitor launches the monitor workflow over creator ids.
// windowDays <= 0 uses the default.
func (o *Orchestrators) StartCreatorMonitor(ctx context.Context, tenant connectors.Tenant, creatorIDs []string, windowDays int) (*models.Task, error) {
	if len(creatorIDs) == 0 {
		return nil, services.NewValidationError("creator_ids", "at least one creator id is required")
	}
	if windowDays <= 0 {
		windowDays = DefaultMonitorWindowDays
	}
	return o.start(ctx, tenant, TaskTypeCreatorMonitor, func(ctx context.Context, taskID string) {
		o.runScoped(ctx, tenant, taskID, func(ctx context.Context, scope ConnectorScope) error {
			return o.runMonitor(ctx, scope, taskID, creatorIDs, windowDays)
		})
	})
}

func (o *Orchestrators) runMonitor(ctx context.Context, scope ConnectorScope, taskID string, creatorIDs []string, windowDays int) error {
	o.logStep(ctx, taskID, 1, "init",
		map[string]any{"creator_ids": creatorIDs, "window_days": windowDays}, nil)
	o.setProgress(ctx, taskID, 10)

	contents, err := scope.HarvestUserContent(ctx, connectors.PlatformXHS, creatorIDs, 30)
	if err != nil {
		return fmt.Errorf("harvest creators: %w", err)
	}
	o.logStep(ctx, taskID, 2, "harvest_user_content",
		map[string]any{"creators": len(creatorIDs)},
		map[string]any{"harvested": len(contents)})
	o.setProgress(ctx, taskID, 50)

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	reports := make([]CreatorReport, 0, len(contents))
	for _, content := range contents {
		if !content.Success {
			reports = append(reports, CreatorReport{CreatorID: content.CreatorID, Error: content.Error})
			continue
		}
		report, err := o.scanCreator(ctx, scope, content, cutoff)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}
	o.logStep(ctx, taskID, 3, "scan_recent_notes",
		map[string]any{"cutoff": cutoff.Format(time.RFC3339)},
		map[string]any{"creators": len(reports)})
	o.setProgress(ctx, taskID, 90)

	_, err = o.tasks.Complete(ctx, taskID, map[string]any{
		"report":   formatMonitorReport(reports, windowDays),
		"creators": reports,
	})
	return err
}

// scanCreator walks one creator's notes newest-first, detailing them in small
// chunks. The scan stops at the first non-pinned note older than the cutoff;
// pinned notes are collected separately and never stop the scan.
func (o *Orchestrators) scanCreator(ctx context.Context, scope ConnectorScope, content models.CreatorContent, cutoff time.Time) (CreatorReport, error) {
	report := CreatorReport{CreatorID: content.CreatorID, Nickname: content.Nickname}

	urls := make([]string, 0, len(content.Notes))
	for _, note := range content.Notes {
		urls = append(urls, note.FullURL)
	}

scan:
	for start := 0; start < len(urls); start += monitorDetailChunk {
		end := start + monitorDetailChunk
		if end > len(urls) {
			end = len(urls)
		}

		details, err := scope.GetNoteDetails(ctx, connectors.PlatformXHS, urls[start:end], 2)
		if err != nil {
			return report, fmt.Errorf("detail scan for %s: %w", content.CreatorID, err)
		}

		// Results arrive in completion order; the early exit needs the
		// profile's newest-first order back.
		byURL := make(map[string]models.NoteDetail, len(details))
		for _, d := range details {
			byURL[d.FullURL] = d
		}
		for _, u := range urls[start:end] {
			d, ok := byURL[u]
			if !ok || !d.Success || d.PublishTime == nil {
				continue
			}
			switch {
			case d.IsPinned:
				report.PinnedNotes = append(report.PinnedNotes, d)
				if d.PublishTime.After(cutoff) {
					report.RecentNotes = append(report.RecentNotes, d)
				}
			case d.PublishTime.After(cutoff):
				report.RecentNotes = append(report.RecentNotes, d)
			default:
				report.LastNoteOutsideWindow = &d
				break scan
			}
		}
	}
	return report, nil
}

// formatMonitorReport renders the tenant-facing natural-language rollup.
func formatMonitorReport(reports []CreatorReport, windowDays int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Creator activity over the last %d days:\n", windowDays)
	for _, r := range reports {
		name := r.Nickname
		if name == "" {
			name = r.CreatorID
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "- %s: harvest failed (%s)\n", name, r.Error)
			continue
		}
		fmt.Fprintf(&b, "- %s: %d new notes", name, len(r.RecentNotes))
		if len(r.PinnedNotes) > 0 {
			fmt.Fprintf(&b, ", %d pinned", len(r.PinnedNotes))
		}
		if len(r.RecentNotes) > 0 {
			titles := make([]string, 0, len(r.RecentNotes))
			for _, n := range r.RecentNotes {
				titles = append(titles, fmt.Sprintf("%q", n.Title))
			}
			fmt.Fprintf(&b, ": %s", strings.Join(titles, ", "))
		}
		if r.LastNoteOutsideWindow != nil && len(r.RecentNotes) == 0 {
			fmt.Fprintf(&b, " (last post %s)", r.LastNoteOutsideWindow.PublishTime.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
