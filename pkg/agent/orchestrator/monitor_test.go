package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/models"
)

func monitorScope(now time.Time) *fakeScope {
	notes := []models.NoteCard{
		{NoteID: "n1", FullURL: "https://x/n1"},
		{NoteID: "n2", FullURL: "https://x/n2"},
		{NoteID: "n3", FullURL: "https://x/n3"},
		{NoteID: "n4", FullURL: "https://x/n4"},
		{NoteID: "n5", FullURL: "https://x/n5"},
		{NoteID: "n6", FullURL: "https://x/n6"},
	}
	return &fakeScope{
		harvested: []models.CreatorContent{
			{CreatorID: "c1", Nickname: "amy", Notes: notes, Success: true},
		},
		details: map[string]models.NoteDetail{
			// Newest-first profile order: two fresh notes, one old pinned,
			// then an old regular note that stops the scan.
			"https://x/n1": {NoteID: "n1", Title: "fresh one", FullURL: "https://x/n1", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -1))},
			"https://x/n2": {NoteID: "n2", Title: "old pin", FullURL: "https://x/n2", Success: true, IsPinned: true, PublishTime: ptrTime(now.AddDate(0, 0, -60))},
			"https://x/n3": {NoteID: "n3", Title: "fresh two", FullURL: "https://x/n3", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -2))},
			"https://x/n4": {NoteID: "n4", Title: "stale", FullURL: "https://x/n4", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -30))},
			"https://x/n5": {NoteID: "n5", Title: "ancient", FullURL: "https://x/n5", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -90))},
			"https://x/n6": {NoteID: "n6", Title: "older still", FullURL: "https://x/n6", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -120))},
		},
	}
}

func TestCreatorMonitorCompletes(t *testing.T) {
	now := time.Now().UTC()
	scope := monitorScope(now)
	f := newFixture(scope, fakeLLM{response: "unused"})

	task, err := f.orch.StartCreatorMonitor(context.Background(), testTenant, []string{"c1"}, 10)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeCreatorMonitor, task.TaskType)

	got := waitForStatus(t, f, task.ID, models.TaskStatusCompleted)

	reports, ok := got.Result["creators"].([]CreatorReport)
	require.True(t, ok)
	require.Len(t, reports, 1)
	r := reports[0]

	titles := make([]string, 0, len(r.RecentNotes))
	for _, n := range r.RecentNotes {
		titles = append(titles, n.Title)
	}
	assert.Equal(t, []string{"fresh one", "fresh two"}, titles)

	require.Len(t, r.PinnedNotes, 1)
	assert.Equal(t, "old pin", r.PinnedNotes[0].Title)

	require.NotNil(t, r.LastNoteOutsideWindow)
	assert.Equal(t, "stale", r.LastNoteOutsideWindow.Title)

	report, _ := got.Result["report"].(string)
	assert.Contains(t, report, "amy")
	assert.Contains(t, report, "2 new notes")
}

func TestCreatorMonitorEarlyExitStopsFetching(t *testing.T) {
	now := time.Now().UTC()
	scope := monitorScope(now)
	f := newFixture(scope, fakeLLM{})

	task, err := f.orch.StartCreatorMonitor(context.Background(), testTenant, []string{"c1"}, 10)
	require.NoError(t, err)
	waitForStatus(t, f, task.ID, models.TaskStatusCompleted)

	// n4 (first non-pinned note outside the window) sits in the second
	// chunk; the third chunk (n5, n6) must never be requested.
	calls := scope.detailedURLs()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"https://x/n1", "https://x/n2", "https://x/n3"}, calls[0])
	assert.Equal(t, []string{"https://x/n4", "https://x/n5", "https://x/n6"}, calls[1])
}

func TestCreatorMonitorPinnedDoesNotStopScan(t *testing.T) {
	now := time.Now().UTC()
	scope := &fakeScope{
		harvested: []models.CreatorContent{{
			CreatorID: "c1",
			Notes: []models.NoteCard{
				{NoteID: "p1", FullURL: "https://x/p1"},
				{NoteID: "f1", FullURL: "https://x/f1"},
			},
			Success: true,
		}},
		details: map[string]models.NoteDetail{
			"https://x/p1": {NoteID: "p1", Title: "pinned old", FullURL: "https://x/p1", Success: true, IsPinned: true, PublishTime: ptrTime(now.AddDate(0, 0, -400))},
			"https://x/f1": {NoteID: "f1", Title: "fresh", FullURL: "https://x/f1", Success: true, PublishTime: ptrTime(now.AddDate(0, 0, -1))},
		},
	}
	f := newFixture(scope, fakeLLM{})

	task, err := f.orch.StartCreatorMonitor(context.Background(), testTenant, []string{"c1"}, 10)
	require.NoError(t, err)
	got := waitForStatus(t, f, task.ID, models.TaskStatusCompleted)

	reports := got.Result["creators"].([]CreatorReport)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].RecentNotes, 1, "the fresh note behind the old pin must still be found")
	assert.Len(t, reports[0].PinnedNotes, 1)
	assert.Nil(t, reports[0].LastNoteOutsideWindow)
}

func TestCreatorMonitorCarriesHarvestFailures(t *testing.T) {
	scope := &fakeScope{
		harvested: []models.CreatorContent{
			{CreatorID: "gone", Success: false, Error: "profile removed"},
		},
	}
	f := newFixture(scope, fakeLLM{})

	task, err := f.orch.StartCreatorMonitor(context.Background(), testTenant, []string{"gone"}, 0)
	require.NoError(t, err)
	got := waitForStatus(t, f, task.ID, models.TaskStatusCompleted)

	reports := got.Result["creators"].([]CreatorReport)
	require.Len(t, reports, 1)
	assert.Equal(t, "profile removed", reports[0].Error)
	assert.Contains(t, got.Result["report"], "harvest failed")
}

func TestCreatorMonitorValidation(t *testing.T) {
	f := newFixture(&fakeScope{}, fakeLLM{})
	_, err := f.orch.StartCreatorMonitor(context.Background(), testTenant, nil, 10)
	assert.Error(t, err)
}
