package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

func TestSearchAndExtractReturnsNotes(t *testing.T) {
	scope := &fakeConnScope{notes: []models.NoteCard{
		{NoteID: "n1", Title: "one", Platform: "xhs"},
		{NoteID: "n2", Title: "two", Platform: "xhs"},
	}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	env := ok(t, f.do(t, http.MethodPost, "/connectors/search-and-extract", testKey,
		map[string]any{"platform": "xhs", "keywords": []string{"coffee"}, "limit": 10}))
	assert.Equal(t, float64(2), env.Data["count"])

	closes := scope.closed()
	require.Len(t, closes, 1)
	assert.NoError(t, closes[0], "a clean request must close its scope without an error")
}

func TestSearchAndExtractValidation(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/search-and-extract", testKey,
		map[string]any{"platform": "xhs"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 422, decodeEnvelope(t, rec).Code)
}

func TestGateErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"rate limit", &services.RateLimitError{Platform: "xhs", Operation: "search_and_extract", Limit: 5}, http.StatusTooManyRequests, 400},
		{"lock conflict", &services.LockConflictError{Platform: "xhs", Operation: "search_and_extract"}, http.StatusConflict, 400},
		{"not implemented", &services.NotImplementedError{Platform: "youtube", Operation: "publish_content"}, http.StatusBadRequest, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scope := &fakeConnScope{err: tc.err}
			f := newAPIFixture(t, scope, &fakeWorkflows{})

			rec := f.do(t, http.MethodPost, "/connectors/search-and-extract", testKey,
				map[string]any{"platform": "xhs", "keywords": []string{"x"}})
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeEnvelope(t, rec).Code)

			closes := scope.closed()
			require.Len(t, closes, 1)
			assert.Error(t, closes[0], "the scope close must see the operation error")
		})
	}
}

func TestContextNotFoundMapping(t *testing.T) {
	scope := &fakeConnScope{err: &services.ContextNotFoundError{Platform: "xhs", ContextID: "xhs-context:acme-user-1"}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/get-note-detail", testKey,
		map[string]any{"platform": "xhs", "urls": []string{"https://x/n1"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, 400, env.Code)
	assert.Equal(t, "context_not_found", env.Data["error_type"])
	assert.Equal(t, "xhs", env.Data["platform"])
}

func TestNotLoggedInMapping(t *testing.T) {
	scope := &fakeConnScope{err: &services.NotLoggedInError{
		Platform:    "xhs",
		ContextID:   "xhs-context:acme-user-1",
		ResourceURL: "https://viewer.fake/qr",
	}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/harvest", testKey,
		map[string]any{"platform": "xhs", "creator_ids": []string{"c1"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, 604, env.Code)
	assert.Equal(t, true, env.Data["requires_login"])
	assert.Equal(t, "https://viewer.fake/qr", env.Data["resource_url"])
	assert.Equal(t, "xhs", env.Data["platform"])
}

func TestLoginReturnsResult(t *testing.T) {
	scope := &fakeConnScope{login: &models.LoginResult{
		IsLoggedIn:     false,
		ContextID:      "xhs-context:acme-user-1",
		QRCodeURL:      "https://viewer.fake/qr",
		ResourceURL:    "https://viewer.fake/qr",
		TimeoutSeconds: 300,
	}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	env := ok(t, f.do(t, http.MethodPost, "/connectors/login", testKey,
		map[string]any{"platform": "xhs", "method": "qrcode"}))
	assert.Equal(t, false, env.Data["is_logged_in"])
	assert.Equal(t, "https://viewer.fake/qr", env.Data["qrcode"])
}

// streamedFrames parses the SSE body into its decoded data frames.
func streamedFrames(t *testing.T, body string) []streamFrame {
	t.Helper()
	var frames []streamFrame
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var frame streamFrame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestExtractSummaryStreamsEvents(t *testing.T) {
	scope := &fakeConnScope{stream: []connectors.DetailEvent{
		{Index: 0, Detail: models.NoteDetail{NoteID: "n1", FullURL: "https://x/n1", Success: true}},
		{Index: 1, Detail: models.NoteDetail{FullURL: "https://x/n2", Success: false, Error: "timeout"}},
	}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/extract-summary", testKey,
		map[string]any{"platform": "xhs", "urls": []string{"https://x/n1", "https://x/n2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	frames := streamedFrames(t, rec.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, "start", frames[0].Type)
	assert.Equal(t, "result", frames[1].Type)
	assert.Equal(t, "result", frames[2].Type)
	assert.Equal(t, "complete", frames[3].Type)

	final, isMap := frames[3].Data.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, float64(2), final["total"])
	assert.Equal(t, float64(1), final["success_count"])
	assert.Equal(t, float64(1), final["failed_count"])

	closes := scope.closed()
	require.Len(t, closes, 1)
	assert.NoError(t, closes[0], "the scope closes only after the stream is drained")
}

func TestExtractSummaryAdmissionErrorStaysJSON(t *testing.T) {
	scope := &fakeConnScope{err: &services.RateLimitError{Platform: "xhs", Operation: "get_note_detail", Limit: 3}}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/extract-summary", testKey,
		map[string]any{"platform": "xhs", "urls": []string{"https://x/n1"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	closes := scope.closed()
	require.Len(t, closes, 1)
	assert.Error(t, closes[0])
}

func TestConfirmLoginResumesWaitingTasks(t *testing.T) {
	scope := &fakeConnScope{}
	flows := &fakeWorkflows{}
	f := newAPIFixture(t, scope, flows)
	ctx := context.Background()

	waiting, err := f.tasks.Create(ctx, "acme", "user-1", "trend_analysis", 0)
	require.NoError(t, err)
	_, err = f.tasks.Start(ctx, waiting.ID)
	require.NoError(t, err)
	_, err = f.tasks.WaitingLogin(ctx, waiting.ID, map[string]any{"platform": "xhs"})
	require.NoError(t, err)

	// A second tenant's waiting task must be left alone.
	other, err := f.tasks.Create(ctx, "acme", "user-2", "trend_analysis", 0)
	require.NoError(t, err)
	_, err = f.tasks.Start(ctx, other.ID)
	require.NoError(t, err)
	_, err = f.tasks.WaitingLogin(ctx, other.ID, nil)
	require.NoError(t, err)

	env := ok(t, f.do(t, http.MethodPost, "/connectors/login/xhs/confirm", testKey,
		map[string]any{"context_id": "xhs-context:acme-user-1"}))
	assert.Equal(t, true, env.Data["confirmed"])

	require.Len(t, scope.confirmCalls, 1)
	assert.Equal(t, [2]string{"xhs", "xhs-context:acme-user-1"}, scope.confirmCalls[0])

	assert.Equal(t, []string{waiting.ID}, flows.resumed)
	resumedIDs, _ := env.Data["resumed_tasks"].([]any)
	require.Len(t, resumedIDs, 1)
	assert.Equal(t, waiting.ID, resumedIDs[0])
}

func TestConfirmLoginWithoutPendingFlow(t *testing.T) {
	scope := &fakeConnScope{err: services.ErrNotFound}
	f := newAPIFixture(t, scope, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/login/xhs/confirm", testKey,
		map[string]any{"context_id": "xhs-context:acme-user-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, decodeEnvelope(t, rec).Code)
}

func TestPublishValidation(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})

	rec := f.do(t, http.MethodPost, "/connectors/publish", testKey,
		map[string]any{"platform": "xhs"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 422, decodeEnvelope(t, rec).Code)
}
