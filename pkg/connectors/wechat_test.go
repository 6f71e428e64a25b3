package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/services"
)

func TestWeChatHarvestListsAlbum(t *testing.T) {
	provider := newFakeProvider()
	b := newFakeBrowser()
	b.handle("weui_media_box", []map[string]any{
		{"title": "piece one", "url": "https://mp.weixin.qq.com/s/a", "digest": "first"},
		{"title": "piece two", "url": "https://mp.weixin.qq.com/s/b", "digest": "second"},
		{"title": "piece three", "url": "https://mp.weixin.qq.com/s/c", "digest": "third"},
	})
	w := NewWeChatArticle(testDeps(provider, b))

	contents, err := w.HarvestUser(context.Background(), testTenant, []string{"MzA5biz"}, 2)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	c := contents[0]
	assert.True(t, c.Success)
	assert.Equal(t, "MzA5biz", c.CreatorID)
	require.Len(t, c.Notes, 2, "limit caps the album listing")
	assert.Equal(t, "piece one", c.Notes[0].Title)
	assert.Equal(t, "first", c.Notes[0].Description)
	assert.Equal(t, PlatformWeChatArticle, c.Notes[0].Platform)

	// Public album pages need no login context, and the session still syncs
	// back on a clean exit.
	deletions := provider.deletions()
	require.Len(t, deletions, 1)
	assert.True(t, deletions[0].syncContext)
}

func TestWeChatNoteDetailsExtractsArticle(t *testing.T) {
	provider := newFakeProvider()
	b := newFakeBrowser()
	b.handle("activity-name", map[string]any{
		"title":       "深度解读",
		"author":      "测试号",
		"content":     "正文内容",
		"publishTime": "2026-08-20 09:30",
		"images":      []string{"https://mmbiz.qpic.cn/img1"},
	})
	w := NewWeChatArticle(testDeps(provider, b))

	details, err := w.NoteDetails(context.Background(), testTenant, []string{"https://mp.weixin.qq.com/s/a"}, 2)
	require.NoError(t, err)
	require.Len(t, details, 1)

	d := details[0]
	require.True(t, d.Success, "error: %s", d.Error)
	assert.Equal(t, "深度解读", d.Title)
	assert.Equal(t, "测试号", d.Author)
	assert.Equal(t, "正文内容", d.Content)
	assert.Equal(t, []string{"https://mmbiz.qpic.cn/img1"}, d.Images)
	require.NotNil(t, d.PublishTime)
	assert.Equal(t, time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC), d.PublishTime.UTC())

	deletions := provider.deletions()
	require.Len(t, deletions, 1)
	assert.True(t, deletions[0].syncContext)
}

func TestWeChatEmptyArticleReportsFailure(t *testing.T) {
	provider := newFakeProvider()
	b := newFakeBrowser()
	b.handle("activity-name", map[string]any{"title": "", "content": ""})
	w := NewWeChatArticle(testDeps(provider, b))

	details, err := w.NoteDetails(context.Background(), testTenant, []string{"https://mp.weixin.qq.com/s/gone"}, 1)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.False(t, details[0].Success)
	assert.Contains(t, details[0].Error, "no content")
}

func TestWeChatUnsupportedOperations(t *testing.T) {
	w := NewWeChatArticle(testDeps(newFakeProvider(), newFakeBrowser()))

	var notImplemented *services.NotImplementedError

	_, err := w.Search(context.Background(), testTenant, []string{"kw"}, 10)
	require.ErrorAs(t, err, &notImplemented)
	assert.Equal(t, PlatformWeChatArticle, notImplemented.Platform)

	_, err = w.LoginQR(context.Background(), testTenant)
	assert.ErrorAs(t, err, &notImplemented)
}
