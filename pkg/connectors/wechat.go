package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

const (
	wechatAlbumURL = "https://mp.weixin.qq.com/mp/profile_ext?action=home&__biz=%s"

	wechatArticleSelector = "#js_article"
)

// wechatDetailScript flattens one article page into a single record. The
// platform renders articles server-side, so there is no client-state store
// to dump; one DOM evaluation does the whole extraction.
const wechatDetailScript = `(() => {
	const text = (sel) => {
		const el = document.querySelector(sel);
		return el ? el.innerText.trim() : "";
	};
	const images = Array.from(document.querySelectorAll("#js_content img"))
		.map((img) => img.dataset.src || img.src)
		.filter((src) => src && src.startsWith("http"));
	return {
		title: text("#activity-name"),
		author: text("#js_name") || text("#js_author_name"),
		content: text("#js_content"),
		publishTime: text("#publish_time"),
		images: images,
	};
})()`

// wechatAlbumScript lists the article cards on an author's album page.
const wechatAlbumScript = `(() => {
	return Array.from(document.querySelectorAll(".weui_media_box")).map((box) => {
		const link = box.querySelector("h4.weui_media_title");
		return {
			title: link ? link.innerText.trim() : "",
			url: link ? (link.getAttribute("hrefs") || link.getAttribute("href") || "") : "",
			digest: (box.querySelector(".weui_media_desc") || {innerText: ""}).innerText.trim(),
		};
	}).filter((item) => item.url !== "");
})()`

// WeChatArticle extracts from the messaging-article platform via DOM
// evaluation. Articles are public, so operations run without a login-backed
// context; search and publish are not offered by the platform surface.
type WeChatArticle struct {
	UnimplementedConnector
	deps   Deps
	logger *slog.Logger
}

func NewWeChatArticle(deps Deps) *WeChatArticle {
	return &WeChatArticle{
		UnimplementedConnector: UnimplementedConnector{platform: PlatformWeChatArticle},
		deps:                   deps,
		logger:                 slog.Default().With("connector", PlatformWeChatArticle),
	}
}

func (w *WeChatArticle) Platform() string { return PlatformWeChatArticle }

func (w *WeChatArticle) Capabilities() []Capability {
	return []Capability{CapHarvest, CapGetDetail}
}

// HarvestUser lists recent articles from each account's public album page.
func (w *WeChatArticle) HarvestUser(ctx context.Context, tenant Tenant, creatorIDs []string, limit int) ([]models.CreatorContent, error) {
	if len(creatorIDs) == 0 {
		return nil, &services.ValidationError{Field: "creator_ids", Message: "at least one creator id is required"}
	}
	if limit <= 0 {
		limit = 30
	}

	sess, err := openSession(ctx, w.deps.Provider, w.deps.Attach, w.deps.ImageID, PlatformWeChatArticle, tenant, false, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}
	defer func() { sess.close(ctx.Err() == nil) }()

	outcomes := fanOut(ctx, creatorIDs, 0, func(ctx context.Context, _ int, creatorID string) (models.CreatorContent, error) {
		return w.harvestAlbum(ctx, sess, creatorID, limit)
	})

	contents := make([]models.CreatorContent, 0, len(creatorIDs))
	for _, o := range outcomes {
		if o.Err != nil {
			contents = append(contents, models.CreatorContent{
				CreatorID: creatorIDs[o.Index],
				Success:   false,
				Error:     o.Err.Error(),
			})
			continue
		}
		contents = append(contents, o.Value)
	}
	return contents, nil
}

func (w *WeChatArticle) harvestAlbum(ctx context.Context, sess *opSession, creatorID string, limit int) (models.CreatorContent, error) {
	content := models.CreatorContent{CreatorID: creatorID}

	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		return content, err
	}
	defer page.Close()

	if err := page.Goto(ctx, fmt.Sprintf(wechatAlbumURL, creatorID), 0); err != nil {
		return content, fmt.Errorf("navigate album %s: %w", creatorID, err)
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		return content, err
	}

	var items []map[string]any
	if err := page.Evaluate(ctx, wechatAlbumScript, &items); err != nil {
		return content, fmt.Errorf("extract album %s: %w", creatorID, err)
	}

	for _, item := range items {
		if len(content.Notes) >= limit {
			break
		}
		content.Notes = append(content.Notes, models.NoteCard{
			Title:       asString(item["title"]),
			Description: asString(item["digest"]),
			AuthorID:    creatorID,
			FullURL:     asString(item["url"]),
			Platform:    PlatformWeChatArticle,
		})
	}
	content.Success = true
	return content, nil
}

// NoteDetails fetches full article records for each URL.
func (w *WeChatArticle) NoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) ([]models.NoteDetail, error) {
	events, err := w.StreamNoteDetails(ctx, tenant, urls, concurrency)
	if err != nil {
		return nil, err
	}
	details := make([]models.NoteDetail, 0, len(urls))
	for ev := range events {
		details = append(details, ev.Detail)
	}
	return details, nil
}

// StreamNoteDetails fetches article URLs in batches of three and streams the
// records in completion order.
func (w *WeChatArticle) StreamNoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) (<-chan DetailEvent, error) {
	if len(urls) == 0 {
		return nil, &services.ValidationError{Field: "urls", Message: "at least one url is required"}
	}
	concurrency = clampConcurrency(concurrency)

	sess, err := openSession(ctx, w.deps.Provider, w.deps.Attach, w.deps.ImageID, PlatformWeChatArticle, tenant, false, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}

	events := make(chan DetailEvent, concurrency)
	go func() {
		defer close(events)
		defer func() { sess.close(ctx.Err() == nil) }()
		streamDetailBatches(ctx, PlatformWeChatArticle, urls, concurrency, events, func(ctx context.Context, articleURL string) models.NoteDetail {
			return w.fetchArticle(ctx, sess, articleURL)
		})
	}()
	return events, nil
}

func (w *WeChatArticle) fetchArticle(ctx context.Context, sess *opSession, articleURL string) models.NoteDetail {
	detail := models.NoteDetail{FullURL: articleURL, Platform: PlatformWeChatArticle}

	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	defer page.Close()

	if err := page.Goto(ctx, articleURL, 0); err != nil {
		detail.Error = fmt.Sprintf("navigate: %v", err)
		return detail
	}
	if err := page.WaitForSelector(ctx, wechatArticleSelector, 0); err != nil {
		detail.Error = fmt.Sprintf("article body never rendered: %v", err)
		return detail
	}

	var record map[string]any
	if err := page.Evaluate(ctx, wechatDetailScript, &record); err != nil {
		detail.Error = fmt.Sprintf("extract article: %v", err)
		return detail
	}

	detail.Title = asString(record["title"])
	detail.Author = asString(record["author"])
	detail.Content = asString(record["content"])
	detail.Images = asStrings(record["images"])
	if ts := asString(record["publishTime"]); ts != "" {
		if t, err := time.Parse("2006-01-02 15:04", ts); err == nil {
			detail.PublishTime = &t
		}
	}
	if detail.Title == "" && detail.Content == "" {
		detail.Error = "article page yielded no content"
		return detail
	}
	detail.Success = true
	return detail
}
