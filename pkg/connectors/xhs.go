package connectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sniper-hq/sniper/pkg/browser"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// Short-video social platform endpoints and probes.
const (
	xhsHomeURL    = "https://www.xiaohongshu.com"
	xhsSearchURL  = "https://www.xiaohongshu.com/search_result?keyword=%s"
	xhsNoteURL    = "https://www.xiaohongshu.com/explore/%s"
	xhsProfileURL = "https://www.xiaohongshu.com/user/profile/%s"
	xhsPublishURL = "https://creator.xiaohongshu.com/publish/publish"

	// Present only for authenticated users; the login probe keys on it.
	xhsLoggedInSelector = ".user.side-bar-component .channel"

	xhsCookieDomain = ".xiaohongshu.com"
)

// XHS extracts from the short-video social platform via client-state dumps:
// the site hangs its store off window.__INITIAL_STATE__ and every page type
// has a documented key path into it.
type XHS struct {
	deps   Deps
	logins *loginTasks
	logger *slog.Logger
}

func NewXHS(deps Deps) *XHS {
	return &XHS{
		deps:   deps,
		logins: newLoginTasks(),
		logger: slog.Default().With("connector", PlatformXHS),
	}
}

func (x *XHS) Platform() string { return PlatformXHS }

func (x *XHS) Capabilities() []Capability {
	return []Capability{CapSearch, CapHarvest, CapGetDetail, CapPublish, CapLoginCookie, CapLoginQR}
}

// Search runs each keyword through the platform's search page and merges the
// result cards. A failing keyword is logged and skipped; it never aborts the
// other keywords.
func (x *XHS) Search(ctx context.Context, tenant Tenant, keywords []string, limit int) ([]models.NoteCard, error) {
	if len(keywords) == 0 {
		return nil, &services.ValidationError{Field: "keywords", Message: "at least one keyword is required"}
	}
	if limit <= 0 {
		limit = 20
	}

	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, true, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}
	defer func() { sess.close(ctx.Err() == nil) }()

	outcomes := fanOut(ctx, keywords, 0, func(ctx context.Context, _ int, keyword string) ([]models.NoteCard, error) {
		return x.searchKeyword(ctx, sess, keyword, limit)
	})

	var cards []models.NoteCard
	for _, o := range outcomes {
		if o.Err != nil {
			// Login loss is session-wide: every other keyword hits the same
			// wall, so the whole operation reports it.
			var notLoggedIn *services.NotLoggedInError
			if errors.As(o.Err, &notLoggedIn) {
				return nil, notLoggedIn
			}
			x.logger.Warn("Keyword search failed", "keyword", keywords[o.Index], "error", o.Err)
			continue
		}
		cards = append(cards, o.Value...)
	}
	return cards, nil
}

func (x *XHS) searchKeyword(ctx context.Context, sess *opSession, keyword string, limit int) ([]models.NoteCard, error) {
	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	target := fmt.Sprintf(xhsSearchURL, url.QueryEscape(keyword))
	if err := page.Goto(ctx, target, 0); err != nil {
		return nil, fmt.Errorf("navigate search %q: %w", keyword, err)
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		return nil, err
	}

	feeds, err := pollInitialStateList(ctx, page, stateDumpScript("search", "feeds"))
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		// The search page serves a login wall instead of results once the
		// context's cookies go stale. The context still exists, so this is a
		// login loss, not a missing context: report it with the viewer URL
		// the user can open to re-authenticate.
		loggedIn, probeErr := page.HasSelector(ctx, xhsLoggedInSelector, 5*time.Second)
		if probeErr == nil && !loggedIn {
			return nil, &services.NotLoggedInError{
				Platform:    PlatformXHS,
				ContextID:   sess.contextID,
				ResourceURL: sess.session.ResourceURL,
			}
		}
	}

	cards := make([]models.NoteCard, 0, len(feeds))
	for _, feed := range feeds {
		if len(cards) >= limit {
			break
		}
		card := xhsCardFromFeed(feed)
		if card.NoteID == "" {
			continue
		}
		card.Keyword = keyword
		cards = append(cards, card)
	}
	return cards, nil
}

// HarvestUser collects the recent note grid from each creator's profile.
// Per-creator failures are reported in the creator's record.
func (x *XHS) HarvestUser(ctx context.Context, tenant Tenant, creatorIDs []string, limit int) ([]models.CreatorContent, error) {
	if len(creatorIDs) == 0 {
		return nil, &services.ValidationError{Field: "creator_ids", Message: "at least one creator id is required"}
	}
	if limit <= 0 {
		limit = 30
	}

	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, true, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}
	defer func() { sess.close(ctx.Err() == nil) }()

	outcomes := fanOut(ctx, creatorIDs, 0, func(ctx context.Context, _ int, creatorID string) (models.CreatorContent, error) {
		return x.harvestCreator(ctx, sess, creatorID, limit)
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

func (x *XHS) harvestCreator(ctx context.Context, sess *opSession, creatorID string, limit int) (models.CreatorContent, error) {
	content := models.CreatorContent{CreatorID: creatorID}

	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		return content, err
	}
	defer page.Close()

	if err := page.Goto(ctx, fmt.Sprintf(xhsProfileURL, creatorID), 0); err != nil {
		return content, fmt.Errorf("navigate profile %s: %w", creatorID, err)
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		return content, err
	}

	pageData, err := pollInitialState(ctx, page, stateDumpScript("user", "userPageData"))
	if err != nil {
		return content, err
	}
	content.Nickname = asString(asMap(pageData["basicInfo"])["nickname"])

	notes, err := pollInitialStateList(ctx, page, stateDumpScript("user", "notes"))
	if err != nil {
		return content, err
	}
	for _, raw := range notes {
		if len(content.Notes) >= limit {
			break
		}
		card := xhsCardFromFeed(raw)
		if card.NoteID == "" {
			continue
		}
		if card.Author == "" {
			card.Author = content.Nickname
		}
		if card.AuthorID == "" {
			card.AuthorID = creatorID
		}
		content.Notes = append(content.Notes, card)
	}
	content.Success = true
	return content, nil
}

// NoteDetails fetches full records for each URL, in completion order.
func (x *XHS) NoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) ([]models.NoteDetail, error) {
	events, err := x.StreamNoteDetails(ctx, tenant, urls, concurrency)
	if err != nil {
		return nil, err
	}
	details := make([]models.NoteDetail, 0, len(urls))
	for ev := range events {
		details = append(details, ev.Detail)
	}
	return details, nil
}

// StreamNoteDetails fetches URLs in batches of three, each batch awaited
// before the next starts, with bounded concurrency inside the batch. Results
// stream out as they complete.
func (x *XHS) StreamNoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) (<-chan DetailEvent, error) {
	if len(urls) == 0 {
		return nil, &services.ValidationError{Field: "urls", Message: "at least one url is required"}
	}
	concurrency = clampConcurrency(concurrency)

	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, true, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}

	events := make(chan DetailEvent, concurrency)
	go func() {
		defer close(events)
		defer func() { sess.close(ctx.Err() == nil) }()
		streamDetailBatches(ctx, PlatformXHS, urls, concurrency, events, func(ctx context.Context, noteURL string) models.NoteDetail {
			return x.fetchDetail(ctx, sess, noteURL)
		})
	}()
	return events, nil
}

func (x *XHS) fetchDetail(ctx context.Context, sess *opSession, noteURL string) models.NoteDetail {
	detail := models.NoteDetail{FullURL: noteURL, Platform: PlatformXHS}

	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	defer page.Close()

	if err := page.Goto(ctx, noteURL, 0); err != nil {
		detail.Error = fmt.Sprintf("navigate: %v", err)
		return detail
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		detail.Error = err.Error()
		return detail
	}

	detailMap, err := pollInitialState(ctx, page, stateDumpScript("note", "noteDetailMap"))
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	if len(detailMap) == 0 {
		detail.Error = "note detail state never appeared"
		return detail
	}

	// The map is keyed by note id and holds exactly the note this page shows.
	for noteID, raw := range detailMap {
		entry := asMap(raw)
		note := asMap(entry["note"])
		if note == nil {
			continue
		}
		detail.NoteID = noteID
		detail.Title = asString(note["title"])
		detail.Content = asString(note["desc"])
		detail.Author = asString(asMap(note["user"])["nickname"])

		interact := asMap(note["interactInfo"])
		detail.LikedCount = asCount(interact["likedCount"])
		detail.CollectedCount = asCount(interact["collectedCount"])
		detail.CommentCount = asCount(interact["commentCount"])

		for _, img := range asList(note["imageList"]) {
			if u := asString(asMap(img)["urlDefault"]); u != "" {
				detail.Images = append(detail.Images, u)
			}
		}
		if ts := asCount(note["time"]); ts > 0 {
			t := time.UnixMilli(int64(ts))
			detail.PublishTime = &t
		}
		if pinned, ok := note["sticky"].(bool); ok {
			detail.IsPinned = pinned
		}

		for _, raw := range asList(asMap(entry["comments"])["list"]) {
			c := asMap(raw)
			if c == nil {
				continue
			}
			detail.Comments = append(detail.Comments, models.Comment{
				Author:     asString(asMap(c["userInfo"])["nickname"]),
				Content:    asString(c["content"]),
				LikedCount: asCount(c["likeCount"]),
			})
		}
		break
	}

	if detail.NoteID == "" {
		detail.Error = "note detail state missing note record"
		return detail
	}
	detail.Success = true
	return detail
}

// LoginCookie injects caller-supplied cookies into a fresh session, verifies
// the logged-in probe, and flushes the authenticated context.
func (x *XHS) LoginCookie(ctx context.Context, tenant Tenant, cookies map[string]string) (*models.LoginResult, error) {
	if len(cookies) == 0 {
		return nil, &services.ValidationError{Field: "cookies", Message: "cookie login requires a non-empty cookie map"}
	}

	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, false, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}

	loggedIn, err := x.injectAndProbe(ctx, sess, cookies)
	if err != nil {
		sess.close(false)
		return nil, err
	}
	if !loggedIn {
		sess.close(false)
		return nil, fmt.Errorf("cookie login for %s did not authenticate", sess.contextID)
	}

	sess.close(true)
	return &models.LoginResult{IsLoggedIn: true, ContextID: sess.contextID}, nil
}

func (x *XHS) injectAndProbe(ctx context.Context, sess *opSession, cookies map[string]string) (bool, error) {
	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		return false, err
	}
	defer page.Close()

	expires := time.Now().Add(24 * time.Hour)
	toAdd := make([]browser.Cookie, 0, len(cookies))
	for name, value := range cookies {
		toAdd = append(toAdd, browser.Cookie{
			Name:    name,
			Value:   value,
			Domain:  xhsCookieDomain,
			Path:    "/",
			Expires: expires,
		})
	}
	if err := page.AddCookies(ctx, toAdd); err != nil {
		return false, err
	}

	if err := page.Goto(ctx, xhsHomeURL, 0); err != nil {
		return false, err
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		return false, err
	}
	return page.HasSelector(ctx, xhsLoggedInSelector, 5*time.Second)
}

// LoginQR starts a QR login. When the tenant is already authenticated it
// cleans up immediately; otherwise the session stays alive showing the QR,
// registered for the confirm endpoint or the expiry timer to tear down.
func (x *XHS) LoginQR(ctx context.Context, tenant Tenant) (*models.LoginResult, error) {
	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, false, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}

	loggedIn, err := x.probeLoggedIn(ctx, sess)
	if err != nil {
		sess.close(false)
		return nil, err
	}
	if loggedIn {
		sess.close(true)
		return &models.LoginResult{IsLoggedIn: true, ContextID: sess.contextID}, nil
	}

	if err := x.deps.Provider.Act(ctx, sess.session.ID, "Open the login dialog so the QR code is visible for scanning"); err != nil {
		sess.close(false)
		return nil, err
	}

	timeout := x.deps.LoginTimeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	x.logins.put(sess.contextID, sess.session, sess.browser, timeout, x.finishLogin)
	x.logger.Info("QR login pending", "context_id", sess.contextID, "timeout", timeout)

	return &models.LoginResult{
		IsLoggedIn:     false,
		ContextID:      sess.contextID,
		QRCodeURL:      sess.session.ResourceURL,
		ResourceURL:    sess.session.ResourceURL,
		TimeoutSeconds: int(timeout.Seconds()),
	}, nil
}

func (x *XHS) probeLoggedIn(ctx context.Context, sess *opSession) (bool, error) {
	page, err := sess.browser.NewPage(ctx)
	if err != nil {
		return false, err
	}
	defer page.Close()

	if err := page.Goto(ctx, xhsHomeURL, 0); err != nil {
		return false, err
	}
	if err := page.WaitForLoadState(ctx, 0); err != nil {
		return false, err
	}
	return page.HasSelector(ctx, xhsLoggedInSelector, 5*time.Second)
}

// ConfirmLogin finishes a pending QR login: flushes the authenticated
// session back to the persistent context and tears it down. When no login is
// pending (never started, or the expiry timer already flushed it) the call
// reports not-found.
func (x *XHS) ConfirmLogin(_ context.Context, contextID string) error {
	task, ok := x.logins.take(contextID)
	if !ok {
		return fmt.Errorf("no pending login for %s: %w", contextID, services.ErrNotFound)
	}
	x.finishLogin(task.session, task.browser)
	return nil
}

// finishLogin is the shared teardown for confirm and expiry: either way the
// context gets flushed — cookies that exist are kept. Deleting an
// already-deleted session is idempotent at the provider.
func (x *XHS) finishLogin(session *browser.Session, b browser.Browser) {
	b.Close()
	deleteSessionQuietly(x.deps.Provider, session.ID, true)
}

// Publish drives the provider's LLM agent through the platform's publish
// flow. Not idempotent.
func (x *XHS) Publish(ctx context.Context, tenant Tenant, req models.PublishRequest) (*models.PublishResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &services.ValidationError{Field: "content", Message: "publish content must not be empty"}
	}

	sess, err := openSession(ctx, x.deps.Provider, x.deps.Attach, x.deps.ImageID, PlatformXHS, tenant, true, desktopInit("zh-CN"))
	if err != nil {
		return nil, err
	}
	defer func() { sess.close(ctx.Err() == nil) }()

	if err := x.deps.Provider.Navigate(ctx, sess.session.ID, xhsPublishURL); err != nil {
		return nil, err
	}
	if err := x.deps.Provider.Act(ctx, sess.session.ID, publishInstruction(req)); err != nil {
		return nil, err
	}

	return &models.PublishResult{Success: true, Platform: PlatformXHS, Content: req.Content}, nil
}

func publishInstruction(req models.PublishRequest) string {
	var b strings.Builder
	b.WriteString("Publish a new post with the following content:\n")
	b.WriteString(req.Content)
	if req.ContentType != "" {
		fmt.Fprintf(&b, "\nContent type: %s", req.ContentType)
	}
	if len(req.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(req.Tags, ", "))
	}
	if len(req.Images) > 0 {
		fmt.Fprintf(&b, "\nAttach these images in order: %s", strings.Join(req.Images, ", "))
	}
	b.WriteString("\nSubmit the post and wait for the confirmation state.")
	return b.String()
}

// xhsCardFromFeed maps one search-feed or profile-grid entry to a NoteCard.
func xhsCardFromFeed(feed map[string]any) models.NoteCard {
	noteID := asString(feed["id"])
	card := asMap(feed["noteCard"])
	if card == nil {
		card = feed
	}
	user := asMap(card["user"])
	interact := asMap(card["interactInfo"])
	return models.NoteCard{
		NoteID:     noteID,
		Title:      asString(card["displayTitle"]),
		Author:     asString(user["nickname"]),
		AuthorID:   asString(user["userId"]),
		LikedCount: asCount(interact["likedCount"]),
		FullURL:    fmt.Sprintf(xhsNoteURL, noteID),
		Platform:   PlatformXHS,
	}
}

// streamDetailBatches runs the two-level detail schedule: outer batches of
// detailBatchSize awaited in order, a semaphore of width concurrency inside.
// Emission stops (without draining) once ctx is cancelled and the consumer
// is gone.
func streamDetailBatches(ctx context.Context, platform string, urls []string, concurrency int, events chan<- DetailEvent, fetch func(ctx context.Context, url string) models.NoteDetail) {
	emit := func(ev DetailEvent) bool {
		// Prefer delivery: a cancelled context must not drop results the
		// consumer still has buffer space for.
		select {
		case events <- ev:
			return true
		default:
		}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	for start := 0; start < len(urls); start += detailBatchSize {
		end := start + detailBatchSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i, u := i, urls[i]
			if err := sem.Acquire(ctx, 1); err != nil {
				emit(DetailEvent{Index: i, Detail: failedDetail(u, platform, err)})
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				emit(DetailEvent{Index: i, Detail: fetch(ctx, u)})
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			for i := end; i < len(urls); i++ {
				if !emit(DetailEvent{Index: i, Detail: failedDetail(urls[i], platform, ctx.Err())}) {
					return
				}
			}
			return
		}
	}
}

func failedDetail(noteURL, platform string, err error) models.NoteDetail {
	return models.NoteDetail{FullURL: noteURL, Platform: platform, Success: false, Error: err.Error()}
}
