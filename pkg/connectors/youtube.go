package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sniper-hq/sniper/pkg/connectors/feed"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

const defaultYouTubeFeedURL = "https://yt-feed-proxy.internal/api/v1/search"

// YouTube searches the video platform through its JSON search feed; no
// browser session is involved. Only search is offered.
type YouTube struct {
	UnimplementedConnector
	feedURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewYouTube(feedURL string) *YouTube {
	if feedURL == "" {
		feedURL = defaultYouTubeFeedURL
	}
	return &YouTube{
		UnimplementedConnector: UnimplementedConnector{platform: PlatformYouTube},
		feedURL:                feedURL,
		httpClient:             &http.Client{Timeout: 30 * time.Second},
		logger:                 slog.Default().With("connector", PlatformYouTube),
	}
}

func (y *YouTube) Platform() string { return PlatformYouTube }

func (y *YouTube) Capabilities() []Capability {
	return []Capability{CapSearch}
}

// Search queries the feed once per keyword and merges the matches. The feed
// is parsed incrementally, so the per-keyword limit cuts the download short.
func (y *YouTube) Search(ctx context.Context, _ Tenant, keywords []string, limit int) ([]models.NoteCard, error) {
	if len(keywords) == 0 {
		return nil, &services.ValidationError{Field: "keywords", Message: "at least one keyword is required"}
	}
	if limit <= 0 {
		limit = 20
	}

	outcomes := fanOut(ctx, keywords, 0, func(ctx context.Context, _ int, keyword string) ([]models.NoteCard, error) {
		return y.searchKeyword(ctx, keyword, limit)
	})

	var cards []models.NoteCard
	for _, o := range outcomes {
		if o.Err != nil {
			y.logger.Warn("Feed search failed", "keyword", keywords[o.Index], "error", o.Err)
			continue
		}
		cards = append(cards, o.Value...)
	}
	return cards, nil
}

func (y *YouTube) searchKeyword(ctx context.Context, keyword string, limit int) ([]models.NoteCard, error) {
	q := url.Values{"q": {keyword}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.feedURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %q: %w", keyword, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed for %q: HTTP %d", keyword, resp.StatusCode)
	}

	items, err := feed.Parse(resp.Body, []string{keyword}, limit)
	if err != nil {
		return nil, err
	}

	cards := make([]models.NoteCard, 0, len(items))
	for _, item := range items {
		cards = append(cards, models.NoteCard{
			NoteID:      item.ID,
			Title:       item.Title,
			Description: item.Description,
			Author:      item.Channel,
			AuthorID:    item.ChannelID,
			Channel:     item.Channel,
			LikedCount:  item.LikeCount,
			FullURL:     item.URL,
			Platform:    PlatformYouTube,
			Keyword:     keyword,
		})
	}
	return cards, nil
}
