// Package connectors implements the per-platform extraction adapters and the
// dispatching service that gates every outbound operation behind a
// distributed lock and a rate limit.
package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/sniper-hq/sniper/pkg/browser"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// Supported platforms.
const (
	PlatformXHS           = "xhs"
	PlatformWeChatArticle = "wechat_article"
	PlatformYouTube       = "youtube"
)

// Operation names, used for gate keys and error messages.
const (
	OpSearchAndExtract   = "search_and_extract"
	OpGetNoteDetail      = "get_note_detail"
	OpHarvestUserContent = "harvest_user_content"
	OpPublishContent     = "publish_content"
	OpLogin              = "login"
)

// Tenant identifies whose behalf an operation runs on.
type Tenant struct {
	Source   string
	SourceID string
}

// Deps is the shared wiring every platform adapter is built with.
type Deps struct {
	Provider     browser.Provider
	Attach       browser.Attacher
	ImageID      string
	LoginTimeout time.Duration
}

// ContextID builds the remote-browser context name for a tenant on a
// platform. The format is an opaque key to the provider.
func ContextID(platform string, tenant Tenant) string {
	return fmt.Sprintf("%s-context:%s-%s", platform, tenant.Source, tenant.SourceID)
}

// Capability names one operation a connector implements.
type Capability string

const (
	CapSearch      Capability = "search"
	CapHarvest     Capability = "harvest"
	CapGetDetail   Capability = "get_detail"
	CapPublish     Capability = "publish"
	CapLoginCookie Capability = "login_cookie"
	CapLoginQR     Capability = "login_qr"
)

// DetailEvent is one per-URL outcome emitted by a streaming detail fetch,
// in completion order.
type DetailEvent struct {
	// Index is the position of the URL in the caller's input list.
	Index  int
	Detail models.NoteDetail
}

// Connector is the extraction contract every platform adapter implements.
// Adapters declare their capability set; unimplemented operations return
// NotImplementedError.
type Connector interface {
	Platform() string
	Capabilities() []Capability

	// Search runs keyword searches and returns lightweight result cards.
	Search(ctx context.Context, tenant Tenant, keywords []string, limit int) ([]models.NoteCard, error)

	// HarvestUser collects recent content for each creator id.
	HarvestUser(ctx context.Context, tenant Tenant, creatorIDs []string, limit int) ([]models.CreatorContent, error)

	// NoteDetails fetches full records for each URL. URLs are processed in
	// batches of three with bounded concurrency inside each batch; per-item
	// failures are captured in the item's record, never failing siblings.
	NoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) ([]models.NoteDetail, error)

	// StreamNoteDetails is NoteDetails with per-URL results delivered as
	// they complete. The channel is closed when all items are done or the
	// context is cancelled; its buffer equals the worker concurrency so the
	// consumer applies natural backpressure.
	StreamNoteDetails(ctx context.Context, tenant Tenant, urls []string, concurrency int) (<-chan DetailEvent, error)

	// LoginCookie logs in with caller-supplied cookies and persists the
	// authenticated context.
	LoginCookie(ctx context.Context, tenant Tenant, cookies map[string]string) (*models.LoginResult, error)

	// LoginQR starts (or short-circuits) a QR login. When login is needed
	// the session stays alive and the result carries the viewer URL the
	// user must open to scan.
	LoginQR(ctx context.Context, tenant Tenant) (*models.LoginResult, error)

	// ConfirmLogin finishes a pending QR login: flushes the authenticated
	// session back to the persistent context and tears the session down.
	ConfirmLogin(ctx context.Context, contextID string) error

	// Publish posts content through the LLM-driven browser agent. Not
	// idempotent: callers must not retry without human review.
	Publish(ctx context.Context, tenant Tenant, req models.PublishRequest) (*models.PublishResult, error)
}

// UnimplementedConnector returns NotImplementedError for every operation.
// Platform adapters embed it and override what they support.
type UnimplementedConnector struct {
	platform string
}

func (u UnimplementedConnector) Search(context.Context, Tenant, []string, int) ([]models.NoteCard, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpSearchAndExtract}
}

func (u UnimplementedConnector) HarvestUser(context.Context, Tenant, []string, int) ([]models.CreatorContent, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpHarvestUserContent}
}

func (u UnimplementedConnector) NoteDetails(context.Context, Tenant, []string, int) ([]models.NoteDetail, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpGetNoteDetail}
}

func (u UnimplementedConnector) StreamNoteDetails(context.Context, Tenant, []string, int) (<-chan DetailEvent, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpGetNoteDetail}
}

func (u UnimplementedConnector) LoginCookie(context.Context, Tenant, map[string]string) (*models.LoginResult, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpLogin}
}

func (u UnimplementedConnector) LoginQR(context.Context, Tenant) (*models.LoginResult, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpLogin}
}

func (u UnimplementedConnector) ConfirmLogin(context.Context, string) error {
	return &services.NotImplementedError{Platform: u.platform, Operation: OpLogin}
}

func (u UnimplementedConnector) Publish(context.Context, Tenant, models.PublishRequest) (*models.PublishResult, error) {
	return nil, &services.NotImplementedError{Platform: u.platform, Operation: OpPublishContent}
}
