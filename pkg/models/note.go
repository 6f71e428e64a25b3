package models

import "time"

// NoteCard is a search or listing hit: the lightweight record extracted from
// a result grid before any detail fetch.
type NoteCard struct {
	NoteID      string `json:"note_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	AuthorID    string `json:"author_id,omitempty"`
	Channel     string `json:"channel,omitempty"`
	LikedCount  int    `json:"liked_count"`
	FullURL     string `json:"full_url"`
	Platform    string `json:"platform"`
	Keyword     string `json:"keyword,omitempty"`
}

// Comment is one user comment attached to a note detail.
type Comment struct {
	Author     string `json:"author"`
	Content    string `json:"content"`
	LikedCount int    `json:"liked_count,omitempty"`
}

// NoteDetail is the full record extracted from a single note/article page.
// Per-item failures inside a fan-out are reported here rather than failing
// the batch: Success=false and Error carry the worker's outcome.
type NoteDetail struct {
	NoteID         string     `json:"note_id,omitempty"`
	Title          string     `json:"title,omitempty"`
	Content        string     `json:"content,omitempty"`
	Author         string     `json:"author,omitempty"`
	LikedCount     int        `json:"liked_count,omitempty"`
	CollectedCount int        `json:"collected_count,omitempty"`
	CommentCount   int        `json:"comment_count,omitempty"`
	Images         []string   `json:"images,omitempty"`
	Comments       []Comment  `json:"comments,omitempty"`
	PublishTime    *time.Time `json:"publish_time,omitempty"`
	IsPinned       bool       `json:"is_pinned,omitempty"`
	FullURL        string     `json:"full_url"`
	Platform       string     `json:"platform"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
}

// CreatorContent is the harvest result for one creator id.
type CreatorContent struct {
	CreatorID string     `json:"creator_id"`
	Nickname  string     `json:"nickname,omitempty"`
	Notes     []NoteCard `json:"notes"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

// LoginResult is the outcome of a cookie or QR login attempt. For a pending
// QR login IsLoggedIn is false and QRCodeURL points at the remote-browser
// viewer the user must open to scan.
type LoginResult struct {
	IsLoggedIn     bool   `json:"is_logged_in"`
	ContextID      string `json:"context_id"`
	QRCodeURL      string `json:"qrcode,omitempty"`
	ResourceURL    string `json:"resource_url,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

// PublishRequest describes a post to publish through the LLM-driven agent.
type PublishRequest struct {
	Content     string   `json:"content"`
	ContentType string   `json:"content_type,omitempty"`
	Images      []string `json:"images,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// PublishResult reports an agent-driven publish attempt. Publishing is not
// idempotent; callers must not retry without human review.
type PublishResult struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform"`
	Content  string `json:"content"`
}
