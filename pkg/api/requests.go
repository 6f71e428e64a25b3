package api

// Request bodies for the connector and workflow endpoints.

type extractSummaryRequest struct {
	URLs        []string `json:"urls"`
	Platform    string   `json:"platform"`
	Concurrency int      `json:"concurrency"`
}

type harvestRequest struct {
	Platform   string   `json:"platform"`
	CreatorIDs []string `json:"creator_ids"`
	Limit      int      `json:"limit"`
}

type noteDetailRequest struct {
	URLs     []string `json:"urls"`
	Platform string   `json:"platform"`
}

type searchRequest struct {
	Platform string   `json:"platform"`
	Keywords []string `json:"keywords"`
	Limit    int      `json:"limit"`
}

type publishRequest struct {
	Platform    string   `json:"platform"`
	Content     string   `json:"content"`
	ContentType string   `json:"content_type"`
	Images      []string `json:"images"`
	Tags        []string `json:"tags"`
}

type loginRequest struct {
	Platform string            `json:"platform"`
	Method   string            `json:"method"`
	Cookies  map[string]string `json:"cookies"`
}

type confirmLoginRequest struct {
	ContextID string `json:"context_id"`
}

type monitorRequest struct {
	CreatorIDs []string `json:"creator_ids"`
	WindowDays int      `json:"window_days"`
}

type trendRequest struct {
	Keywords []string `json:"keywords"`
}

type analyzeRequest struct {
	URLs []string `json:"urls"`
	Mode string   `json:"mode"`
}
