package connectors

import (
	"sync"

	"github.com/sniper-hq/sniper/pkg/services"
)

// Registry hands out the per-platform connector instances. Connectors are
// created lazily and shared for the life of the process — they must stay
// shared, because a pending QR login lives in its connector's LoginTask map
// and the confirm request arrives on a different HTTP request.
type Registry struct {
	deps    Deps
	feedURL string

	mu         sync.Mutex
	connectors map[string]Connector
}

func NewRegistry(deps Deps, feedURL string) *Registry {
	return &Registry{
		deps:       deps,
		feedURL:    feedURL,
		connectors: make(map[string]Connector),
	}
}

// Get returns the connector for platform, creating it on first use.
func (r *Registry) Get(platform string) (Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connectors[platform]; ok {
		return c, nil
	}

	var c Connector
	switch platform {
	case PlatformXHS:
		c = NewXHS(r.deps)
	case PlatformWeChatArticle:
		c = NewWeChatArticle(r.deps)
	case PlatformYouTube:
		c = NewYouTube(r.feedURL)
	default:
		return nil, &services.ValidationError{Field: "platform", Message: "unknown platform: " + platform}
	}
	r.connectors[platform] = c
	return c, nil
}

// Platforms lists every supported platform name.
func (r *Registry) Platforms() []string {
	return []string{PlatformXHS, PlatformWeChatArticle, PlatformYouTube}
}

// Manifest returns the static platform → capabilities map served by the
// capability endpoint.
func (r *Registry) Manifest() map[string][]Capability {
	manifest := make(map[string][]Capability, len(r.Platforms()))
	for _, platform := range r.Platforms() {
		c, err := r.Get(platform)
		if err != nil {
			continue
		}
		manifest[platform] = c.Capabilities()
	}
	return manifest
}
