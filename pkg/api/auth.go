package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/services"
)

const identityKey = "sniper.identity"

// requireAuth resolves the bearer credential to a tenant identity and aborts
// with 401 when the key is missing or unknown.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		respondError(c, services.ErrUnauthorized)
		c.Abort()
		return
	}

	ident, ok := s.apiKeys[token]
	if !ok {
		respondError(c, services.ErrUnauthorized)
		c.Abort()
		return
	}

	c.Set(identityKey, ident)
	c.Next()
}

// tenantFrom returns the authenticated tenant. Only reachable behind
// requireAuth, so the identity is always present.
func tenantFrom(c *gin.Context) connectors.Tenant {
	ident := c.MustGet(identityKey).(config.Identity)
	return connectors.Tenant{Source: ident.Source, SourceID: ident.SourceID}
}
