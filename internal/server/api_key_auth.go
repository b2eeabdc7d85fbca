package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	obscontext "github.com/smallbiznis/paymirror/internal/observability/context"
)

const contextIdentityKey = "api_key_identity"

// APIKeyRequired authenticates requests with an operator key. The verified
// identity is stored on the request for scope checks downstream.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ident, err := s.apiKeySvc.Verify(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "api_key", ident.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextIdentityKey, ident)
		c.Next()
	}
}

// RequireScope rejects authenticated callers whose key lacks the scope.
func (s *Server) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := apiKeyIdentity(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !ident.HasScope(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func apiKeyIdentity(c *gin.Context) (*apikeydomain.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	ident, ok := value.(*apikeydomain.Identity)
	if !ok || ident == nil {
		return nil, false
	}
	return ident, true
}
