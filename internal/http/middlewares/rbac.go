package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/auth"
)

// RequireScopes is §9's require_scopes(set), applied as route gating:
// both Human and Machine principals answer the same total query, so
// one middleware covers every route in §6's table regardless of which
// variant is attached.
func RequireScopes(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := actorctx.PrincipalFrom(c.Request.Context())
		if !ok {
			respondAppErr(c, apperr.Unauthorized("missing_principal", "request has no resolved principal"))
			return
		}
		if !auth.RequireScopes(principal, scopes...) {
			respondAppErr(c, apperr.Forbidden("insufficient_scope", "principal lacks required scope"))
			return
		}
		c.Next()
	}
}
