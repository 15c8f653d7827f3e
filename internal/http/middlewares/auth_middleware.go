package middlewares

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/auth"
)

// MachineVerifier and HumanVerifier are the narrow interfaces this
// middleware needs, so tests can fake either independently of
// internal/auth's concrete HTTP/DB-backed implementations.
type MachineVerifier interface {
	Verify(ctx context.Context, moduleID, apiKey string) (auth.Machine, error)
}

type HumanVerifier interface {
	Verify(ctx context.Context, bearerToken string) (auth.Human, error)
}

type AuthMiddleware struct {
	machine MachineVerifier
	human   HumanVerifier
}

func NewAuthMiddleware(machine MachineVerifier, human HumanVerifier) *AuthMiddleware {
	return &AuthMiddleware{machine: machine, human: human}
}

// RequireAuth resolves whichever principal variant the request
// presents (§6): X-Module-Id/X-API-Key for a Machine, Authorization:
// Bearer for a Human. Presenting neither, or a machine header pair that
// fails to verify, is Unauthorized.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		moduleID := c.GetHeader("X-Module-Id")
		apiKey := c.GetHeader("X-Api-Key")

		var (
			principal auth.Principal
			err       error
		)

		switch {
		case moduleID != "" || apiKey != "":
			var mp auth.Machine
			mp, err = m.machine.Verify(c.Request.Context(), moduleID, apiKey)
			principal = mp
		case strings.HasPrefix(c.GetHeader("Authorization"), "Bearer "):
			var hp auth.Human
			hp, err = m.human.Verify(c.Request.Context(), c.GetHeader("Authorization"))
			principal = hp
		default:
			err = apperr.Unauthorized("missing_credentials", "present X-Module-Id/X-Api-Key or an Authorization bearer token")
		}

		if err != nil {
			respondAppErr(c, err)
			return
		}

		ctx := actorctx.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func respondAppErr(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		c.AbortWithStatusJSON(500, gin.H{"error": gin.H{"code": "internal_error", "message": "internal error"}})
		return
	}
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), gin.H{"error": gin.H{"code": code, "message": e.Message}})
}
