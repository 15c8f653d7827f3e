// Package actorctx propagates the resolved Principal (§9) through a
// request's context.Context, the way the teacher threads its own
// request-scoped identity values.
package actorctx

import (
	"context"

	"github.com/sourcejob/controlplane/internal/auth"
)

type ctxKey string

const keyPrincipal ctxKey = "principal"

func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(auth.Principal)
	return p, ok && p != nil
}

// SubjectFrom returns the principal's subject (user id for a Human,
// external module_id for a Machine) — the identifier every provenance
// append stamps as actor_id.
func SubjectFrom(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", false
	}
	return p.Subject(), true
}
