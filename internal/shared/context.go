package shared

import "context"

// Principal is the authenticated caller attached to a request context. The
// core services only see the resolved actor id; capability checks happen at
// the routing layer.
type Principal struct {
	UserID       int64
	Name         string
	Capabilities []string
}

// Can reports whether the principal holds the capability.
func (p *Principal) Can(capability string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// ActorID returns the authenticated user id, or zero for anonymous contexts.
func ActorID(ctx context.Context) int64 {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return 0
}
