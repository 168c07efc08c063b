package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stockline/stockline/internal/platform/httpx"
	"github.com/stockline/stockline/internal/shared"
)

// TokenResolver resolves bearer tokens to principals.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*shared.Principal, error)
}

// Middleware wires capability checks for HTTP handlers. The core services
// never see capability strings, only the resolved actor id in context.
type Middleware struct {
	Resolver TokenResolver
	Logger   *slog.Logger
}

// Authenticate resolves the Authorization header into a request principal.
// Requests without a token proceed anonymously; capability guards reject
// them later.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := m.Resolver.Resolve(r.Context(), token)
		if err != nil {
			if err != ErrUnknownToken && m.Logger != nil {
				m.Logger.Error("resolve api token", slog.Any("error", err))
			}
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the principal holds at least one of the capabilities.
func (m Middleware) RequireAny(capabilities ...string) func(http.Handler) http.Handler {
	normalized := normalizeCapabilities(capabilities)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if hasAny(principal, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func normalizeCapabilities(capabilities []string) []string {
	unique := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		unique[c] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for c := range unique {
		normalized = append(normalized, c)
	}
	return normalized
}

func hasAny(p *shared.Principal, required []string) bool {
	if p.Can("*") {
		return true
	}
	for _, c := range required {
		if p.Can(c) {
			return true
		}
	}
	return false
}
