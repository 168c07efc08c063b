package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/shared"
)

type stubResolver struct {
	principal *shared.Principal
	err       error
	token     string
}

func (s *stubResolver) Resolve(_ context.Context, token string) (*shared.Principal, error) {
	s.token = token
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

func TestAuthenticateResolvesBearerToken(t *testing.T) {
	resolver := &stubResolver{principal: &shared.Principal{UserID: 7, Name: "picker", Capabilities: []string{"inventory.view"}}}
	mw := Middleware{Resolver: resolver}

	var seen *shared.Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "secret-token", resolver.token)
	require.NotNil(t, seen)
	require.Equal(t, int64(7), seen.UserID)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	mw := Middleware{Resolver: &stubResolver{err: ErrUnknownToken}}

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAnyChecksCapabilities(t *testing.T) {
	mw := Middleware{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		principal  *shared.Principal
		wantStatus int
	}{
		{name: "missing principal", principal: nil, wantStatus: http.StatusUnauthorized},
		{name: "lacking capability", principal: &shared.Principal{UserID: 1, Capabilities: []string{"sales.ship"}}, wantStatus: http.StatusForbidden},
		{name: "direct capability", principal: &shared.Principal{UserID: 1, Capabilities: []string{"inventory.post"}}, wantStatus: http.StatusNoContent},
		{name: "wildcard", principal: &shared.Principal{UserID: 1, Capabilities: []string{"*"}}, wantStatus: http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := mw.RequireAny("inventory.post")(next)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.principal != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), tc.principal))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.wantStatus, rr.Code)
		})
	}
}
