package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/shared"
)

func TestResolveServesCachedPrincipal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// nil pool: a cache hit must never reach the database.
	svc := NewService(nil, client)

	principal := shared.Principal{UserID: 7, Name: "picker-01", Capabilities: []string{"inventory.post"}}
	payload, err := json.Marshal(&principal)
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), cacheKey(TokenHash("raw-token")), payload, time.Minute).Err())

	got, err := svc.Resolve(context.Background(), "raw-token")
	require.NoError(t, err)
	require.Equal(t, int64(7), got.UserID)
	require.Equal(t, []string{"inventory.post"}, got.Capabilities)
}

func TestResolveRejectsEmptyToken(t *testing.T) {
	svc := NewService(nil, nil)
	_, err := svc.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestInvalidateDropsCachedPrincipal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewService(nil, client)

	hash := TokenHash("revoked-token")
	require.NoError(t, client.Set(context.Background(), cacheKey(hash), []byte(`{"user_id":9}`), time.Minute).Err())
	require.NoError(t, svc.Invalidate(context.Background(), hash))
	require.False(t, mr.Exists(cacheKey(hash)))
}

func TestTokenHashIsStable(t *testing.T) {
	require.Equal(t, TokenHash("abc"), TokenHash("abc"))
	require.Len(t, TokenHash("abc"), 64)
	require.NotEqual(t, TokenHash("abc"), TokenHash("abd"))
}
