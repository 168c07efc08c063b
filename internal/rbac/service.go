package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockline/stockline/internal/shared"
)

// ErrUnknownToken indicates the presented API token is not registered.
var ErrUnknownToken = errors.New("rbac: unknown api token")

const principalCacheTTL = 5 * time.Minute

// Service resolves API tokens to principals. Tokens are stored hashed in
// Postgres; resolved principals are cached in Redis so the hot path does not
// hit the database on every request.
type Service struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// NewService constructs the Service. The cache client may be nil, in which
// case every resolution reads the database.
func NewService(pool *pgxpool.Pool, cache *redis.Client) *Service {
	return &Service{pool: pool, cache: cache}
}

// Resolve maps a raw bearer token to its principal.
func (s *Service) Resolve(ctx context.Context, token string) (*shared.Principal, error) {
	if token == "" {
		return nil, ErrUnknownToken
	}
	hash := TokenHash(token)
	if p, ok := s.cached(ctx, hash); ok {
		return p, nil
	}

	var p shared.Principal
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, name, capabilities FROM api_keys WHERE token_hash=$1 AND active`,
		hash).Scan(&p.UserID, &p.Name, &p.Capabilities)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownToken
		}
		return nil, err
	}
	s.store(ctx, hash, &p)
	return &p, nil
}

// Invalidate drops the cached principal for a token hash, used when a key is
// revoked.
func (s *Service) Invalidate(ctx context.Context, tokenHash string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(tokenHash)).Err()
}

func (s *Service) cached(ctx context.Context, hash string) (*shared.Principal, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, cacheKey(hash)).Bytes()
	if err != nil {
		return nil, false
	}
	var p shared.Principal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (s *Service) store(ctx context.Context, hash string, p *shared.Principal) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, cacheKey(hash), payload, principalCacheTTL).Err()
}

// TokenHash returns the hex SHA-256 of a raw token, the form stored at rest.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func cacheKey(hash string) string {
	return fmt.Sprintf("rbac:principal:%s", hash)
}
