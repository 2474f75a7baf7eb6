package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/db"
)

// CacheOptions configures a CachedClient.
type CacheOptions struct {
	// Table is the cache table, optionally schema-qualified.
	Table string
	// TTLDays ignores entries older than this many days. 0 disables expiry.
	TTLDays int
}

// CachedClient stores provider answers, including empty ones, in Postgres
// keyed by a hash of the normalized query.
type CachedClient struct {
	inner Client
	pool  db.Pool
	opts  CacheOptions
}

// NewCachedClient wraps inner with a Postgres cache.
func NewCachedClient(inner Client, pool db.Pool, opts CacheOptions) *CachedClient {
	if opts.Table == "" {
		opts.Table = "geocode_cache"
	}
	return &CachedClient{inner: inner, pool: pool, opts: opts}
}

// Migrate creates the cache table if needed.
func (c *CachedClient) Migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	query_hash TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	candidates JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, c.opts.Table))
	return eris.Wrap(err, "geocode: migrate cache")
}

// Geocode implements Client. Cache read and write failures are logged and
// fall through to the provider.
func (c *CachedClient) Geocode(ctx context.Context, addr AddressInput) ([]Candidate, error) {
	key := cacheKey(addr)
	if cached, ok := c.check(ctx, key); ok {
		return cached, nil
	}

	cands, err := c.inner.Geocode(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, key, addr.Query(), cands); err != nil {
		zap.L().Warn("geocode: cache store failed", zap.Error(err))
	}
	return cands, nil
}

// cacheKey returns SHA-256 hex of the normalized address.
func cacheKey(addr AddressInput) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(addr.Street)),
		strings.ToLower(strings.TrimSpace(addr.City)),
		strings.ToLower(strings.TrimSpace(addr.State)),
		strings.ToLower(strings.TrimSpace(addr.Country)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

func (c *CachedClient) check(ctx context.Context, key string) ([]Candidate, bool) {
	query := fmt.Sprintf("SELECT candidates FROM %s WHERE query_hash = $1", c.opts.Table)
	if c.opts.TTLDays > 0 {
		query += fmt.Sprintf(" AND cached_at > now() - interval '%d days'", c.opts.TTLDays)
	}

	var raw []byte
	if err := c.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("geocode: cache lookup failed", zap.Error(err))
		}
		return nil, false
	}

	var cands []Candidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		zap.L().Warn("geocode: cache entry unreadable", zap.String("key", key[:12]), zap.Error(err))
		return nil, false
	}
	zap.L().Debug("geocode cache hit", zap.String("key", key[:12]), zap.Int("candidates", len(cands)))
	return cands, true
}

func (c *CachedClient) store(ctx context.Context, key, query string, cands []Candidate) error {
	if cands == nil {
		cands = []Candidate{}
	}
	raw, err := json.Marshal(cands)
	if err != nil {
		return eris.Wrap(err, "geocode: marshal candidates")
	}
	_, err = c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (query_hash, query, candidates, cached_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (query_hash) DO UPDATE SET
			candidates = EXCLUDED.candidates,
			cached_at = now()`, c.opts.Table),
		key, query, raw,
	)
	return eris.Wrap(err, "geocode: store cache")
}
