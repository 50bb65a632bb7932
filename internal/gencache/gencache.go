package gencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"

	"storyforge/internal/config"
	"storyforge/internal/logging"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Entry is one cached generation result.
type Entry struct {
	Fingerprint string
	Payload     string
	Provider    string
	ModelID     string
	TokensIn    int
	TokensOut   int
	Cost        float64
	CreatedAt   time.Time
}

// Cache stores generation results keyed by request fingerprint in its own
// SQLite database, separate from the pipeline store so that sweeping never
// contends with job updates.
type Cache struct {
	db       *sql.DB
	path     string
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger
	statfs   statfsFunc

	// now is injectable so expiry tests do not have to sleep.
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS entries (
    fingerprint TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    provider    TEXT NOT NULL,
    model_id    TEXT NOT NULL DEFAULT '',
    tokens_in   INTEGER NOT NULL DEFAULT 0,
    tokens_out  INTEGER NOT NULL DEFAULT 0,
    cost        REAL NOT NULL DEFAULT 0,
    size_bytes  INTEGER NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_created_at ON entries (created_at);
`

// Open initializes the cache database under the configured data directory.
func Open(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.DataDir, "cache.db"), cfg, logger)
}

// OpenPath opens the cache database at an explicit path.
func OpenPath(dbPath string, cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	ttl := time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour
	cache := &Cache{
		db:       db,
		path:     dbPath,
		ttl:      ttl,
		maxBytes: cfg.Cache.MaxMegabytes * 1024 * 1024,
		logger:   logging.NewComponentLogger(logger, "gencache"),
		statfs:   realStatfs,
		now:      time.Now,
	}
	return cache, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the cache database file location.
func (c *Cache) Path() string {
	return c.path
}

// SetNow overrides the cache clock. Intended for tests.
func (c *Cache) SetNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Get returns the cached entry for a fingerprint. Entries past their TTL are
// deleted on read and reported as misses.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	row := c.db.QueryRowContext(
		ctx,
		`SELECT fingerprint, payload, provider, model_id, tokens_in, tokens_out, cost, created_at
         FROM entries WHERE fingerprint = ?`,
		fingerprint,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		// Condition on created_at so a Put that refreshed the entry between
		// the read and this delete keeps the fresh row.
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM entries WHERE fingerprint = ? AND created_at = ?`,
			fingerprint, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return nil, false, fmt.Errorf("expire cache entry: %w", err)
		}
		c.misses.Add(1)
		c.logger.Debug("expired cache entry on read",
			logging.String(logging.FieldFingerprint, fingerprint))
		return nil, false, nil
	}

	c.hits.Add(1)
	return entry, true, nil
}

// Put stores an entry, replacing any previous result for the same
// fingerprint, then evicts oldest entries if the size cap is exceeded.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if entry.Fingerprint == "" {
		return errors.New("cache entry requires a fingerprint")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.now()
	}
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO entries (fingerprint, payload, provider, model_id, tokens_in, tokens_out, cost, size_bytes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(fingerprint) DO UPDATE SET
             payload = excluded.payload,
             provider = excluded.provider,
             model_id = excluded.model_id,
             tokens_in = excluded.tokens_in,
             tokens_out = excluded.tokens_out,
             cost = excluded.cost,
             size_bytes = excluded.size_bytes,
             created_at = excluded.created_at`,
		entry.Fingerprint,
		entry.Payload,
		entry.Provider,
		entry.ModelID,
		entry.TokensIn,
		entry.TokensOut,
		entry.Cost,
		int64(len(entry.Payload)),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	if _, err := c.EvictToSize(ctx); err != nil {
		return err
	}
	return nil
}

// EvictExpired removes entries older than the TTL and reports how many were
// deleted.
func (c *Cache) EvictExpired(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict expired: %w", err)
	}
	return res.RowsAffected()
}

// EvictToSize removes oldest entries until the total payload size fits the
// configured cap.
func (c *Cache) EvictToSize(ctx context.Context) (int64, error) {
	if c.maxBytes <= 0 {
		return 0, nil
	}
	var evicted int64
	for {
		var total int64
		if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM entries`).Scan(&total); err != nil {
			return evicted, fmt.Errorf("cache size: %w", err)
		}
		if total <= c.maxBytes {
			return evicted, nil
		}
		res, err := c.db.ExecContext(
			ctx,
			`DELETE FROM entries WHERE fingerprint IN (
                 SELECT fingerprint FROM entries ORDER BY created_at, fingerprint LIMIT 1
             )`,
		)
		if err != nil {
			return evicted, fmt.Errorf("evict oldest: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return evicted, err
		}
		if affected == 0 {
			return evicted, nil
		}
		evicted += affected
	}
}

// Sweep runs a full maintenance pass: expired entries first, then the size
// cap. The daemon calls this on an interval.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	expired, err := c.EvictExpired(ctx)
	if err != nil {
		return expired, err
	}
	pruned, err := c.EvictToSize(ctx)
	if err != nil {
		return expired + pruned, err
	}
	total := expired + pruned
	if total > 0 {
		c.logger.InfoContext(ctx, "swept generation cache",
			logging.Int64("evicted", total))
	}
	return total, nil
}

// Clear empties the cache and reports how many entries were removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats describes current cache usage.
type Stats struct {
	Entries      int        `json:"entries"`
	TotalBytes   int64      `json:"total_bytes"`
	MaxBytes     int64      `json:"max_bytes"`
	TTL          string     `json:"ttl"`
	Hits         int64      `json:"hits"`
	Misses       int64      `json:"misses"`
	HitRate      float64    `json:"hit_rate"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
	FreeBytes    uint64     `json:"free_bytes"`
	TotalFSBytes uint64     `json:"total_fs_bytes"`
}

// Stats reports entry counts, sizes, hit rate since process start, and
// filesystem headroom for the cache volume.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var oldest, newest sql.NullString
	err := c.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(size_bytes), 0), MIN(created_at), MAX(created_at) FROM entries`,
	).Scan(&s.Entries, &s.TotalBytes, &oldest, &newest)
	if err != nil {
		return s, fmt.Errorf("cache stats: %w", err)
	}
	s.MaxBytes = c.maxBytes
	s.TTL = c.ttl.String()
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	if oldest.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			s.Oldest = &ts
		}
	}
	if newest.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, newest.String); err == nil {
			s.Newest = &ts
		}
	}
	if total, free, err := c.statfs(filepath.Dir(c.path)); err == nil {
		s.TotalFSBytes = total
		s.FreeBytes = free
	}
	return s, nil
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var entry Entry
	var createdRaw string
	if err := row.Scan(
		&entry.Fingerprint,
		&entry.Payload,
		&entry.Provider,
		&entry.ModelID,
		&entry.TokensIn,
		&entry.TokensOut,
		&entry.Cost,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse cache timestamp: %w", err)
	}
	entry.CreatedAt = created
	return &entry, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
