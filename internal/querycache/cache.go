// Package querycache keeps recent read-query results in a local SQLite
// database so repeated CLI invocations do not refetch unchanged data. It
// only ever drops entries in response to invalidation; it never patches
// cached payloads, so every read after a write goes back to the backend.
package querycache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/coach-go/internal/invalidate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlGet = `SELECT tag, payload, fetched_at FROM query_cache WHERE key = ?`
	sqlPut = `INSERT INTO query_cache (key, tag, payload, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 tag = excluded.tag,
		 payload = excluded.payload,
		 fetched_at = excluded.fetched_at`
	sqlDropTag    = `DELETE FROM query_cache WHERE tag = ?`
	sqlClear      = `DELETE FROM query_cache`
	sqlLogDrop    = `INSERT INTO invalidation_log (tag, dropped, invalidated_at) VALUES (?, ?, ?)`
	sqlStats      = `SELECT tag, COUNT(*), MIN(fetched_at) FROM query_cache GROUP BY tag ORDER BY tag`
	sqlRecentLogs = `SELECT tag, dropped, invalidated_at FROM invalidation_log ORDER BY id DESC LIMIT ?`
)

// Cache is a TTL-bounded store of JSON payloads keyed by query key and
// grouped by invalidation tag. Safe for concurrent use.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time

	mu     sync.Mutex
	gen    map[invalidate.Tag]uint64        // bumped per drop; guards against stale fills
	epoch  uint64                           // bumped per Clear
	maxAge map[invalidate.Tag]time.Duration // per-family caps below ttl
}

// Open opens (creating if needed) the cache database at path and applies
// migrations.
func Open(ctx context.Context, path string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("querycache: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("query cache opened", slog.String("path", path), slog.Duration("ttl", ttl))

	return &Cache{
		db:      db,
		ttl:     ttl,
		logger:  logger,
		nowFunc: time.Now,
		gen:     make(map[invalidate.Tag]uint64),
		maxAge:  make(map[invalidate.Tag]time.Duration),
	}, nil
}

// CapTTL limits how long entries in tag's family stay fresh. The cap only
// shortens the cache-wide TTL, never extends it.
func (c *Cache) CapTTL(tag invalidate.Tag, limit time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxAge[tag] = limit
}

// ttlFor is the effective TTL for tag; zero means entries never expire.
func (c *Cache) ttlFor(tag invalidate.Tag) time.Duration {
	c.mu.Lock()
	limit := c.maxAge[tag]
	c.mu.Unlock()

	if limit > 0 && (c.ttl <= 0 || limit < c.ttl) {
		return limit
	}

	return c.ttl
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("querycache: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("querycache: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("querycache: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get decodes the cached payload for key into out. It reports false when
// the key is absent or older than its family's TTL.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	var (
		tag       string
		payload   []byte
		fetchedAt int64
	)

	err := c.db.QueryRowContext(ctx, sqlGet, key).Scan(&tag, &payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("querycache: reading %s: %w", key, err)
	}

	if ttl := c.ttlFor(invalidate.Tag(tag)); ttl > 0 && c.nowFunc().Sub(time.Unix(0, fetchedAt)) > ttl {
		return false, nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("querycache: decoding %s: %w", key, err)
	}

	return true, nil
}

// Put stores value under key in tag's family.
func (c *Cache) Put(ctx context.Context, tag invalidate.Tag, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("querycache: encoding %s: %w", key, err)
	}

	if _, err := c.db.ExecContext(ctx, sqlPut, key, string(tag), payload, c.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("querycache: writing %s: %w", key, err)
	}

	return nil
}

// DropTags deletes every entry in the given families and returns how many
// rows went.
func (c *Cache) DropTags(ctx context.Context, tags []invalidate.Tag) (int64, error) {
	c.mu.Lock()
	for _, t := range tags {
		c.gen[t]++
	}
	c.mu.Unlock()

	var total int64

	for _, t := range tags {
		res, err := c.db.ExecContext(ctx, sqlDropTag, string(t))
		if err != nil {
			return total, fmt.Errorf("querycache: dropping %s: %w", t, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("querycache: dropping %s: %w", t, err)
		}

		total += n

		if _, err := c.db.ExecContext(ctx, sqlLogDrop, string(t), n, c.nowFunc().UnixNano()); err != nil {
			return total, fmt.Errorf("querycache: logging drop of %s: %w", t, err)
		}
	}

	c.logger.Debug("query cache families dropped", slog.Any("tags", tags), slog.Int64("rows", total))

	return total, nil
}

// Clear deletes every entry.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, sqlClear)
	if err != nil {
		return 0, fmt.Errorf("querycache: clearing: %w", err)
	}

	return res.RowsAffected()
}

// Subscribe drops families whenever the bus publishes them.
func (c *Cache) Subscribe(bus *invalidate.Bus) (unsubscribe func()) {
	return bus.Subscribe("querycache", func(ctx context.Context, tags []invalidate.Tag) error {
		_, err := c.DropTags(ctx, tags)
		return err
	})
}

func (c *Cache) generation(t invalidate.Tag) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen[t] + c.epoch
}

// Fetch is a read-through helper. A nil cache always calls fetch. Results
// are stored only if no invalidation of tag happened while fetch ran, so a
// read racing a write cannot repopulate the pre-write state. Cache errors
// are logged and never fail the read.
func Fetch[T any](
	ctx context.Context, c *Cache, tag invalidate.Tag, variant string, fetch func(context.Context) (T, error),
) (T, error) {
	if c == nil {
		return fetch(ctx)
	}

	key := tag.Key(variant)

	var cached T

	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("query cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	if hit {
		c.logger.Debug("query cache hit", slog.String("key", key))
		return cached, nil
	}

	gen := c.generation(tag)

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}

	if c.generation(tag) != gen {
		c.logger.Debug("skipping cache fill, family invalidated during fetch", slog.String("key", key))
		return v, nil
	}

	if err := c.Put(ctx, tag, key, v); err != nil {
		c.logger.Warn("query cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	return v, nil
}

// TagStats summarises one family.
type TagStats struct {
	Tag     string
	Entries int
	Oldest  time.Time
}

// Invalidation is one logged drop.
type Invalidation struct {
	Tag     string
	Dropped int64
	At      time.Time
}

// Stats lists entry counts per family.
func (c *Cache) Stats(ctx context.Context) ([]TagStats, error) {
	rows, err := c.db.QueryContext(ctx, sqlStats)
	if err != nil {
		return nil, fmt.Errorf("querycache: reading stats: %w", err)
	}
	defer rows.Close()

	var out []TagStats

	for rows.Next() {
		var (
			s      TagStats
			oldest int64
		)

		if err := rows.Scan(&s.Tag, &s.Entries, &oldest); err != nil {
			return nil, fmt.Errorf("querycache: scanning stats: %w", err)
		}

		s.Oldest = time.Unix(0, oldest)
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querycache: iterating stats: %w", err)
	}

	return out, nil
}

// RecentInvalidations returns the newest logged drops, newest first.
func (c *Cache) RecentInvalidations(ctx context.Context, limit int) ([]Invalidation, error) {
	rows, err := c.db.QueryContext(ctx, sqlRecentLogs, limit)
	if err != nil {
		return nil, fmt.Errorf("querycache: reading invalidation log: %w", err)
	}
	defer rows.Close()

	var out []Invalidation

	for rows.Next() {
		var (
			inv Invalidation
			at  int64
		)

		if err := rows.Scan(&inv.Tag, &inv.Dropped, &at); err != nil {
			return nil, fmt.Errorf("querycache: scanning invalidation log: %w", err)
		}

		inv.At = time.Unix(0, at)
		out = append(out, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querycache: iterating invalidation log: %w", err)
	}

	return out, nil
}
