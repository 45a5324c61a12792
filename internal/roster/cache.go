// Package roster reads the guest roster and canonicalizes room identifiers.
package roster

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched snapshot is served without I/O.
const DefaultTTL = 300 * time.Second

// ErrEmpty is returned by a Source that read no values at all.
var ErrEmpty = errors.New("roster: sheet returned no data")

// Row is one guest record from the roster.
type Row struct {
	Name         string
	MobileNumber string
	Room         string
}

// Source reads the raw roster cells, one slice per spreadsheet row.
type Source interface {
	ReadRows(ctx context.Context) ([][]string, error)
}

// Observer is notified about each fetch attempt. result is "hit", "ok"
// or the failure kind reported by Classify.
type Observer interface {
	RosterFetch(result string)
}

var headerNames = map[string]bool{
	"name":       true,
	"guest name": true,
	"guest":      true,
}

// Cache serves roster snapshots with a TTL. It never returns errors: a
// failed refresh degrades to the last good snapshot, or to an empty one.
type Cache struct {
	source   Source
	ttl      time.Duration
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu        sync.RWMutex
	rows      []Row
	fetchedAt time.Time

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver reports fetch results, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache over source. A non-positive ttl selects DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the roster. Within the TTL the cached snapshot is returned
// without I/O unless forceRefresh is set.
func (c *Cache) Fetch(ctx context.Context, forceRefresh bool) []Row {
	if !forceRefresh {
		if rows, ok := c.fresh(); ok {
			c.logger.Debug("using cached roster", zap.Int("rows", len(rows)))
			c.observe("hit")
			return rows
		}
	}

	// Concurrent misses share one read. A forced refresh joins an
	// in-flight read as well, since that read is already fresh.
	v, _, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx), nil
	})
	return v.([]Row)
}

// Snapshot returns the cached rows and when they were fetched, without I/O.
func (c *Cache) Snapshot() ([]Row, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows, c.fetchedAt
}

func (c *Cache) fresh() ([]Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return nil, false
	}
	return c.rows, c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *Cache) refresh(ctx context.Context) []Row {
	c.logger.Info("fetching fresh roster")

	values, err := c.source.ReadRows(ctx)
	if err == nil && len(values) == 0 {
		err = ErrEmpty
	}
	if err != nil {
		kind := Classify(err)
		c.observe(kind)

		c.mu.RLock()
		rows := c.rows
		c.mu.RUnlock()

		c.logger.Error("roster fetch failed, serving last known snapshot",
			zap.String("kind", kind),
			zap.Int("cached_rows", len(rows)),
			zap.Error(err),
		)
		if rows == nil {
			return []Row{}
		}
		return rows
	}

	rows := parseRows(values, c.logger)

	c.mu.Lock()
	c.rows = rows
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.observe("ok")
	c.logger.Info("roster refreshed", zap.Int("rows", len(rows)))
	return rows
}

func (c *Cache) observe(result string) {
	if c.observer != nil {
		c.observer.RosterFetch(result)
	}
}

// parseRows strips a header row and drops rows missing a column.
func parseRows(values [][]string, logger *zap.Logger) []Row {
	if len(values) > 0 && len(values[0]) > 0 && headerNames[strings.ToLower(strings.TrimSpace(values[0][0]))] {
		logger.Debug("header row detected", zap.Strings("header", values[0]))
		values = values[1:]
	}

	rows := make([]Row, 0, len(values))
	for i, v := range values {
		if len(v) < 3 {
			logger.Warn("skipping incomplete roster row", zap.Int("row", i), zap.Int("columns", len(v)))
			continue
		}
		rows = append(rows, Row{
			Name:         strings.TrimSpace(v[0]),
			MobileNumber: strings.TrimSpace(v[1]),
			Room:         strings.TrimSpace(v[2]),
		})
	}
	return rows
}
