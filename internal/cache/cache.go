// Package cache keeps copies of fetched remote files so repeated requests for
// an unchanged asset skip the SFTP transfer. Entries are validated against the
// remote size and modification time on every lookup.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/johann/assetview/internal/cid"
	"github.com/johann/assetview/internal/logging"
)

const (
	// InlineThreshold is the max stored size for inline storage in SQLite
	InlineThreshold = 256 * 1024 // 256KB
)

var (
	// ErrNoBlobStore is returned by Put for objects that need the blob tier when none is configured.
	ErrNoBlobStore = errors.New("no blob store configured for large objects")
	// ErrBlobMissing is returned by a BlobStore when a key does not exist.
	ErrBlobMissing = errors.New("blob not found")
)

// BlobStore holds objects too large for inline storage.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Options configures a Cache.
type Options struct {
	DBPath string
	// MaxObjectSize bounds the size of a cached file. Zero means no bound.
	MaxObjectSize int64
	// Blobs is optional. Without it only objects below InlineThreshold are cached.
	Blobs BlobStore
}

// Cache is a sqlite index of cached remote files, with content addressed objects.
type Cache struct {
	db        *sql.DB
	blobs     BlobStore
	maxObject int64
	log       *zap.Logger
	writeMu   sync.Mutex // Serialize write operations
	now       func() time.Time
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries     int   `json:"entries"`
	Objects     int   `json:"objects"`
	Bytes       int64 `json:"bytes"`
	StoredBytes int64 `json:"stored_bytes"`
}

// Open opens (and migrates) the cache database.
func Open(opts Options, log *zap.Logger) (*Cache, error) {
	// Add busy_timeout and WAL mode via connection string
	dsn := opts.DBPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	c := &Cache{
		db:        db,
		blobs:     opts.Blobs,
		maxObject: opts.MaxObjectSize,
		log:       logging.OrNop(log).Named("cache"),
		now:       time.Now,
	}

	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		cid TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		stored_size INTEGER NOT NULL,
		compressed INTEGER NOT NULL,
		inline_data BLOB,
		s3_key TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		cid TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_cid ON entries(cid);
	CREATE INDEX IF NOT EXISTS idx_entries_last_access ON entries(last_access);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Admits reports whether a file of size bytes can be cached at all.
func (c *Cache) Admits(size int64) bool {
	if size < 0 || (c.maxObject > 0 && size > c.maxObject) {
		return false
	}
	// Files that may not compress below the inline threshold need the blob tier.
	return size < InlineThreshold || c.blobs != nil
}

// Get returns the cached content of path if its recorded size and mtime
// match the given remote stat.
func (c *Cache) Get(ctx context.Context, path string, size int64, mtime time.Time) ([]byte, bool, error) {
	var (
		digest     string
		entrySize  int64
		entryMtime int64
		compressed bool
		inlineData []byte
		s3Key      sql.NullString
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT e.cid, e.size, e.mtime, o.compressed, o.inline_data, o.s3_key
		FROM entries e JOIN objects o ON o.cid = e.cid
		WHERE e.path = ?
	`, path).Scan(&digest, &entrySize, &entryMtime, &compressed, &inlineData, &s3Key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entrySize != size || entryMtime != mtime.Unix() {
		return nil, false, nil
	}

	stored := inlineData
	if stored == nil && size == 0 {
		stored = []byte{}
	}
	if stored == nil {
		if !s3Key.Valid || s3Key.String == "" || c.blobs == nil {
			return nil, false, nil
		}
		stored, err = c.blobs.Get(ctx, s3Key.String)
		if errors.Is(err, ErrBlobMissing) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch blob %s: %w", s3Key.String, err)
		}
	}

	data := stored
	if compressed {
		data, err = decompress(stored, size)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decompress object %s: %w", digest, err)
		}
	}

	if !cid.Matches(digest, data) {
		c.log.Warn("cached object failed verification", zap.String("path", path), zap.String("cid", digest))
		return nil, false, nil
	}

	c.touch(ctx, path)
	return data, true, nil
}

func (c *Cache) touch(ctx context.Context, path string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, `UPDATE entries SET last_access = ? WHERE path = ?`,
		c.now().Unix(), path); err != nil {
		c.log.Warn("failed to update cache access time", zap.String("path", path), zap.Error(err))
	}
}

// Put records data as the content of path at the given remote size and mtime.
func (c *Cache) Put(ctx context.Context, path string, size int64, mtime time.Time, data []byte) error {
	if int64(len(data)) != size {
		return fmt.Errorf("content of %s is %d bytes, stat says %d", path, len(data), size)
	}

	digest, err := cid.Sum(data)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}

	exists, err := c.objectExists(ctx, digest)
	if err != nil {
		return err
	}

	if !exists {
		stored, compressed := compress(data)

		var inlineData []byte
		var s3Key sql.NullString
		if len(stored) < InlineThreshold {
			inlineData = stored
		} else {
			if c.blobs == nil {
				return ErrNoBlobStore
			}
			s3Key = sql.NullString{String: "objects/" + digest, Valid: true}
			if err := c.blobs.Put(ctx, s3Key.String, stored); err != nil {
				return fmt.Errorf("failed to upload to S3: %w", err)
			}
		}

		c.writeMu.Lock()
		_, err = c.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO objects (cid, size, stored_size, compressed, inline_data, s3_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, digest, size, len(stored), compressed, inlineData, s3Key, c.now().Unix())
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entries (path, cid, size, mtime, last_access)
		VALUES (?, ?, ?, ?, ?)
	`, path, digest, size, mtime.Unix(), c.now().Unix())
	return err
}

func (c *Cache) objectExists(ctx context.Context, digest string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE cid = ?`, digest).Scan(&count)
	return count > 0, err
}

// Prune deletes entries not accessed since cutoff, then every object no
// entry refers to. It returns the number of objects removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE last_access < ?`, cutoff.Unix()); err != nil {
		return 0, err
	}

	return c.pruneOrphanedObjectsLocked(ctx)
}

// pruneOrphanedObjectsLocked must be called with writeMu held
func (c *Cache) pruneOrphanedObjectsLocked(ctx context.Context) (int, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT o.cid, o.s3_key FROM objects o
		LEFT JOIN entries e ON o.cid = e.cid
		WHERE e.cid IS NULL
	`)
	if err != nil {
		return 0, err
	}

	var toDelete []string
	var s3Keys []string
	for rows.Next() {
		var digest string
		var s3Key sql.NullString
		if err := rows.Scan(&digest, &s3Key); err != nil {
			rows.Close()
			return 0, err
		}
		toDelete = append(toDelete, digest)
		if s3Key.Valid && s3Key.String != "" {
			s3Keys = append(s3Keys, s3Key.String)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if c.blobs != nil {
		for _, key := range s3Keys {
			if err := c.blobs.Delete(ctx, key); err != nil {
				c.log.Warn("failed to delete blob", zap.String("key", key), zap.Error(err))
			}
		}
	}

	for _, digest := range toDelete {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM objects WHERE cid = ?`, digest); err != nil {
			return 0, err
		}
	}

	if len(toDelete) > 0 {
		c.log.Info("pruned orphaned cache objects", zap.Int("objects", len(toDelete)))
	}

	return len(toDelete), nil
}

// Stats returns entry and object counts and sizes.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.Entries); err != nil {
		return st, err
	}
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(stored_size), 0) FROM objects
	`).Scan(&st.Objects, &st.Bytes, &st.StoredBytes)
	return st, err
}

// compress LZ4-compresses data, returning it unchanged when that does not help.
func compress(data []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil || n == 0 || n >= len(data) {
		return data, false
	}
	return dst[:n], true
}

func decompress(compressed []byte, size int64) ([]byte, error) {
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, err
	}
	if int64(n) != size {
		return nil, fmt.Errorf("decompressed %d bytes, want %d", n, size)
	}
	return out, nil
}
