package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/rank"
)

// SQLiteStore is the default, highest-capability backend: an embedded
// SQLite database with a full-text index, an embedding column for hybrid
// search, and a persisted embedding cache. WAL journaling keeps readers
// unblocked while a writer's transaction is open.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Embedder // nil disables vector search
	cache    *embedding.Cache

	vectorWeight  float64
	keywordWeight float64

	logger *zap.Logger

	idMu    sync.Mutex
	entropy *rand.Rand
}

// SQLiteOptions configures the indexed local store.
type SQLiteOptions struct {
	// Path is the database file location; the parent directory is created
	// as needed. The WAL sidecar lives next to it.
	Path string
	// Embedder is the raw provider; nil keeps recall keyword-only. The
	// store wraps it with the persisted embedding cache itself.
	Embedder  embedding.Embedder
	CacheSize int
	// Fusion weights. Leaving both zero selects the rank defaults; setting
	// either weight treats zero on the other as an explicit zero.
	VectorWeight  float64
	KeywordWeight float64
	Logger        *zap.Logger
}

// NewSQLiteStore opens or creates the database at opts.Path.
func NewSQLiteStore(opts SQLiteOptions) (*SQLiteStore, error) {
	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQLiteStore{
		db:            db,
		vectorWeight:  opts.VectorWeight,
		keywordWeight: opts.KeywordWeight,
		logger:        logger,
		entropy:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.vectorWeight == 0 && s.keywordWeight == 0 {
		s.vectorWeight = rank.DefaultVectorWeight
		s.keywordWeight = rank.DefaultKeywordWeight
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if opts.Embedder != nil {
		s.cache = embedding.NewCache(opts.CacheSize, s, logger)
		if err := s.cache.Load(context.Background()); err != nil {
			logger.Warn("load embedding cache", zap.Error(err))
		}
		s.embedder = embedding.NewCachedEmbedder(opts.Embedder, s.cache)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		key        TEXT NOT NULL UNIQUE,
		content    TEXT NOT NULL,
		category   TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		embedding  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated_at DESC);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		content_hash TEXT PRIMARY KEY,
		vector       BLOB NOT NULL,
		created_at   TEXT NOT NULL,
		accessed_at  TEXT NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		key, content,
		content='entries',
		content_rowid='rowid'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers keep the full-text index in sync with entries.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, key, content) VALUES (new.rowid, new.key, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, key, content) VALUES('delete', old.rowid, old.key, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, key, content) VALUES('delete', old.rowid, old.key, old.content);
			INSERT INTO entries_fts(rowid, key, content) VALUES (new.rowid, new.key, new.content);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	if err := model.ValidateKeyContent(p.Key, p.Content); err != nil {
		return nil, err
	}

	category := p.Category
	if category == "" {
		category = model.CategoryConversation
	}

	now := time.Now().UTC()

	// Embed before the write so provider latency never holds a
	// transaction open. A provider failure stores the entry without a
	// vector; keyword search still covers it.
	var embBlob []byte
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, p.Content)
		if err != nil {
			s.logger.Warn("embedding provider failed, storing without vector",
				zap.String("key", p.Key), zap.Error(err))
		} else if len(vec) > 0 {
			embBlob = encodeVector(vec)
		}
	}

	id := s.newID()
	ts := now.Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, key, content, category, session_id, created_at, updated_at, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			content    = excluded.content,
			category   = excluded.category,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at,
			embedding  = excluded.embedding`,
		id, p.Key, p.Content, string(category), p.SessionID, ts, ts, embBlob)
	if err != nil {
		return nil, fmt.Errorf("upsert entry: %w", err)
	}

	// Upserts preserve the original id and created_at; read them back.
	entry, ok, err := s.Get(ctx, p.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("entry vanished after upsert: %s", p.Key)
	}
	return entry, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, content, category, session_id, created_at, updated_at, embedding
		 FROM entries WHERE key = ?`, key)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get entry: %w", err)
	}
	return &entry, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if p.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(p.Category))
	}
	if p.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, p.SessionID)
	}

	query := fmt.Sprintf(
		`SELECT id, key, content, category, session_id, created_at, updated_at, embedding
		 FROM entries WHERE %s ORDER BY updated_at DESC`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			// One malformed row never aborts the whole read.
			s.logger.Warn("skipping malformed entry row", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Forget(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("forget entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PruneConversations deletes conversation entries last touched before the
// cutoff. Core entries are exempt by construction: the statement only ever
// matches the conversation category.
func (s *SQLiteStore) PruneConversations(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE category = ? AND updated_at < ?`,
		string(model.CategoryConversation), olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var category, createdAt, updatedAt string
	var sessionID sql.NullString
	var emb []byte

	err := row.Scan(&e.ID, &e.Key, &e.Content, &category, &sessionID, &createdAt, &updatedAt, &emb)
	if err != nil {
		return e, err
	}

	e.Category = model.Category(category)
	if sessionID.Valid {
		e.SessionID = sessionID.String
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if len(emb) > 0 {
		vec, err := decodeVector(emb)
		if err != nil {
			return e, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		e.Embedding = vec
	}
	return e, nil
}

// --- embedding.CacheBackend ---

// LoadCacheEntries reads the persisted embedding cache.
func (s *SQLiteStore) LoadCacheEntries(ctx context.Context) ([]embedding.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, vector, created_at, accessed_at FROM embedding_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []embedding.CacheEntry
	for rows.Next() {
		var e embedding.CacheEntry
		var blob []byte
		var createdAt, accessedAt string
		if err := rows.Scan(&e.Hash, &blob, &createdAt, &accessedAt); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping malformed cache row", zap.String("hash", e.Hash), zap.Error(err))
			continue
		}
		e.Vector = vec
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.AccessedAt, _ = time.Parse(time.RFC3339Nano, accessedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PutCacheEntry persists one cache entry.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e embedding.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (content_hash, vector, created_at, accessed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET
			vector = excluded.vector,
			accessed_at = excluded.accessed_at`,
		e.Hash, encodeVector(e.Vector),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.AccessedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// TouchCacheEntry records an access for LRU ranking.
func (s *SQLiteStore) TouchCacheEntry(ctx context.Context, hash string, accessedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE embedding_cache SET accessed_at = ? WHERE content_hash = ?`,
		accessedAt.UTC().Format(time.RFC3339Nano), hash)
	return err
}

// DeleteCacheEntry removes an evicted entry.
func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE content_hash = ?`, hash)
	return err
}
