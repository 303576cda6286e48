package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/rank"
)

// PostgresStore keeps memories in a shared PostgreSQL database so several
// agent processes can read and write the same memory. Recall is keyword
// only; there is no vector column on this backend.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string // schema-qualified, sanitized
	logger *zap.Logger

	idMu    sync.Mutex
	entropy *rand.Rand
}

// PostgresOptions configures the relational store.
type PostgresOptions struct {
	// DSN is a pgx connection string or URL.
	DSN string
	// Schema and Table name the target relation. Defaults: public.memories.
	Schema string
	Table  string
	// ConnectTimeout bounds the initial dial and ping.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewPostgresStore connects, verifies the connection, and ensures the
// schema exists. An unreachable database is reported as
// model.ErrBackendUnavailable so callers can distinguish it from bad input.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}
	table := opts.Table
	if table == "" {
		table = "memories"
	}
	if !identPattern.MatchString(schema) {
		return nil, &model.ValidationError{Field: "schema", Reason: "must match " + identPattern.String()}
	}
	if !identPattern.MatchString(table) {
		return nil, &model.ValidationError{Field: "table", Reason: "must match " + identPattern.String()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, backendErr("connect postgres", err)
	}

	pingCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, backendErr("ping postgres", err)
	}

	s := &PostgresStore{
		pool:    pool,
		table:   pgx.Identifier{schema, table}.Sanitize(),
		logger:  logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			key        TEXT NOT NULL UNIQUE,
			content    TEXT NOT NULL,
			category   TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (category)`,
			pgx.Identifier{schema + "_memories_category_idx"}.Sanitize(), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (session_id)`,
			pgx.Identifier{schema + "_memories_session_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return backendErr("init postgres schema", err)
		}
	}
	return nil
}

func (s *PostgresStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *PostgresStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	if err := model.ValidateKeyContent(p.Key, p.Content); err != nil {
		return nil, err
	}
	category := p.Category
	if category == "" {
		category = model.CategoryConversation
	}
	now := time.Now().UTC()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, key, content, category, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (key) DO UPDATE SET
			content    = EXCLUDED.content,
			category   = EXCLUDED.category,
			session_id = EXCLUDED.session_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`, s.table)

	entry := model.Entry{
		Key:       p.Key,
		Content:   p.Content,
		Category:  category,
		SessionID: p.SessionID,
		UpdatedAt: now,
	}
	err := s.pool.QueryRow(ctx, query,
		s.newID(), p.Key, p.Content, string(category), p.SessionID, now,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, backendErr("put", err)
	}
	return &entry, nil
}

func (s *PostgresStore) Recall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	terms := queryTerms(p.Query)
	if len(terms) == 0 {
		return []model.Entry{}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	conds := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(key ILIKE $%d OR content ILIKE $%d)", n, n))
	}
	where := "(" + strings.Join(conds, " OR ") + ")"
	if p.SessionID != "" {
		args = append(args, p.SessionID)
		where += fmt.Sprintf(" AND (session_id = '' OR session_id = $%d)", len(args))
	}

	query := fmt.Sprintf(`
		SELECT id, key, content, category, session_id, created_at, updated_at
		FROM %s WHERE %s`, s.table, where)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, backendErr("recall", err)
	}
	defer rows.Close()

	byID := make(map[string]model.Entry)
	var scored []rank.Result
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.ID, &e.Key, &e.Content, &e.Category, &e.SessionID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, backendErr("recall scan", err)
		}
		byID[e.ID] = e
		scored = append(scored, rank.Result{ID: e.ID, Score: termOccurrences(&e, terms)})
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("recall rows", err)
	}

	// Keyword-only fusion normalizes raw term counts into [0, 1].
	fused := rank.Fuse(nil, scored, 0, 1, limit)
	out := make([]model.Entry, 0, len(fused))
	for _, r := range fused {
		e := byID[r.ID]
		e.Score = r.Score
		out = append(out, e)
	}
	return out, nil
}

// termOccurrences counts distinct query terms present in the entry, with
// key matches weighted double.
func termOccurrences(e *model.Entry, terms []string) float64 {
	key := strings.ToLower(e.Key)
	content := strings.ToLower(e.Content)
	score := 0.0
	for _, term := range terms {
		if strings.Contains(key, term) {
			score += 2
		}
		if strings.Contains(content, term) {
			score++
		}
	}
	return score
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*model.Entry, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, key, content, category, session_id, created_at, updated_at
		FROM %s WHERE key = $1`, s.table)
	var e model.Entry
	err := s.pool.QueryRow(ctx, query, key).
		Scan(&e.ID, &e.Key, &e.Content, &e.Category, &e.SessionID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendErr("get", err)
	}
	return &e, true, nil
}

func (s *PostgresStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, key, content, category, session_id, created_at, updated_at
		FROM %s`, s.table)
	var conds []string
	var args []any
	if p.Category != "" {
		args = append(args, string(p.Category))
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if p.SessionID != "" {
		args = append(args, p.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, backendErr("list", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.ID, &e.Key, &e.Content, &e.Category, &e.SessionID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, backendErr("list scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("list rows", err)
	}
	return entries, nil
}

func (s *PostgresStore) Forget(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key)
	if err != nil {
		return false, backendErr("forget", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	if err != nil {
		return 0, backendErr("count", err)
	}
	return n, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// PruneConversations deletes conversation entries older than the cutoff.
// Core and other categories are untouched.
func (s *PostgresStore) PruneConversations(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE category = $1 AND updated_at < $2`, s.table),
		string(model.CategoryConversation), olderThan.UTC())
	if err != nil {
		return 0, backendErr("prune conversations", err)
	}
	return int(tag.RowsAffected()), nil
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, model.ErrBackendUnavailable, err)
}
