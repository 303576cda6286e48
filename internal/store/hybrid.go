package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/rank"
)

// Recall performs hybrid search: cosine similarity over stored vectors
// (when an embedding provider is configured) fused with full-text keyword
// ranking. A provider outage silently degrades the call to keyword-only.
func (s *SQLiteStore) Recall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return []model.Entry{}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	// Candidate pool per method; wider than limit so fusion has room.
	topK := limit * 4
	if topK < 20 {
		topK = 20
	}

	var vecResults []rank.Result
	if s.embedder != nil {
		qvec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("embedding provider failed, recall degrades to keyword-only", zap.Error(err))
		} else {
			vecResults, err = s.vectorSearch(ctx, qvec, p.SessionID, topK)
			if err != nil {
				s.logger.Warn("vector search failed", zap.Error(err))
				vecResults = nil
			}
		}
	}

	kwResults, err := s.keywordSearch(ctx, query, p.SessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	fused := rank.Fuse(vecResults, kwResults, s.vectorWeight, s.keywordWeight, limit)
	if len(fused) == 0 {
		return []model.Entry{}, nil
	}
	return s.fetchRanked(ctx, fused)
}

// vectorSearch scans every stored vector and ranks by cosine similarity.
// A full scan is fine at the target scale; rows with undecodable blobs are
// skipped, not fatal.
func (s *SQLiteStore) vectorSearch(ctx context.Context, qvec embedding.Vector, sessionID string, topK int) ([]rank.Result, error) {
	query := `SELECT id, embedding FROM entries WHERE embedding IS NOT NULL`
	args := []interface{}{}
	if sessionID != "" {
		query += ` AND (session_id = '' OR session_id = ?)`
		args = append(args, sessionID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []rank.Result
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping malformed embedding", zap.String("id", id), zap.Error(err))
			continue
		}
		sim := embedding.Similarity01(qvec, vec)
		if sim > 0 {
			results = append(results, rank.Result{ID: id, Score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// keywordSearch ranks entries by full-text relevance. FTS5 bm25 is the
// primary path; queries FTS5 cannot parse fall back to LIKE matching.
func (s *SQLiteStore) keywordSearch(ctx context.Context, query, sessionID string, topK int) ([]rank.Result, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return s.likeSearch(ctx, query, sessionID, topK)
	}

	sqlQuery := `
		SELECT e.id, bm25(entries_fts) AS rnk
		FROM entries_fts
		JOIN entries e ON e.rowid = entries_fts.rowid
		WHERE entries_fts MATCH ?`
	args := []interface{}{match}
	if sessionID != "" {
		sqlQuery += ` AND (e.session_id = '' OR e.session_id = ?)`
		args = append(args, sessionID)
	}
	sqlQuery += ` ORDER BY rnk LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// Unparseable MATCH expressions should not fail the recall.
		s.logger.Debug("fts query failed, falling back to LIKE", zap.Error(err))
		return s.likeSearch(ctx, query, sessionID, topK)
	}
	defer rows.Close()

	var results []rank.Result
	for rows.Next() {
		var id string
		var rnk float64
		if err := rows.Scan(&id, &rnk); err != nil {
			return nil, err
		}
		// bm25 ranks are negative, more negative = more relevant.
		results = append(results, rank.Result{ID: id, Score: 1.0 / (1.0 + math.Abs(rnk))})
	}
	return results, rows.Err()
}

// likeSearch is the keyword fallback: per-term LIKE over key and content,
// scored by how many distinct query terms an entry matches.
func (s *SQLiteStore) likeSearch(ctx context.Context, query, sessionID string, topK int) ([]rank.Result, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var conds []string
	args := []interface{}{}
	for _, t := range terms {
		conds = append(conds, "(key LIKE ? OR content LIKE ?)")
		pat := "%" + t + "%"
		args = append(args, pat, pat)
	}
	sqlQuery := `SELECT id, key, content FROM entries WHERE (` + strings.Join(conds, " OR ") + `)`
	if sessionID != "" {
		sqlQuery += ` AND (session_id = '' OR session_id = ?)`
		args = append(args, sessionID)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []rank.Result
	for rows.Next() {
		var id, key, content string
		if err := rows.Scan(&id, &key, &content); err != nil {
			return nil, err
		}
		haystack := strings.ToLower(key + " " + content)
		score := 0.0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				score++
			}
		}
		if score > 0 {
			results = append(results, rank.Result{ID: id, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// fetchRanked loads full rows for the fused ids and attaches scores,
// preserving the fused order.
func (s *SQLiteStore) fetchRanked(ctx context.Context, fused []rank.Result) ([]model.Entry, error) {
	placeholders := make([]string, len(fused))
	args := make([]interface{}, len(fused))
	for i, r := range fused {
		placeholders[i] = "?"
		args[i] = r.ID
	}

	query := fmt.Sprintf(
		`SELECT id, key, content, category, session_id, created_at, updated_at, embedding
		 FROM entries WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch ranked entries: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]model.Entry, len(fused))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn("skipping malformed entry row", zap.Error(err))
			continue
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Entry, 0, len(fused))
	for _, r := range fused {
		e, ok := byID[r.ID]
		if !ok {
			continue
		}
		e.Score = r.Score
		out = append(out, e)
	}
	return out, nil
}

// ftsMatchExpr turns a free-form query into a safe FTS5 OR expression.
// Terms are double-quoted so user punctuation cannot change the query
// grammar. An empty result means the query has no searchable terms.
func ftsMatchExpr(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// queryTerms lowercases and tokenizes a query, dropping punctuation-only
// fragments.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}*")
		if f == "" {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
