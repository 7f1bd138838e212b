// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ============================================================================
// RETRIEVER CONTRACT
// ============================================================================

// Snippet is one ranked piece of remembered text.
type Snippet struct {
	ID      int64
	Text    string
	Tags    []string
	Score   float64
	Created time.Time
}

// Retriever answers relevance queries against the persistent tier.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// ============================================================================
// SQLITE STORE
// ============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store is a SQLite-backed persistent memory. Safe for concurrent use;
// database/sql serializes access to the underlying connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a memory store at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Remember persists one snippet with optional tags. Tags participate
// in retrieval ranking alongside the text itself.
func (s *Store) Remember(ctx context.Context, text string, tags ...string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO memories (text, tags) VALUES (?, ?)",
		text, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	return nil
}

// Retrieve implements Retriever. Ranking is keyword overlap between
// the query and the stored text; ties break newest-first. Exact-match
// search is deliberate: relevance here gates prompt injection, and a
// cheap deterministic rank keeps Bind reproducible.
func (s *Store) Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if limit <= 0 {
		return nil, nil
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, text, tags, created_at FROM memories")
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	defer rows.Close()

	var candidates []Snippet
	for rows.Next() {
		var snip Snippet
		var tags string
		if err := rows.Scan(&snip.ID, &snip.Text, &tags, &snip.Created); err != nil {
			return nil, fmt.Errorf("retrieve scan: %w", err)
		}
		snip.Tags = strings.Fields(tags)
		snip.Score = overlapScore(terms, snip.Text+" "+tags)
		if snip.Score > 0 {
			candidates = append(candidates, snip)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Created.After(candidates[j].Created)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// queryTerms lowercases and splits a query, dropping short stopwords.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// overlapScore counts query terms present in the text, normalized by
// term count.
func overlapScore(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
