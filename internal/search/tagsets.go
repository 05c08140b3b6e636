package search

import (
	"context"
	"encoding/json"
	"fmt"

	"framedata/api/internal/corpus"
	"framedata/api/internal/store"
)

// cascades lists the tag set queries to run after a document of each kind
// is published. Descendants carry their ancestors' tags, so a game or
// character change rewrites the tag sets below it.
var cascades = map[corpus.Kind][]string{
	corpus.KindGame:      {"tagsets/update_game", "tagsets/update_game_chars", "tagsets/update_game_moves"},
	corpus.KindCharacter: {"tagsets/update_char", "tagsets/update_char_moves"},
	corpus.KindMove:      {"tagsets/update_move"},
}

// TagSets maintains the Postgres tag_sets table and searches it.
type TagSets struct {
	q store.Querier
}

func NewTagSets(q store.Querier) *TagSets {
	return &TagSets{q: q}
}

func (t *TagSets) Update(ctx context.Context, kind corpus.Kind, target string) error {
	queries, ok := cascades[kind]
	if !ok {
		return fmt.Errorf("update tag sets: unknown kind %q", kind)
	}
	for _, name := range queries {
		if _, err := t.q.Query(ctx, name, map[string]any{"target": target}); err != nil {
			return fmt.Errorf("update tag sets for %s %s: %w", kind, target, err)
		}
	}
	return nil
}

// Search ranks tag sets against the text. The total counts every match,
// not just the returned page; a page past the end reports zero.
func (t *TagSets) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if q.Text == "" {
		return nil, 0, nil
	}
	rows, err := t.q.Query(ctx, "search/search_term", map[string]any{
		"searchTerm": q.Text,
		"offset":     q.Offset,
		"limit":      q.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search tag sets: %w", err)
	}
	results := make([]Result, 0, len(rows))
	total := 0
	for _, row := range rows {
		var hit struct {
			Result
			Total int `json:"total"`
		}
		if err := json.Unmarshal(row, &hit); err != nil {
			return nil, 0, fmt.Errorf("decode search row: %w", err)
		}
		results = append(results, hit.Result)
		total = hit.Total
	}
	return results, total, nil
}
