package search

import (
	"context"
	"log"

	"framedata/api/internal/corpus"
)

// Service keeps the tag sets current and answers searches, preferring
// Meilisearch while it is healthy.
type Service struct {
	meili *Meili
	tags  *TagSets
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, tags *TagSets) *Service {
	return &Service{meili: meili, tags: tags}
}

// UpdateIndex refreshes the tag sets for a freshly published document and
// its descendants. The Meilisearch mirror is updated in the background and
// its failures are only logged.
func (s *Service) UpdateIndex(ctx context.Context, kind corpus.Kind, target string, doc corpus.Document) error {
	if err := s.tags.Update(ctx, kind, target); err != nil {
		return err
	}
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	record := NewDocumentRecord(kind, target, doc)
	go func() {
		if err := s.meili.IndexDocument(record); err != nil {
			log.Printf("search: index %s: %v", record.ID, err)
		}
	}()
	return nil
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to tag sets: %v", err)
	}

	results, total, err := s.tags.Search(ctx, q)
	if err != nil {
		log.Printf("search: tag sets error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
