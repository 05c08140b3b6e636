// Package publish promotes an approved proposal into the canonical corpus.
package publish

import (
	"context"
	"fmt"
	"log"

	"framedata/api/internal/corpus"
	"framedata/api/internal/gitrepo"
	"framedata/api/internal/proposals"
	"framedata/api/internal/store"
)

// MaxLatestAuthors bounds the attribution list on a canonical document.
const MaxLatestAuthors = 9

type AuthorSource interface {
	LatestAuthors(ctx context.Context, target string, max int) ([]corpus.AuthorRef, error)
}

type Indexer interface {
	UpdateIndex(ctx context.Context, kind corpus.Kind, target string, doc corpus.Document) error
}

type Journal interface {
	Record(kind corpus.Kind, target string, doc corpus.Document, author corpus.AuthorRef) (gitrepo.Revision, error)
}

// IndexError means the canonical document was written but the search index
// was not brought up to date. The canonical write is not rolled back.
type IndexError struct {
	Kind   corpus.Kind
	Target string
	Err    error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("published %s %s but index update failed: %v", e.Kind, e.Target, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	authors   AuthorSource
	documents store.KV
	index     Indexer
	journal   Journal
}

func New(authors AuthorSource, documents store.KV, index Indexer) *Pipeline {
	return &Pipeline{authors: authors, documents: documents, index: index}
}

// WithJournal enables the git publication journal.
func (p *Pipeline) WithJournal(journal Journal) *Pipeline {
	p.journal = journal
	return p
}

// MergeAuthors puts current first, followed by the other authors in their
// original order. current appears once.
func MergeAuthors(latest []corpus.AuthorRef, current corpus.AuthorRef) []corpus.AuthorRef {
	merged := make([]corpus.AuthorRef, 0, len(latest)+1)
	merged = append(merged, current)
	for _, author := range latest {
		if author.ID == current.ID {
			continue
		}
		merged = append(merged, author)
	}
	return merged
}

// Publish writes the proposal's document as the canonical version of its
// target and refreshes the index. Running it twice for the same proposal
// leaves the same canonical state.
func (p *Pipeline) Publish(ctx context.Context, proposal proposals.Proposal) (corpus.Document, error) {
	doc := proposal.Document
	kind := doc.Kind
	target := proposal.Target

	latest, err := p.authors.LatestAuthors(ctx, target, MaxLatestAuthors)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("publish %s: %w", target, err)
	}
	doc.LatestAuthors = MergeAuthors(latest, proposal.Author())

	if err := p.documents.Upsert(ctx, corpus.CanonicalKey(kind, target), doc); err != nil {
		return corpus.Document{}, fmt.Errorf("publish %s: %w", target, err)
	}

	if p.journal != nil {
		if rev, err := p.journal.Record(kind, target, doc, proposal.Author()); err != nil {
			log.Printf("publish: journal %s %s: %v", kind, target, err)
		} else {
			log.Printf("publish: journal %s %s at %s", kind, target, rev.Hash)
		}
	}

	if err := p.index.UpdateIndex(ctx, kind, target, doc); err != nil {
		return doc, &IndexError{Kind: kind, Target: target, Err: err}
	}
	return doc, nil
}
