package search

import (
	"strings"

	"framedata/api/internal/corpus"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    corpus.Kind `json:"type"`
	Target  string      `json:"target"`
	Title   string      `json:"title"`
	Snippet string      `json:"snippet,omitempty"`
	Rank    float64     `json:"rank,omitempty"`
}

type Query struct {
	Text   string
	Limit  int
	Offset int
}

func (q Query) normalized() Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is what gets pushed to Meilisearch for a published document.
type DocumentRecord struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Target     string   `json:"target"`
	Parent     string   `json:"parent"`
	Title      string   `json:"title"`
	Names      []string `json:"names"`
	Attributes []string `json:"attributes"`
}

func NewDocumentRecord(kind corpus.Kind, target string, doc corpus.Document) DocumentRecord {
	attributes := make([]string, 0, len(doc.Attributes))
	for _, attr := range doc.Attributes {
		if text := strings.TrimSpace(attr.Title + " " + attr.Value); text != "" {
			attributes = append(attributes, text)
		}
	}
	names := doc.Names
	if names == nil {
		names = []string{}
	}
	return DocumentRecord{
		// meilisearch ids allow only [a-zA-Z0-9_-]
		ID:         string(kind) + "_" + target,
		Type:       string(kind),
		Target:     target,
		Parent:     doc.Parent,
		Title:      doc.Title,
		Names:      names,
		Attributes: attributes,
	}
}
