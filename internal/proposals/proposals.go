// Package proposals persists proposed edits and answers the list and
// history queries over them.
package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"framedata/api/internal/corpus"
	"framedata/api/internal/moderation"
	"framedata/api/internal/store"
)

const (
	DocType      = "proposal"
	DefaultLimit = 10
	MaxLimit     = 50
)

var (
	ErrNotPending      = errors.New("proposal is no longer pending")
	ErrAmbiguousFilter = errors.New("filter by target or by author, not both")
)

type Proposal struct {
	Type        string            `json:"type"`
	Target      string            `json:"target"`
	Version     uint64            `json:"version"`
	Created     time.Time         `json:"created"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Closed      *time.Time        `json:"closed,omitempty"`
	Status      moderation.Status `json:"status"`
	AuthorID    string            `json:"authorId"`
	AuthorName  string            `json:"authorName"`
	Document    corpus.Document   `json:"document"`
}

func (p Proposal) Author() corpus.AuthorRef {
	return corpus.AuthorRef{ID: p.AuthorID, Name: p.AuthorName}
}

type Filter struct {
	Status   moderation.Status
	Target   string
	AuthorID string
	Offset   int
	Limit    int
	SortAsc  bool
}

type Page struct {
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
	Items  []Proposal `json:"items"`
}

func Key(target string, version uint64) string {
	return fmt.Sprintf("prop::%s::%d", target, version)
}

// Now is the clock used for proposal timestamps. Values are truncated to
// microseconds so they survive a round trip through Postgres unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type Store struct {
	kv     store.KV
	q      store.Querier
	policy store.RetryPolicy
	now    func() time.Time
}

func NewStore(kv store.KV, q store.Querier, policy store.RetryPolicy) *Store {
	return &Store{kv: kv, q: q, policy: policy, now: Now}
}

func (s *Store) Create(ctx context.Context, proposal Proposal) error {
	if err := s.kv.Upsert(ctx, Key(proposal.Target, proposal.Version), proposal); err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, target string, version uint64) (Proposal, error) {
	proposal, _, err := s.get(ctx, target, version)
	return proposal, err
}

func (s *Store) get(ctx context.Context, target string, version uint64) (Proposal, store.Stamp, error) {
	entry, err := s.kv.Get(ctx, Key(target, version))
	if err != nil {
		return Proposal{}, 0, err
	}
	var proposal Proposal
	if err := entry.Decode(&proposal); err != nil {
		return Proposal{}, 0, err
	}
	return proposal, entry.Stamp, nil
}

func (s *Store) List(ctx context.Context, filter Filter) (Page, error) {
	if filter.Target != "" && filter.AuthorID != "" {
		return Page{}, ErrAmbiguousFilter
	}
	filter = normalizeFilter(filter)

	params := map[string]any{
		"status": string(filter.Status),
		"offset": filter.Offset,
		"limit":  filter.Limit,
	}
	name := "proposals/get_list"
	switch {
	case filter.Target != "":
		name += "_for_target"
		params["target"] = filter.Target
	case filter.AuthorID != "":
		name += "_for_author"
		params["authorId"] = filter.AuthorID
	}
	if filter.SortAsc {
		name += "_asc"
	} else {
		name += "_desc"
	}

	rows, err := s.q.Query(ctx, name, params)
	if err != nil {
		return Page{}, fmt.Errorf("list proposals: %w", err)
	}
	items, err := decodeProposals(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Offset: filter.Offset, Limit: filter.Limit, Items: items}, nil
}

func normalizeFilter(filter Filter) Filter {
	if filter.Status == "" {
		filter.Status = moderation.StatusApproved
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	return filter
}

// LastApprovedBefore returns the most recently approved proposal for target
// closed at or before ts, or nil when there is none.
func (s *Store) LastApprovedBefore(ctx context.Context, target string, ts time.Time) (*Proposal, error) {
	rows, err := s.q.Query(ctx, "proposals/get_last_approved", map[string]any{
		"target":    target,
		"timeStamp": ts,
	})
	if err != nil {
		return nil, fmt.Errorf("last approved proposal: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var proposal Proposal
	if err := json.Unmarshal(rows[0], &proposal); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &proposal, nil
}

// PreviousApproved returns the approved proposal that was current when p
// was closed, or is current now if p is still open. Once p is approved it
// is its own previous.
func (s *Store) PreviousApproved(ctx context.Context, p Proposal) (*Proposal, error) {
	ts := s.now()
	if p.Closed != nil {
		ts = *p.Closed
	}
	return s.LastApprovedBefore(ctx, p.Target, ts)
}

// LatestAuthors lists up to max distinct authors of approved proposals for
// target, most recent first.
func (s *Store) LatestAuthors(ctx context.Context, target string, max int) ([]corpus.AuthorRef, error) {
	rows, err := s.q.Query(ctx, "proposals/get_latest_authors", map[string]any{
		"target": target,
		"limit":  max,
	})
	if err != nil {
		return nil, fmt.Errorf("latest authors: %w", err)
	}
	authors := make([]corpus.AuthorRef, 0, len(rows))
	for _, row := range rows {
		var author corpus.AuthorRef
		if err := json.Unmarshal(row, &author); err != nil {
			return nil, fmt.Errorf("decode author: %w", err)
		}
		authors = append(authors, author)
	}
	return authors, nil
}

// Close moves a pending proposal into a terminal status. The write is
// guarded by the stamp read with it, so of two racing closes exactly one
// wins and the other sees ErrNotPending.
func (s *Store) Close(ctx context.Context, target string, version uint64, status moderation.Status) (Proposal, error) {
	if !status.Terminal() {
		return Proposal{}, fmt.Errorf("%w '%s'", moderation.ErrInvalidStatus, status)
	}
	return store.RetryOnConflict(ctx, s.policy, func(ctx context.Context) (Proposal, error) {
		proposal, stamp, err := s.get(ctx, target, version)
		if err != nil {
			return Proposal{}, err
		}
		if !moderation.CanTransition(proposal.Status, status) {
			return Proposal{}, ErrNotPending
		}

		now := s.now()
		proposal.Status = status
		proposal.Closed = &now
		proposal.LastUpdated = now
		if err := s.kv.Replace(ctx, Key(target, version), proposal, stamp); err != nil {
			return Proposal{}, err
		}
		return proposal, nil
	})
}

func decodeProposals(rows []json.RawMessage) ([]Proposal, error) {
	items := make([]Proposal, 0, len(rows))
	for _, row := range rows {
		var proposal Proposal
		if err := json.Unmarshal(row, &proposal); err != nil {
			return nil, fmt.Errorf("decode proposal: %w", err)
		}
		items = append(items, proposal)
	}
	return items, nil
}
