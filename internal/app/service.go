package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"framedata/api/internal/auth"
	"framedata/api/internal/config"
	"framedata/api/internal/corpus"
	"framedata/api/internal/counter"
	"framedata/api/internal/gitrepo"
	"framedata/api/internal/media"
	"framedata/api/internal/moderation"
	"framedata/api/internal/proposals"
	"framedata/api/internal/publish"
	"framedata/api/internal/search"
	"framedata/api/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// importPrefix marks author ids of proposals filed on behalf of someone
// without an account.
const importPrefix = "i:"

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 200
	defaultHistoryLimit  = 20
)

type ProposalRequest struct {
	Target   string          `json:"target"`
	ImportAs *string         `json:"importAs,omitempty"`
	Document corpus.Document `json:"document"`
}

func (r ProposalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Target, validation.Required.Error("target is required")),
		validation.Field(&r.ImportAs, validation.NilOrNotEmpty.Error("importAs must not be blank")),
	)
}

type ProposalView struct {
	Proposal proposals.Proposal  `json:"proposal"`
	Previous *proposals.Proposal `json:"previous"`
}

type DocumentView struct {
	Target   string          `json:"target"`
	Document corpus.Document `json:"document"`
}

type documentStore interface {
	Exists(context.Context, string) (bool, error)
	Get(context.Context, string) (store.Entry, error)
	Query(context.Context, string, map[string]any) ([]json.RawMessage, error)
	Ping(context.Context) error
}

type proposalStore interface {
	Create(context.Context, proposals.Proposal) error
	Get(context.Context, string, uint64) (proposals.Proposal, error)
	List(context.Context, proposals.Filter) (proposals.Page, error)
	PreviousApproved(context.Context, proposals.Proposal) (*proposals.Proposal, error)
	Close(context.Context, string, uint64, moderation.Status) (proposals.Proposal, error)
}

type versionCounter interface {
	Increment(context.Context, string) (uint64, error)
}

type publisher interface {
	Publish(context.Context, proposals.Proposal) (corpus.Document, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
}

type mediaChecker interface {
	Exists(context.Context, string) (bool, error)
}

type publicationHistory interface {
	History(corpus.Kind, string, int) ([]gitrepo.Revision, error)
	ContentAt(corpus.Kind, string, string) (corpus.Document, error)
}

type pinger interface {
	Ping(context.Context) error
}

type dependency struct {
	name  string
	check pinger
}

type Service struct {
	cfg       config.Config
	documents documentStore
	proposals proposalStore
	versions  versionCounter
	publisher publisher
	search    searcher
	media     mediaChecker
	history   publicationHistory
	deps      []dependency
	now       func() time.Time
}

func New(cfg config.Config, documents *store.PostgresStore, proposalStore *proposals.Store, versions *counter.Counter, pipeline *publish.Pipeline, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		documents: documents,
		proposals: proposalStore,
		versions:  versions,
		publisher: pipeline,
		search:    searchService,
		now:       proposals.Now,
	}
}

// WithMedia turns on existence checks for referenced media files.
func (s *Service) WithMedia(files *media.Store) *Service {
	s.media = files
	return s.WithDependency("media", files)
}

// WithDependency adds a backend to the readiness checks.
func (s *Service) WithDependency(name string, dep pinger) *Service {
	s.deps = append(s.deps, dependency{name: name, check: dep})
	return s
}

func (s *Service) WithJournal(journal *gitrepo.Journal) *Service {
	s.history = journal
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.documents.Ping(ctx)
}

// CheckDependencies pings the database and every registered dependency.
// A nil value means the check passed.
func (s *Service) CheckDependencies(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.Ping(ctx)}
	for _, dep := range s.deps {
		results[dep.name] = dep.check.Ping(ctx)
	}
	return results
}

func (s *Service) TokenSecret() []byte {
	return []byte(s.cfg.TokenSecret)
}

// SubmitProposal validates a proposed document against the corpus hierarchy
// and stores it as the next pending version of its target.
func (s *Service) SubmitProposal(ctx context.Context, identity *auth.Identity, req ProposalRequest) (proposals.Proposal, error) {
	if identity == nil {
		return proposals.Proposal{}, unauthorized()
	}
	if err := req.Validate(); err != nil {
		return proposals.Proposal{}, validationError(err.Error())
	}

	authorID, authorName := identity.UserID, identity.DisplayName
	if req.ImportAs != nil {
		if !identity.Privileged {
			return proposals.Proposal{}, notPermitted()
		}
		name := strings.TrimSpace(*req.ImportAs)
		if name == "" {
			return proposals.Proposal{}, validationError("importAs must not be blank")
		}
		authorID, authorName = importPrefix+name, name
	}

	doc := req.Document
	doc.Sanitize()
	doc.LatestAuthors = nil
	if err := doc.Validate(); err != nil {
		return proposals.Proposal{}, validationError(err.Error())
	}

	parent, hasParent := doc.ParentTarget()
	if err := corpus.ValidateTarget(req.Target, parent); err != nil {
		return proposals.Proposal{}, validationError(err.Error())
	}
	if hasParent {
		parentKind, _ := corpus.ResolveParentKind(doc.Kind)
		exists, err := s.documents.Exists(ctx, corpus.CanonicalKey(parentKind, parent))
		if err != nil {
			return proposals.Proposal{}, err
		}
		if !exists {
			return proposals.Proposal{}, validationError(fmt.Sprintf("Parent %s %q does not exist", parentKind, parent))
		}
	}

	if fileName, ok := doc.MediaFileName(); ok && s.media != nil {
		exists, err := s.media.Exists(ctx, fileName)
		if err != nil {
			return proposals.Proposal{}, err
		}
		if !exists {
			return proposals.Proposal{}, validationError(fmt.Sprintf("Media file %q does not exist", fileName))
		}
	}

	version, err := s.versions.Increment(ctx, req.Target)
	if err != nil {
		log.Printf("app: allocate version for %s: %v", req.Target, err)
		return proposals.Proposal{}, err
	}

	now := s.now()
	proposal := proposals.Proposal{
		Type:        proposals.DocType,
		Target:      req.Target,
		Version:     version,
		Created:     now,
		LastUpdated: now,
		Status:      moderation.StatusPending,
		AuthorID:    authorID,
		AuthorName:  authorName,
		Document:    doc,
	}
	if err := s.proposals.Create(ctx, proposal); err != nil {
		log.Printf("app: store proposal %s: %v", proposals.Key(req.Target, version), err)
		return proposals.Proposal{}, err
	}
	return proposal, nil
}

// GetProposal returns a proposal with the approved proposal it would
// replace (or replaced, once closed).
func (s *Service) GetProposal(ctx context.Context, target string, version uint64) (ProposalView, error) {
	proposal, err := s.proposals.Get(ctx, target, version)
	if err != nil {
		return ProposalView{}, err
	}
	previous, err := s.proposals.PreviousApproved(ctx, proposal)
	if err != nil {
		return ProposalView{}, err
	}
	return ProposalView{Proposal: proposal, Previous: previous}, nil
}

func (s *Service) ListProposals(ctx context.Context, filter proposals.Filter) (proposals.Page, error) {
	page, err := s.proposals.List(ctx, filter)
	if errors.Is(err, proposals.ErrAmbiguousFilter) {
		return proposals.Page{}, validationError("filter by target or by author, not both")
	}
	return page, err
}

// CloseProposal moves a pending proposal to approved, rejected or
// cancelled. Approval publishes the document first; if publishing fails the
// proposal stays pending so it can be approved again. Publish and close are
// separate writes: a cancel that lands between them leaves the document
// published while the proposal ends up cancelled. That case is logged and
// reported to the approver as a precondition failure.
func (s *Service) CloseProposal(ctx context.Context, target string, version uint64, status string, identity *auth.Identity) (proposals.Proposal, error) {
	if identity == nil {
		return proposals.Proposal{}, unauthorized()
	}
	next, err := moderation.ParseStatus(status)
	if err != nil {
		return proposals.Proposal{}, validationError(err.Error())
	}
	if !next.Terminal() {
		return proposals.Proposal{}, validationError(fmt.Sprintf("invalid proposal status '%s'", next))
	}

	proposal, err := s.proposals.Get(ctx, target, version)
	if err != nil {
		return proposals.Proposal{}, err
	}
	if !moderation.CanTransition(proposal.Status, next) {
		return proposals.Proposal{}, proposals.ErrNotPending
	}
	if err := moderation.Authorize(*identity, proposal.AuthorID, next); err != nil {
		return proposals.Proposal{}, err
	}

	if next == moderation.StatusApproved {
		if _, err := s.publisher.Publish(ctx, proposal); err != nil {
			log.Printf("app: publish %s: %v", proposals.Key(target, version), err)
			return proposals.Proposal{}, err
		}
	}

	closed, err := s.proposals.Close(ctx, target, version, next)
	if err != nil {
		if next == moderation.StatusApproved && errors.Is(err, proposals.ErrNotPending) {
			log.Printf("app: %s was published but closed concurrently before approval was recorded", proposals.Key(target, version))
		}
		return proposals.Proposal{}, err
	}
	return closed, nil
}

func (s *Service) GetDocument(ctx context.Context, kind corpus.Kind, target string) (DocumentView, error) {
	entry, err := s.documents.Get(ctx, corpus.CanonicalKey(kind, target))
	if err != nil {
		return DocumentView{}, err
	}
	var doc corpus.Document
	if err := entry.Decode(&doc); err != nil {
		return DocumentView{}, err
	}
	return DocumentView{Target: target, Document: doc}, nil
}

func (s *Service) ListDocuments(ctx context.Context, kind corpus.Kind, parent string, offset, limit int) ([]DocumentView, error) {
	var name string
	switch kind {
	case corpus.KindGame:
		name = "documents/get_game_list"
	case corpus.KindCharacter:
		name = "documents/get_char_list"
	case corpus.KindMove:
		name = "documents/get_move_list"
	default:
		return nil, validationError(fmt.Sprintf("unknown document type %q", kind))
	}
	if _, hasParent := corpus.ResolveParentKind(kind); hasParent && strings.TrimSpace(parent) == "" {
		return nil, validationError("parent is required to list " + string(kind) + " documents")
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultDocumentLimit
	}
	if limit > maxDocumentLimit {
		limit = maxDocumentLimit
	}

	rows, err := s.documents.Query(ctx, name, map[string]any{
		"parent": parent,
		"offset": offset,
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	views := make([]DocumentView, 0, len(rows))
	for _, row := range rows {
		var keyed struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal(row, &keyed); err != nil {
			return nil, fmt.Errorf("decode document row: %w", err)
		}
		var doc corpus.Document
		if err := json.Unmarshal(row, &doc); err != nil {
			return nil, fmt.Errorf("decode document row: %w", err)
		}
		views = append(views, DocumentView{Target: keyed.Target, Document: doc})
	}
	return views, nil
}

func (s *Service) Search(ctx context.Context, text string, offset, limit int) search.Response {
	return s.search.Search(ctx, search.Query{Text: text, Offset: offset, Limit: limit})
}

func (s *Service) DocumentHistory(ctx context.Context, kind corpus.Kind, target string, limit int) ([]gitrepo.Revision, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Publication history is disabled", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	revisions, err := s.history.History(kind, target, limit)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return []gitrepo.Revision{}, nil
	}
	return revisions, err
}

func (s *Service) DocumentRevision(ctx context.Context, kind corpus.Kind, target, hash string) (DocumentView, error) {
	if s.history == nil {
		return DocumentView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Publication history is disabled", nil)
	}
	doc, err := s.history.ContentAt(kind, target, hash)
	if err != nil {
		log.Printf("app: revision %s of %s %s: %v", hash, kind, target, err)
		return DocumentView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return DocumentView{Target: target, Document: doc}, nil
}
