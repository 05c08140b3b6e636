// Package gitrepo keeps a git history of every published document. Each
// publication is one commit touching <kind>/<target>.json.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"framedata/api/internal/corpus"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const branch = "main"

var ErrNoHistory = errors.New("no publication history")

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Journal struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Journal {
	return &Journal{dir: dir}
}

func documentPath(kind corpus.Kind, target string) string {
	return path.Join(string(kind), target+".json")
}

// Record commits the published document on behalf of author.
func (j *Journal) Record(kind corpus.Kind, target string, doc corpus.Document, author corpus.AuthorRef) (Revision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := j.open(true)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal document: %w", err)
	}
	rel := documentPath(kind, target)
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Revision{}, fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(abs, append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Revision{}, fmt.Errorf("git add %s: %w", rel, err)
	}

	name := author.Name
	if name == "" {
		name = author.ID
	}
	hash, err := worktree.Commit(fmt.Sprintf("Publish %s %s", kind, target), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  name,
			Email: fmt.Sprintf("%s@users.framedata.local", sanitizeEmail(author.ID)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit %s: %w", rel, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists the commits that touched a document, newest first.
func (j *Journal) History(kind corpus.Kind, target string, limit int) ([]Revision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := j.open(false)
	if err != nil {
		return nil, err
	}
	head, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	rel := documentPath(kind, target)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the document as it was published in the given commit.
func (j *Journal) ContentAt(kind corpus.Kind, target, hash string) (corpus.Document, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := j.open(false)
	if err != nil {
		return corpus.Document{}, err
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return corpus.Document{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(documentPath(kind, target))
	if err != nil {
		return corpus.Document{}, fmt.Errorf("load %s at %s: %w", documentPath(kind, target), hash, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return corpus.Document{}, fmt.Errorf("read %s: %w", file.Name, err)
	}
	var doc corpus.Document
	if err := json.Unmarshal([]byte(contents), &doc); err != nil {
		return corpus.Document{}, fmt.Errorf("decode %s: %w", file.Name, err)
	}
	return doc, nil
}

func (j *Journal) open(create bool) (*git.Repository, error) {
	repo, err := git.PlainOpen(j.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if !create {
		return nil, ErrNoHistory
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	repo, err = git.PlainInit(j.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String(),
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == ':' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
