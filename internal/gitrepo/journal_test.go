package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"framedata/api/internal/corpus"
)

func TestJournalRecordsPublications(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	journal := New(dir)
	author := corpus.AuthorRef{ID: "user-1", Name: "Avery"}

	first := corpus.Document{Kind: corpus.KindCharacter, Title: "Ryu", Parent: "sf6", Names: []string{"shoto"}}
	rev1, err := journal.Record(corpus.KindCharacter, "sf6-ryu", first, author)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rev1.Hash == "" || rev1.Author != "Avery" {
		t.Fatalf("revision = %+v", rev1)
	}
	if _, err := os.Stat(filepath.Join(dir, "character", "sf6-ryu.json")); err != nil {
		t.Fatalf("document file missing: %v", err)
	}

	second := first
	second.Title = "Ryu (Classic)"
	if _, err := journal.Record(corpus.KindCharacter, "sf6-ryu", second, corpus.AuthorRef{ID: "user-2", Name: "Blake"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := journal.Record(corpus.KindGame, "sf6", corpus.Document{Kind: corpus.KindGame, Title: "SF6"}, author); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	history, err := journal.History(corpus.KindCharacter, "sf6-ryu", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want 2 commits for the character", history)
	}
	if history[0].Author != "Blake" || history[1].Hash != rev1.Hash {
		t.Fatalf("history not newest first: %+v", history)
	}

	old, err := journal.ContentAt(corpus.KindCharacter, "sf6-ryu", rev1.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if old.Title != "Ryu" || old.Parent != "sf6" {
		t.Fatalf("ContentAt() = %+v", old)
	}

	limited, err := journal.History(corpus.KindCharacter, "sf6-ryu", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit 1) = %v, %v", limited, err)
	}
}

func TestJournalHistoryWithoutRepo(t *testing.T) {
	journal := New(filepath.Join(t.TempDir(), "missing"))
	if _, err := journal.History(corpus.KindGame, "sf6", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() error = %v, want ErrNoHistory", err)
	}
}

func TestJournalConcurrentRecords(t *testing.T) {
	journal := New(t.TempDir())
	author := corpus.AuthorRef{ID: "user-1", Name: "Avery"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := corpus.Document{Kind: corpus.KindMove, Title: fmt.Sprintf("Hadoken v%d", i), Parent: "sf6-ryu"}
			if _, err := journal.Record(corpus.KindMove, "sf6-ryu-hadoken", doc, author); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Record() error = %v", err)
	}

	history, err := journal.History(corpus.KindMove, "sf6-ryu-hadoken", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("history length = %d, want 8", len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("i:Import Bot"); got != "i.Import.Bot" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
