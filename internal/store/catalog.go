package store

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed queries
var embeddedQueries embed.FS

// Catalog maps query names such as "proposals/get_list_asc" to SQL text. It
// is built once at startup and never mutated.
type Catalog struct {
	queries map[string]string
}

// DefaultCatalog loads the queries compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	sub, err := fs.Sub(embeddedQueries, "queries")
	if err != nil {
		return nil, fmt.Errorf("open embedded queries: %w", err)
	}
	return LoadCatalog(sub)
}

// LoadCatalog reads every .sql file under fsys. The query name is the file's
// slash separated path without the extension.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	queries := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || path.Ext(p) != ".sql" {
			return nil
		}
		contents, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read query %s: %w", p, err)
		}
		text := strings.TrimSpace(string(contents))
		if text == "" {
			return fmt.Errorf("query %s is empty", p)
		}
		queries[strings.TrimSuffix(p, ".sql")] = text
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load query catalog: %w", err)
	}
	return &Catalog{queries: queries}, nil
}

func (c *Catalog) Lookup(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	text, ok := c.queries[name]
	return text, ok
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.queries))
	for name := range c.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
