// Package store defines the document store contract shared by the Postgres
// and Redis backends, the named query catalog and conflict retry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	BucketProposed  = "proposed"
	BucketPublished = "published"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict means the value changed since it was read; the stamp no
	// longer matches. Backends map their own CAS failures to it.
	ErrConflict     = errors.New("store: value changed concurrently")
	ErrContention   = errors.New("store: too many concurrent modifications")
	ErrUnknownQuery = errors.New("store: unknown query")
)

// Stamp is the compare-and-swap token returned with every read.
type Stamp uint64

type Entry struct {
	Value json.RawMessage
	Stamp Stamp
}

// Decode unmarshals the entry value into dst.
func (e Entry) Decode(dst any) error {
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	return nil
}

type KV interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (Entry, error)
	Insert(ctx context.Context, key string, value any) error
	Replace(ctx context.Context, key string, value any, stamp Stamp) error
	Upsert(ctx context.Context, key string, value any) error
}

type Querier interface {
	Query(ctx context.Context, name string, params map[string]any) ([]json.RawMessage, error)
}

func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return payload, nil
}

// Encode marshals a value the way every backend stores it.
func Encode(value any) ([]byte, error) {
	return encode(value)
}
