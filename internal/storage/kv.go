package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// KV is the persistence contract: a string-keyed store, the local
// equivalent of the browser's localStorage the dashboard uses.
type KV interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
}
