// Package kv holds the key-value backends behind the funnel and attribution
// blobs. Values are opaque JSON documents; writes are last-writer-wins.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key joins a session namespace and a blob name.
func Key(session, name string) string {
	return session + ":" + name
}
