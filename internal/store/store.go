// Package store persists portal resources as JSON documents grouped in named
// collections. Backends keep insertion order so List is stable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("store: not found")

// Backend is the raw key-value contract every storage engine implements.
type Backend interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	// Put inserts or replaces; a replaced document keeps its list position.
	Put(ctx context.Context, collection, id string, body []byte) error
	Delete(ctx context.Context, collection, id string) error
	// List returns documents in first-insertion order.
	List(ctx context.Context, collection string) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Collection is a typed view over one backend collection.
type Collection[T any] struct {
	backend Backend
	name    string
}

func NewCollection[T any](backend Backend, name string) *Collection[T] {
	return &Collection[T]{backend: backend, name: name}
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	raw, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("store: decode %s/%s: %w", c.name, id, err)
	}
	return v, nil
}

func (c *Collection[T]) Put(ctx context.Context, id string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", c.name, id, err)
	}
	return c.backend.Put(ctx, c.name, id, raw)
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.backend.Delete(ctx, c.name, id)
}

func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	raws, err := c.backend.List(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", c.name, err)
		}
		out = append(out, v)
	}
	return out, nil
}
