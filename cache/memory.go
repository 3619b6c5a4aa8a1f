package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// DefaultMemorySize is the capacity used when NewMemoryBackend gets a
// non-positive size.
const DefaultMemorySize = 1024

// MemoryBackend keeps entries in process, evicting the least recently used
// key once full.
type MemoryBackend struct {
	entries *lru.Cache[string, Entry]
}

// NewMemoryBackend returns a backend holding at most size entries.
func NewMemoryBackend(size int) (*MemoryBackend, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating memory cache")
	}
	return &MemoryBackend{entries: entries}, nil
}

// Load returns the entry of key.
func (b *MemoryBackend) Load(_ context.Context, key string) (Entry, error) {
	entry, ok := b.entries.Get(key)
	if !ok {
		return Entry{}, ErrNoCache
	}
	return entry, nil
}

// Store sets the entry of key.
func (b *MemoryBackend) Store(_ context.Context, key string, entry Entry) error {
	b.entries.Add(key, entry)
	return nil
}

// Remove drops key.
func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries.
func (b *MemoryBackend) Len() int {
	return b.entries.Len()
}
