package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// SimpleAdapter is a key-value store supplied by the application. Get
// returns ErrNoCache when the key is absent. ttl is zero for entries that
// never expire.
type SimpleAdapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// DatastoreOptions is passed to DatastoreAdapter.Datastore.
type DatastoreOptions struct {
	Prefix string
}

// DatastoreAdapter hands out a Datastore for the cache.
type DatastoreAdapter interface {
	Datastore(ctx context.Context, options DatastoreOptions) (Datastore, error)
}

// Envelope is the unit a Datastore stores.
type Envelope struct {
	// TTL is the absolute expiry in milliseconds since the epoch, 0 for never.
	TTL int64 `json:"ttl"`
	// Data is the JSON payload, null for a cached nil.
	Data json.RawMessage `json:"data"`
}

// Datastore stores envelopes. Get returns ErrNoCache when the key is absent.
type Datastore interface {
	Get(ctx context.Context, key string) (Envelope, error)
	Set(ctx context.Context, key string, envelope Envelope) error
	Remove(ctx context.Context, key string) error
}

// simpleBackend stores entries in the file format so expiry stays enforced
// by the cache even when the adapter ignores ttl.
type simpleBackend struct {
	adapter SimpleAdapter
}

func (b *simpleBackend) Load(ctx context.Context, key string) (Entry, error) {
	data, err := b.adapter.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if data == nil {
		return Entry{}, ErrNoCache
	}
	return decodeEntry(data)
}

func (b *simpleBackend) Store(ctx context.Context, key string, entry Entry) error {
	var ttl time.Duration
	if entry.Expiry != 0 {
		ttl = time.Until(time.UnixMilli(entry.Expiry))
	}
	return errors.Wrapf(b.adapter.Set(ctx, key, encodeEntry(entry), ttl), "storing cache entry %s", key)
}

// datastoreBackend removes every entry once its TTL has elapsed.
type datastoreBackend struct {
	store Datastore
	log   *slog.Logger
}

func newDatastoreBackend(store Datastore, log *slog.Logger) *datastoreBackend {
	return &datastoreBackend{store: store, log: log}
}

var nullPayload = json.RawMessage("null")

func (b *datastoreBackend) Load(ctx context.Context, key string) (Entry, error) {
	env, err := b.store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Expiry: env.TTL}
	if len(env.Data) > 0 && string(env.Data) != string(nullPayload) {
		entry.Payload = []byte(env.Data)
	}
	return entry, nil
}

func (b *datastoreBackend) Store(ctx context.Context, key string, entry Entry) error {
	env := Envelope{TTL: entry.Expiry, Data: nullPayload}
	if entry.Payload != nil {
		env.Data = json.RawMessage(entry.Payload)
	}
	if err := b.store.Set(ctx, key, env); err != nil {
		return errors.Wrapf(err, "storing cache entry %s", key)
	}
	if entry.Expiry != 0 {
		delay := time.Until(time.UnixMilli(entry.Expiry))
		time.AfterFunc(delay, func() {
			b.expire(key, entry.Expiry)
		})
	}
	return nil
}

// expire removes key if it still holds the entry scheduled for removal.
func (b *datastoreBackend) expire(key string, expiry int64) {
	ctx := context.Background()
	env, err := b.store.Get(ctx, key)
	if err != nil || env.TTL != expiry {
		return
	}
	if err := b.store.Remove(ctx, key); err != nil {
		b.log.DebugContext(ctx, "cache cleanup failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (b *datastoreBackend) Remove(ctx context.Context, key string) error {
	return b.store.Remove(ctx, key)
}
