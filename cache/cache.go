// Package cache provides the result cache consulted by find queries.
//
// A Cache stores JSON-encoded values under string keys with an absolute
// expiry. Storage is delegated to a Backend: files on disk by default, an
// in-process LRU, or an application-supplied key-value adapter.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// ErrNoCache is returned by Get when a key is absent or expired. It is a
// signal, not a failure: callers compare against it with errors.Is.
var ErrNoCache = errors.New("NO_CACHE")

// ConfigurationError reports a cache that cannot be built, such as an
// adapter implementing none of the supported capabilities.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "cache configuration: " + e.Msg
}

// Config holds the cache service settings.
type Config struct {
	// Dir is the directory of the file backend.
	Dir string
	// Prefix is prepended to every key by the file backend.
	Prefix string
	// DefaultTTL applies to Set. Zero means entries never expire.
	DefaultTTL time.Duration
	// Logger receives debug output. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the settings used when none are given: files named
// CACHE_<key> in the system temporary directory, valid for one hour.
func DefaultConfig() Config {
	return Config{
		Dir:        os.TempDir(),
		Prefix:     "CACHE_",
		DefaultTTL: time.Hour,
	}
}

// Entry is what a Backend stores for one key.
type Entry struct {
	// Expiry is the absolute expiry in milliseconds since the epoch, or 0
	// when the entry never expires.
	Expiry int64
	// Payload is the JSON encoding of the value, nil for a cached nil.
	Payload []byte
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return e.Expiry != 0 && e.Expiry < now.UnixMilli()
}

// Backend stores entries. Load returns ErrNoCache when the key is absent.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, error)
	Store(ctx context.Context, key string, entry Entry) error
}

// remover is implemented by backends able to drop an entry eagerly.
type remover interface {
	Remove(ctx context.Context, key string) error
}

// Cache is the result cache service.
type Cache struct {
	cfg     Config
	backend Backend
	log     *slog.Logger
	now     func() time.Time
}

// New builds a cache service over adapter, which may be nil (file backend),
// a Backend, a DatastoreAdapter or a SimpleAdapter. Any other value is a
// ConfigurationError.
//
// Example:
//
//	c, err := cache.New(ctx, cache.DefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	_ = c.SetTTL(ctx, "answer", 42, time.Minute)
func New(ctx context.Context, cfg Config, adapter any) (*Cache, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var backend Backend
	switch a := adapter.(type) {
	case nil:
		if cfg.Dir == "" {
			cfg.Dir = os.TempDir()
		}
		backend = NewFileBackend(cfg.Dir, cfg.Prefix)
	case Backend:
		backend = a
	case DatastoreAdapter:
		store, err := a.Datastore(ctx, DatastoreOptions{Prefix: cfg.Prefix})
		if err != nil {
			return nil, errors.Wrap(err, "opening cache datastore")
		}
		backend = newDatastoreBackend(store, log)
	case SimpleAdapter:
		backend = &simpleBackend{adapter: a}
	default:
		return nil, &ConfigurationError{Msg: fmt.Sprintf("adapter %T implements neither get/set nor getDatastore", adapter)}
	}
	return &Cache{cfg: cfg, backend: backend, log: log, now: time.Now}, nil
}

// Get decodes the value stored under key into dst. It returns ErrNoCache
// when the key is absent or expired. A cached nil leaves dst untouched.
func (c *Cache) Get(ctx context.Context, key string, dst any) error {
	payload, err := c.GetRaw(ctx, key)
	if err != nil || payload == nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return errors.Wrapf(err, "decoding cache entry %s", key)
	}
	return nil
}

// GetRaw returns the JSON payload stored under key, nil for a cached nil.
// It returns ErrNoCache when the key is absent or expired.
func (c *Cache) GetRaw(ctx context.Context, key string) ([]byte, error) {
	entry, err := c.backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.Expired(c.now()) {
		if r, ok := c.backend.(remover); ok {
			if err := r.Remove(ctx, key); err != nil {
				c.log.DebugContext(ctx, "expired cache entry not removed", slog.String("key", key), slog.Any("error", err))
			}
		}
		return nil, ErrNoCache
	}
	return entry.Payload, nil
}

// Set stores value under key with the configured default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	return c.SetTTL(ctx, key, value, c.cfg.DefaultTTL)
}

// SetTTL stores value under key for ttl. A ttl of zero or less stores an
// entry that never expires.
func (c *Cache) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	var payload []byte
	if !isNil(value) {
		var err error
		if payload, err = json.Marshal(value); err != nil {
			return errors.Wrapf(err, "encoding cache entry %s", key)
		}
	}
	return c.SetRaw(ctx, key, payload, ttl)
}

// SetRaw stores an already encoded JSON payload under key for ttl. A nil
// payload caches nil.
func (c *Cache) SetRaw(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := Entry{Payload: payload}
	if ttl > 0 {
		entry.Expiry = c.now().Add(ttl).UnixMilli()
	}
	if err := c.backend.Store(ctx, key, entry); err != nil {
		return err
	}
	c.log.DebugContext(ctx, "cache entry stored", slog.String("key", key), slog.Int64("expiry", entry.Expiry))
	return nil
}

// DefaultTTL returns the time to live applied by Set.
func (c *Cache) DefaultTTL() time.Duration {
	return c.cfg.DefaultTTL
}

// isNil reports whether v is nil or a nil map, slice, pointer or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
