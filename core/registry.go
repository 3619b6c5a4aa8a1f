// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the Registry, the system handle owning schemas,
// connections, the result cache, middlewares, events and the logger.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/cache"
	"github.com/pmkwilliams/offshore/config"
	"github.com/pmkwilliams/offshore/logger"
)

// DefaultConnection is the connection name schemas bind to when they do not
// declare one and more than one connection is registered.
const DefaultConnection = "default"

// Registry holds every schema and connection of an application.
//
// A registry is configured with options, receives schemas through Register,
// and becomes usable once Initialize has resolved associations and
// announced every collection to its adapter.
type Registry struct {
	mu             sync.RWMutex
	schemaList     []*Schema
	schemas        map[string]*Schema
	connections    map[string]Adapter
	collections    map[string]*Collection
	middlewareList []Middleware
	events         *EventDispatcher
	log            *slog.Logger

	cacheConfig  cache.Config
	cacheAdapter any
	cache        *cache.Cache

	initialized bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithConnection registers an adapter under a connection name.
func WithConnection(name string, adapter Adapter) Option {
	return func(r *Registry) { r.connections[name] = adapter }
}

// WithLogger sets the logger used by the registry and its collections.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithCache sets a ready-made cache service.
func WithCache(c *cache.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithCacheConfig sets the configuration of the cache service built at
// Initialize.
func WithCacheConfig(cfg cache.Config) Option {
	return func(r *Registry) { r.cacheConfig = cfg }
}

// WithCacheAdapter sets the storage the cache service is built on: a
// cache.Backend, a cache.SimpleAdapter or a cache.DatastoreAdapter. Without
// one the cache stores files.
func WithCacheAdapter(adapter any) Option {
	return func(r *Registry) { r.cacheAdapter = adapter }
}

// WithConfig applies a loaded configuration: cache settings and logger.
//
// Example:
//
//	cfg, err := config.Load("OFFSHORE", "")
//	registry := core.New(core.WithConfig(cfg), core.WithConnection("default", adapter))
func WithConfig(cfg config.Config) Option {
	return func(r *Registry) {
		r.cacheConfig = cache.Config{
			Dir:        cfg.Cache.Dir,
			Prefix:     cfg.Cache.Prefix,
			DefaultTTL: cfg.Cache.DefaultTTL,
		}
		if cfg.Cache.Backend == config.CacheBackendMemory && r.cacheAdapter == nil {
			if backend, err := cache.NewMemoryBackend(cfg.Cache.MemorySize); err == nil {
				r.cacheAdapter = backend
			}
		}
		r.log = logger.New(logger.Config{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			AddSource: cfg.Log.AddSource,
		})
	}
}

// New creates a registry.
//
// Example:
//
//	registry := core.New(core.WithConnection("default", memory.New()))
//	registry.Register(company, driver)
//	if err := registry.Initialize(ctx); err != nil {
//	    return err
//	}
//	companies, _ := registry.Collection("company")
func New(options ...Option) *Registry {
	r := &Registry{
		schemas:     make(map[string]*Schema),
		connections: make(map[string]Adapter),
		collections: make(map[string]*Collection),
		events:      newEventDispatcher(),
		cacheConfig: cache.DefaultConfig(),
	}
	for _, option := range options {
		option(r)
	}
	if r.log == nil {
		r.log = logger.Get()
	}
	return r
}

// Register adds schemas to the registry. It must be called before
// Initialize.
func (r *Registry) Register(schemas ...*Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemaList = append(r.schemaList, schemas...)
}

// Initialize resolves associations, builds collections, announces them to
// their adapters and builds the cache service.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return &UsageError{Op: "initialize", Msg: "registry already initialized"}
	}
	if len(r.connections) == 0 {
		return &ConfigurationError{Msg: "no connection registered"}
	}

	schemas := make(map[string]*Schema, len(r.schemaList))
	for _, s := range r.schemaList {
		if _, dup := schemas[s.Identity]; dup {
			return &ConfigurationError{Msg: fmt.Sprintf("collection %q registered twice", s.Identity)}
		}
		if s.Connection == "" {
			s.Connection = r.defaultConnection()
		}
		if _, ok := r.connections[s.Connection]; !ok {
			return &ConfigurationError{Msg: fmt.Sprintf("collection %q uses unknown connection %q", s.Identity, s.Connection)}
		}
		schemas[s.Identity] = s
	}
	if err := resolveSchemas(schemas); err != nil {
		return err
	}
	r.schemas = schemas

	byConnection := map[string][]CollectionDescriptor{}
	for _, identity := range sortedKeys(schemas) {
		s := schemas[identity]
		r.collections[identity] = &Collection{
			registry: r,
			schema:   s,
			adapter:  r.connections[s.Connection],
		}
		byConnection[s.Connection] = append(byConnection[s.Connection], s.descriptor())
	}
	for _, name := range sortedKeys(byConnection) {
		if err := r.connections[name].RegisterConnection(ctx, name, byConnection[name]); err != nil {
			return errors.Wrapf(err, "registering connection %q", name)
		}
		r.log.DebugContext(ctx, "connection registered",
			slog.String("connection", name),
			slog.Int("collections", len(byConnection[name])))
	}

	if r.cache == nil {
		if r.cacheConfig.Logger == nil {
			r.cacheConfig.Logger = r.log
		}
		c, err := cache.New(ctx, r.cacheConfig, r.cacheAdapter)
		if err != nil {
			var cfgErr *cache.ConfigurationError
			if errors.As(err, &cfgErr) {
				return &ConfigurationError{Msg: cfgErr.Error()}
			}
			return errors.Wrap(err, "building cache service")
		}
		r.cache = c
	}
	r.initialized = true
	return nil
}

func (r *Registry) defaultConnection() string {
	if len(r.connections) == 1 {
		for name := range r.connections {
			return name
		}
	}
	return DefaultConnection
}

// Collection returns the initialized collection with the given identity.
func (r *Registry) Collection(identity string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[strings.ToLower(identity)]
	if !ok {
		return nil, &UsageError{Op: "collection", Msg: fmt.Sprintf("unknown collection %q", identity)}
	}
	return c, nil
}

// MustCollection is like Collection but panics when the identity is unknown.
func (r *Registry) MustCollection(identity string) *Collection {
	c, err := r.Collection(identity)
	if err != nil {
		panic(err)
	}
	return c
}

// Identities returns the identities of every initialized collection,
// including synthesized junctions, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.collections)
}

// Logger returns the registry logger.
func (r *Registry) Logger() *slog.Logger {
	return r.log
}

// Cache returns the cache service, nil before Initialize.
func (r *Registry) Cache() *cache.Cache {
	return r.cache
}
