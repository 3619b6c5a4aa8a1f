// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines Deferred, the chainable query builder returned by every
// collection operation, and its one-shot execution contract.
package core

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pmkwilliams/offshore/cache"
)

// operation binds a deferred to the collection method it executes.
type operation[R any] struct {
	name string
	run  func(ctx context.Context, d *Deferred[R]) (R, error)

	// rows and fromRows convert results for deep population and caching.
	// They are nil for operations that do not return records.
	rows     func(R) []Record
	fromRows func([]Record) R
}

// Deferred is a lazily executed collection operation.
//
// Builder methods refine the criteria and return the same deferred; the
// first builder error is latched and returned by Exec. Execution happens at
// most once: every call to Exec, Promise, Then or Catch observes the same
// outcome.
//
// A Deferred must not be shared across concurrently built chains.
//
// Example:
//
//	companies, err := registry.MustCollection("company").
//	    Find(map[string]any{"name": map[string]any{"startsWith": "company"}}).
//	    Populate("drivers.taxis").
//	    Sort("name desc").
//	    Exec(ctx)
type Deferred[R any] struct {
	collection *Collection
	op         operation[R]
	criteria   *Criteria
	values     any
	err        error
	cache      *cacheDirective

	once   sync.Once
	future *Future[R]
}

func newDeferred[R any](c *Collection, op operation[R], raw any) *Deferred[R] {
	d := &Deferred[R]{collection: c, op: op}
	crit, err := Normalize(raw, c.schema.PrimaryKey)
	if err != nil {
		d.err = err
		d.criteria = &Criteria{Where: Where{}}
		return d
	}
	d.criteria = crit
	return d
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// Criteria returns a copy of the criteria built so far.
func (d *Deferred[R]) Criteria() *Criteria {
	return d.criteria.Clone()
}

// Err returns the latched builder error, if any.
func (d *Deferred[R]) Err() error {
	return d.err
}

// Where merges a criteria shorthand into the where clause. A slice of
// clauses becomes an "or"; false makes the query match nothing. Structured
// input may also carry sort, limit, skip and select.
func (d *Deferred[R]) Where(raw any) *Deferred[R] {
	if d.err != nil {
		return d
	}
	crit, err := Normalize(raw, d.collection.schema.PrimaryKey)
	if err != nil {
		d.err = err
		return d
	}
	switch {
	case crit.MatchNone:
		d.criteria.MatchNone = true
		d.criteria.Where = nil
	case !d.criteria.MatchNone:
		if d.criteria.Where == nil {
			d.criteria.Where = Where{}
		}
		for k, v := range crit.Where {
			d.criteria.Where[k] = v
		}
	}
	if len(crit.Sort) > 0 {
		d.criteria.Sort = overrideSort(d.criteria.Sort, crit.Sort)
	}
	if crit.Limit > 0 {
		d.criteria.Limit = crit.Limit
	}
	if crit.Skip > 0 {
		d.criteria.Skip = crit.Skip
	}
	if crit.Select != nil {
		d.criteria.Select = crit.Select
	}
	return d
}

// Limit caps the number of records returned.
func (d *Deferred[R]) Limit(n int) *Deferred[R] {
	if n < 0 {
		return d.fail(usageErrorf("limit", "must be non-negative, got %d", n))
	}
	d.criteria.Limit = n
	return d
}

// Skip skips the first n records.
func (d *Deferred[R]) Skip(n int) *Deferred[R] {
	if n < 0 {
		return d.fail(usageErrorf("skip", "must be non-negative, got %d", n))
	}
	d.criteria.Skip = n
	return d
}

// Paginate sets skip and limit from a 1-based page number. A zero limit
// defaults to 10; page 0 starts at the first record.
func (d *Deferred[R]) Paginate(page, limit int) *Deferred[R] {
	if page < 0 || limit < 0 {
		return d.fail(usageErrorf("paginate", "page and limit must be non-negative, got %d and %d", page, limit))
	}
	if limit == 0 {
		limit = 10
	}
	skip := 0
	if page > 0 {
		skip = page*limit - limit
	}
	d.criteria.Skip = skip
	d.criteria.Limit = limit
	return d
}

// Sort adds sort keys. Keys for an attribute already sorted on replace the
// previous direction.
//
// Example:
//
//	d.Sort("name desc").Sort(map[string]any{"age": 1})
func (d *Deferred[R]) Sort(raw any) *Deferred[R] {
	if d.err != nil {
		return d
	}
	keys, err := normalizeSort(raw)
	if err != nil {
		return d.fail(err)
	}
	d.criteria.Sort = overrideSort(d.criteria.Sort, keys)
	return d
}

func overrideSort(dest, source []SortKey) []SortKey {
	out := cloneSlice(dest)
	for _, k := range source {
		replaced := false
		for i := range out {
			if out[i].Attribute == k.Attribute {
				out[i].Direction = k.Direction
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, k)
		}
	}
	return out
}

// Select restricts the attributes returned.
func (d *Deferred[R]) Select(attributes ...string) *Deferred[R] {
	d.criteria.Select = append(d.criteria.Select, attributes...)
	return d
}

// Sum requests the sum of the given attributes, replacing any earlier list.
func (d *Deferred[R]) Sum(attributes ...string) *Deferred[R] {
	d.criteria.Sum = unwrapAttributes(attributes)
	return d
}

// Average requests the average of the given attributes, replacing any earlier list.
func (d *Deferred[R]) Average(attributes ...string) *Deferred[R] {
	d.criteria.Average = unwrapAttributes(attributes)
	return d
}

// Min requests the minimum of the given attributes, replacing any earlier list.
func (d *Deferred[R]) Min(attributes ...string) *Deferred[R] {
	d.criteria.Min = unwrapAttributes(attributes)
	return d
}

// Max requests the maximum of the given attributes, replacing any earlier list.
func (d *Deferred[R]) Max(attributes ...string) *Deferred[R] {
	d.criteria.Max = unwrapAttributes(attributes)
	return d
}

// GroupBy groups aggregates by the given attributes, replacing any earlier
// grouping.
func (d *Deferred[R]) GroupBy(attributes ...string) *Deferred[R] {
	d.criteria.GroupBy = unwrapAttributes(attributes)
	return d
}

// unwrapAttributes accepts "a,b" as well as separate arguments.
func unwrapAttributes(attributes []string) []string {
	var out []string
	for _, a := range attributes {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Set replaces the values a create, update or findOrCreate writes.
func (d *Deferred[R]) Set(values any) *Deferred[R] {
	d.values = values
	return d
}

func (d *Deferred[R]) fail(err error) *Deferred[R] {
	if d.err == nil {
		d.err = err
	}
	return d
}

// cacheFieldToken identifies optional parameters of Cache.
type cacheFieldToken string

const (
	cacheFieldTokenKey cacheFieldToken = "key"
	cacheFieldTokenTTL cacheFieldToken = "ttl"
)

// CacheField customizes the behaviour of Cache, such as the key or TTL.
type CacheField struct {
	Token cacheFieldToken
	Value any
}

// CacheKey overrides the cache key derived from the query.
func CacheKey(key string) CacheField {
	return CacheField{Token: cacheFieldTokenKey, Value: key}
}

// CacheTTL overrides the configured default time-to-live.
func CacheTTL(ttl time.Duration) CacheField {
	return CacheField{Token: cacheFieldTokenTTL, Value: ttl}
}

// CacheForever stores the result without expiry.
func CacheForever() CacheField {
	return CacheField{Token: cacheFieldTokenTTL, Value: time.Duration(0)}
}

type cacheDirective struct {
	key    string
	ttl    time.Duration
	ttlSet bool
}

// Cache serves the result from the registry cache when present, and stores
// it after execution otherwise. Only find and findOne can be cached.
//
// Example:
//
//	rows, err := companies.Find().Populate("drivers").
//	    Cache(core.CacheTTL(time.Minute)).
//	    Exec(ctx)
func (d *Deferred[R]) Cache(fields ...CacheField) *Deferred[R] {
	if d.op.name != "find" && d.op.name != "findOne" {
		return d.fail(usageErrorf("cache", "only find and findOne can be cached, not %s", d.op.name))
	}
	directive := &cacheDirective{}
	for _, f := range fields {
		switch f.Token {
		case cacheFieldTokenKey:
			key, ok := f.Value.(string)
			if !ok || key == "" {
				return d.fail(usageErrorf("cache", "key must be a non-empty string"))
			}
			directive.key = key
		case cacheFieldTokenTTL:
			ttl, ok := f.Value.(time.Duration)
			if !ok || ttl < 0 {
				return d.fail(usageErrorf("cache", "time to live must be a non-negative duration"))
			}
			directive.ttl, directive.ttlSet = ttl, true
		}
	}
	d.cache = directive
	return d
}

// CacheKeyString returns the key the result is cached under.
func (d *Deferred[R]) CacheKeyString() string {
	if d.cache != nil && d.cache.key != "" {
		return d.cache.key
	}
	return strconv.FormatUint(xxhash.Sum64String(d.String()), 16)
}

// String renders the query canonically: the operation with its criteria,
// followed by one populate call per populated alias.
func (d *Deferred[R]) String() string {
	var b strings.Builder
	b.WriteString(d.collection.Identity() + "." + d.op.name + "(" + Serialize(d.criteria) + ")")
	if d.criteria.Deep() {
		for _, path := range sortedKeys(d.criteria.Paths) {
			writePopulates(&b, path+".", d.criteria.Paths[path].Joins)
		}
		return b.String()
	}
	writePopulates(&b, "", d.criteria.Joins)
	return b.String()
}

func writePopulates(b *strings.Builder, prefix string, joins []*Join) {
	var visible []*Join
	for _, j := range joins {
		if !j.JunctionTable && j.Select == nil {
			// first hop of a many-to-many, rendered through its second hop
			continue
		}
		visible = append(visible, j)
	}
	sort.SliceStable(visible, func(i, k int) bool { return visible[i].Alias < visible[k].Alias })
	for _, j := range visible {
		b.WriteString(".populate(" + prefix + j.Alias + "," + Serialize(j.Criteria) + ")")
	}
}

// Exec runs the operation once and returns its outcome. Later calls return
// the same outcome without running it again.
func (d *Deferred[R]) Exec(ctx context.Context) (R, error) {
	return d.Promise(ctx).Await(ctx)
}

// Promise starts execution on first call and returns the memoized future.
func (d *Deferred[R]) Promise(ctx context.Context) *Future[R] {
	started := false
	d.once.Do(func() {
		d.future = newFuture[R]()
		started = true
	})
	if started {
		go func() {
			value, err := d.execute(ctx)
			d.future.resolve(value, err)
		}()
	}
	return d.future
}

// Then waits for the outcome and passes a successful result to fn.
func (d *Deferred[R]) Then(ctx context.Context, fn func(R) error) error {
	value, err := d.Exec(ctx)
	if err != nil {
		return err
	}
	return fn(value)
}

// Catch waits for the outcome and passes a failure to fn, whose return
// value replaces the error.
func (d *Deferred[R]) Catch(ctx context.Context, fn func(error) error) (R, error) {
	value, err := d.Exec(ctx)
	if err != nil {
		return value, fn(err)
	}
	return value, nil
}

// Spread waits for a list result and passes the records as arguments.
func Spread(ctx context.Context, d *Deferred[[]Record], fn func(records ...Record) error) error {
	records, err := d.Exec(ctx)
	if err != nil {
		return err
	}
	return fn(records...)
}

func (d *Deferred[R]) execute(ctx context.Context) (R, error) {
	if d.err != nil {
		var zero R
		return zero, d.err
	}
	if d.cache != nil {
		return d.execCached(ctx)
	}
	return d.run(ctx)
}

func (d *Deferred[R]) run(ctx context.Context) (R, error) {
	if d.criteria.Deep() && d.op.rows != nil {
		return d.execDeep(ctx)
	}
	return d.exec(ctx)
}

// exec resolves association predicates in the root and join criteria, then
// dispatches the bound operation once.
func (d *Deferred[R]) exec(ctx context.Context) (R, error) {
	var zero R
	c := d.collection
	crit := d.criteria

	g, gctx := errgroup.WithContext(ctx)
	if !crit.MatchNone && len(crit.Where) > 0 {
		g.Go(func() error {
			where, err := c.whereDeep(gctx, crit.Where)
			if err != nil {
				return err
			}
			crit.Where = where
			return nil
		})
	}
	for _, j := range crit.Joins {
		if j.Criteria == nil || j.Criteria.MatchNone || len(j.Criteria.Where) == 0 {
			continue
		}
		child, err := c.sibling(j.Child)
		if err != nil {
			return zero, err
		}
		g.Go(func() error {
			where, err := child.whereDeep(gctx, j.Criteria.Where)
			if err != nil {
				return err
			}
			j.Criteria.Where = where
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}
	return d.op.run(ctx, d)
}

func (d *Deferred[R]) execCached(ctx context.Context) (R, error) {
	var zero R
	store := d.collection.registry.Cache()
	if store == nil {
		return zero, &UsageError{Op: "cache", Msg: "registry has no cache service; call Initialize first"}
	}
	key := d.CacheKeyString()
	log := d.collection.registry.log

	payload, err := store.GetRaw(ctx, key)
	if err == nil {
		log.DebugContext(ctx, "cache hit", slog.String("collection", d.collection.Identity()), slog.String("key", key))
		return decodeCached[R](payload, d.resultShape())
	}
	if !errors.Is(err, cache.ErrNoCache) {
		return zero, errors.Wrapf(err, "reading cache entry %s", key)
	}

	value, err := d.run(ctx)
	if err != nil {
		return zero, err
	}
	payload, err = encodeCached(value)
	if err != nil {
		log.WarnContext(ctx, "cache store failed", slog.String("key", key), slog.Any("error", err))
		return value, nil
	}
	ttl := store.DefaultTTL()
	if d.cache.ttlSet {
		ttl = d.cache.ttl
	}
	if err := store.SetRaw(ctx, key, payload, ttl); err != nil {
		log.WarnContext(ctx, "cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	// a miss answers with the decoded payload so that a later hit is identical
	return decodeCached[R](payload, d.resultShape())
}
