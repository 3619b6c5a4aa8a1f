// Package memory provides an in-process adapter for the offshore ORM.
//
// Records live in maps keyed by connection and collection. The adapter
// evaluates criteria itself, supports transactions through per-handle
// snapshots, and is used by tests and by the offshore command line tool.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/core"
)

// table holds the rows of one collection.
type table struct {
	desc   core.CollectionDescriptor
	rows   []core.Record
	nextID int64
}

func (t *table) clone() *table {
	out := &table{desc: t.desc, nextID: t.nextID, rows: make([]core.Record, len(t.rows))}
	for i, r := range t.rows {
		out.rows[i] = copyRecord(r)
	}
	return out
}

// store is the data of one connection.
type store struct {
	tables map[string]*table
}

type transaction struct {
	connection string
	snapshot   *store
}

// Adapter is the in-memory adapter. It implements core.Adapter and
// core.Transactional. The zero value is not usable; call New.
type Adapter struct {
	mu          sync.RWMutex
	connections map[string]*store
	txs         map[string]*transaction
}

var (
	_ core.Adapter       = (*Adapter)(nil)
	_ core.Transactional = (*Adapter)(nil)
)

// New returns an empty adapter.
//
// Example:
//
//	registry := core.New(core.WithConnection("default", memory.New()))
func New() *Adapter {
	return &Adapter{
		connections: make(map[string]*store),
		txs:         make(map[string]*transaction),
	}
}

// RegisterConnection creates the tables of collections. Tables already
// present keep their rows.
func (a *Adapter) RegisterConnection(_ context.Context, connection string, collections []core.CollectionDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.connections[connection]
	if !ok {
		s = &store{tables: make(map[string]*table)}
		a.connections[connection] = s
	}
	for _, desc := range collections {
		if t, ok := s.tables[desc.Identity]; ok {
			t.desc = desc
			continue
		}
		s.tables[desc.Identity] = &table{desc: desc, nextID: 1}
	}
	return nil
}

// table resolves a connection name or transaction handle. Callers hold a.mu.
func (a *Adapter) table(connection, collection string) (*table, error) {
	s, ok := a.connections[connection]
	if tx, isTx := a.txs[connection]; isTx {
		s, ok = tx.snapshot, true
	}
	if !ok {
		return nil, errors.Errorf("memory: unknown connection %q", connection)
	}
	t, ok := s.tables[collection]
	if !ok {
		return nil, errors.Errorf("memory: unknown collection %q on %q", collection, connection)
	}
	return t, nil
}

func filter(t *table, criteria *core.Criteria) ([]core.Record, error) {
	if criteria != nil && criteria.MatchNone {
		return nil, nil
	}
	var where core.Where
	if criteria != nil {
		where = criteria.Where
	}
	cond, err := core.ParseWhere(where)
	if err != nil {
		return nil, err
	}
	var out []core.Record
	for _, r := range t.rows {
		if match(cond, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Find returns copies of the matching rows.
func (a *Adapter) Find(_ context.Context, connection, collection string, criteria *core.Criteria) ([]core.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return nil, err
	}
	return find(t, criteria)
}

func find(t *table, criteria *core.Criteria) ([]core.Record, error) {
	rows, err := filter(t, criteria)
	if err != nil {
		return nil, err
	}
	if criteria == nil {
		criteria = &core.Criteria{}
	}
	if aggregated(criteria) {
		return aggregate(rows, criteria), nil
	}
	sortRows(rows, criteria.Sort)
	rows = page(rows, criteria.Skip, criteria.Limit)
	out := make([]core.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, project(r, criteria.Select))
	}
	return out, nil
}

func sortRows(rows []core.Record, keys []core.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := sortValues(rows[i][k.Attribute], rows[j][k.Attribute])
			if c == 0 {
				continue
			}
			if k.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func page(rows []core.Record, skip, limit int) []core.Record {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func project(r core.Record, columns []string) core.Record {
	if len(columns) == 0 {
		return copyRecord(r)
	}
	out := make(core.Record, len(columns))
	for _, col := range columns {
		if v, ok := r[col]; ok {
			out[col] = copyValue(v)
		}
	}
	return out
}

// Create stores a copy of values. A missing auto-increment primary key is
// assigned the next sequence value.
func (a *Adapter) Create(_ context.Context, connection, collection string, values core.Record) (core.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return nil, err
	}
	row := copyRecord(values)
	pk := t.desc.PrimaryKey
	if pk != "" {
		switch id := row[pk]; {
		case id == nil && t.desc.AutoIncrement:
			row[pk] = t.nextID
			t.nextID++
		case id == nil:
			return nil, errors.Errorf("memory: %s.%s is required", collection, pk)
		default:
			if n, ok := toInt64(id); ok && n >= t.nextID {
				t.nextID = n + 1
			}
			for _, existing := range t.rows {
				if equal(existing[pk], id) {
					return nil, errors.Errorf("memory: duplicate %s.%s %v", collection, pk, id)
				}
			}
		}
	}
	t.rows = append(t.rows, row)
	return copyRecord(row), nil
}

// Update applies values to every matching row and returns copies of them.
func (a *Adapter) Update(_ context.Context, connection, collection string, criteria *core.Criteria, values core.Record) ([]core.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return nil, err
	}
	rows, err := filter(t, criteria)
	if err != nil {
		return nil, err
	}
	out := make([]core.Record, 0, len(rows))
	for _, r := range rows {
		for k, v := range values {
			r[k] = copyValue(v)
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

// Destroy removes every matching row.
func (a *Adapter) Destroy(_ context.Context, connection, collection string, criteria *core.Criteria) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return err
	}
	if criteria != nil && criteria.MatchNone {
		return nil
	}
	var where core.Where
	if criteria != nil {
		where = criteria.Where
	}
	cond, err := core.ParseWhere(where)
	if err != nil {
		return err
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !match(cond, r) {
			kept = append(kept, r)
		}
	}
	clear(t.rows[len(kept):])
	t.rows = kept
	return nil
}

// Count returns the number of matching rows.
func (a *Adapter) Count(_ context.Context, connection, collection string, criteria *core.Criteria) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return 0, err
	}
	rows, err := filter(t, criteria)
	return int64(len(rows)), err
}

// RegisterTransaction snapshots the collections of connection. Reads and
// writes through the returned handle see the snapshot only.
func (a *Adapter) RegisterTransaction(_ context.Context, connection string, collections []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.connections[connection]
	if !ok {
		return "", errors.Errorf("memory: unknown connection %q", connection)
	}
	snapshot := &store{tables: make(map[string]*table, len(s.tables))}
	for name, t := range s.tables {
		snapshot.tables[name] = t.clone()
	}
	handle := uuid.NewString()
	a.txs[handle] = &transaction{connection: connection, snapshot: snapshot}
	return handle, nil
}

// Commit publishes the snapshot of collections to the connection. Other
// writes made to those collections since the transaction started are lost.
func (a *Adapter) Commit(_ context.Context, handle string, collections []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.txs[handle]
	if !ok {
		return errors.Errorf("memory: unknown transaction %q", handle)
	}
	delete(a.txs, handle)
	s := a.connections[tx.connection]
	for _, name := range collections {
		if t, ok := tx.snapshot.tables[name]; ok {
			s.tables[name] = t
		}
	}
	return nil
}

// Rollback discards the snapshot.
func (a *Adapter) Rollback(_ context.Context, handle string, _ []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.txs[handle]; !ok {
		return errors.Errorf("memory: unknown transaction %q", handle)
	}
	delete(a.txs, handle)
	return nil
}

// Rows returns a copy of every row of a collection, in insertion order.
func (a *Adapter) Rows(connection, collection string) ([]core.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return nil, err
	}
	out := make([]core.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRecord(r)
	}
	return out, nil
}

// String lists the tables and their sizes, for debugging.
func (a *Adapter) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var parts []string
	for cn, s := range a.connections {
		for name, t := range s.tables {
			parts = append(parts, fmt.Sprintf("%s/%s:%d", cn, name, len(t.rows)))
		}
	}
	sort.Strings(parts)
	return "memory[" + strings.Join(parts, " ") + "]"
}

func copyRecord(r core.Record) core.Record {
	if r == nil {
		return nil
	}
	out := make(core.Record, len(r))
	for k, v := range r {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = copyValue(x)
		}
		return out
	case core.Record:
		return copyRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	case []core.Record:
		out := make([]core.Record, len(t))
		for i, x := range t {
			out[i] = copyRecord(x)
		}
		return out
	}
	return v
}
