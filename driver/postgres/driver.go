package postgres

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/core"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Adapter runs offshore operations against a PostgreSQL database through a
// pgx pool. Every connection name registered on it shares the pool.
type Adapter struct {
	pool *pgxpool.Pool

	mu          sync.RWMutex
	collections map[string]map[string]core.CollectionDescriptor
	txs         map[string]*postgresTransaction
}

var (
	_ core.Adapter       = (*Adapter)(nil)
	_ core.Transactional = (*Adapter)(nil)
)

// New opens a pool on connString.
//
// Example:
//
//	adapter, err := postgres.New(ctx, "postgres://localhost:5432/app")
//	registry := core.New(core.WithConnection("default", adapter))
func New(ctx context.Context, connString string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: opening pool")
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool:        pool,
		collections: make(map[string]map[string]core.CollectionDescriptor),
		txs:         make(map[string]*postgresTransaction),
	}
}

// Close releases the pool.
func (a *Adapter) Close() {
	a.pool.Close()
}

// RegisterConnection records the tables of connection and checks the
// database is reachable.
func (a *Adapter) RegisterConnection(ctx context.Context, connection string, collections []core.CollectionDescriptor) error {
	a.mu.Lock()
	tables, ok := a.collections[connection]
	if !ok {
		tables = make(map[string]core.CollectionDescriptor)
		a.collections[connection] = tables
	}
	for _, desc := range collections {
		tables[desc.Identity] = desc
	}
	a.mu.Unlock()
	return errors.Wrap(a.pool.Ping(ctx), "postgres: ping")
}

// resolve returns the querier and table of a connection name or
// transaction handle.
func (a *Adapter) resolve(connection, collection string) (querier, core.CollectionDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var q querier = a.pool
	if tx, ok := a.txs[connection]; ok {
		q = tx.transaction
		connection = tx.connection
	}
	desc, ok := a.collections[connection][collection]
	if !ok {
		return nil, desc, errors.Errorf("postgres: unknown collection %q on %q", collection, connection)
	}
	return q, desc, nil
}

func collectRows(rowList pgx.Rows) ([]core.Record, error) {
	defer rowList.Close()
	columnDescriptionList := rowList.FieldDescriptions()
	resultList := []core.Record{}
	for rowList.Next() {
		valueList, err := rowList.Values()
		if err != nil {
			return nil, err
		}
		row := make(core.Record, len(valueList))
		for i, col := range columnDescriptionList {
			row[col.Name] = valueList[i]
		}
		resultList = append(resultList, row)
	}
	return resultList, rowList.Err()
}

// Find runs a SELECT.
func (a *Adapter) Find(ctx context.Context, connection, collection string, criteria *core.Criteria) ([]core.Record, error) {
	q, desc, err := a.resolve(connection, collection)
	if err != nil {
		return nil, err
	}
	if criteria != nil && criteria.MatchNone {
		return []core.Record{}, nil
	}
	sqlQuery, argList, err := buildSelect(desc, criteria)
	if err != nil {
		return nil, err
	}
	rowList, err := q.Query(ctx, sqlQuery, argList...)
	if err != nil {
		return nil, err
	}
	return collectRows(rowList)
}

// Create runs an INSERT ... RETURNING.
func (a *Adapter) Create(ctx context.Context, connection, collection string, values core.Record) (core.Record, error) {
	q, desc, err := a.resolve(connection, collection)
	if err != nil {
		return nil, err
	}
	sqlQuery, argList := buildInsert(desc, values)
	rowList, err := q.Query(ctx, sqlQuery, argList...)
	if err != nil {
		return nil, err
	}
	rows, err := collectRows(rowList)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("postgres: insert into %s returned no row", collection)
	}
	return rows[0], nil
}

// Update runs an UPDATE ... RETURNING.
func (a *Adapter) Update(ctx context.Context, connection, collection string, criteria *core.Criteria, values core.Record) ([]core.Record, error) {
	q, desc, err := a.resolve(connection, collection)
	if err != nil {
		return nil, err
	}
	sqlQuery, argList, err := buildUpdate(desc, criteria, values)
	if err != nil {
		return nil, err
	}
	rowList, err := q.Query(ctx, sqlQuery, argList...)
	if err != nil {
		return nil, err
	}
	return collectRows(rowList)
}

// Destroy runs a DELETE.
func (a *Adapter) Destroy(ctx context.Context, connection, collection string, criteria *core.Criteria) error {
	q, desc, err := a.resolve(connection, collection)
	if err != nil {
		return err
	}
	sqlQuery, argList, err := buildDelete(desc, criteria)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, sqlQuery, argList...)
	return err
}

// Count runs a SELECT COUNT(*).
func (a *Adapter) Count(ctx context.Context, connection, collection string, criteria *core.Criteria) (int64, error) {
	q, desc, err := a.resolve(connection, collection)
	if err != nil {
		return 0, err
	}
	sqlQuery, argList, err := buildCount(desc, criteria)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := q.QueryRow(ctx, sqlQuery, argList...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
