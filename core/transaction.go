// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the transaction coordinator, which opens a transaction
// on every connection used by a set of collections and commits or rolls
// them back together.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// TxScope gives access to the collections of a running transaction. Queries
// issued through them target the transaction handle of their connection.
type TxScope struct {
	collections map[string]*Collection
	handles     map[string]string
}

// Collection returns the transaction-bound collection with the given
// identity, or nil when it is not part of the transaction.
func (s *TxScope) Collection(identity string) *Collection {
	return s.collections[identity]
}

// Handle returns the transaction handle opened on a connection.
func (s *TxScope) Handle(connection string) string {
	return s.handles[connection]
}

// transactionKey is an unexported type used as the key for storing
// a TxScope in a context.Context. Using a private type prevents
// collisions with other context values.
type transactionKey struct{}

// WithTransaction injects a transaction scope into the given context.
func WithTransaction(ctx context.Context, scope *TxScope) context.Context {
	return context.WithValue(ctx, transactionKey{}, scope)
}

// TransactionFrom extracts the transaction scope from the given context, if
// any. The body of a transaction receives a context carrying its scope.
func TransactionFrom(ctx context.Context) *TxScope {
	if v, ok := ctx.Value(transactionKey{}).(*TxScope); ok {
		return v
	}
	return nil
}

// TransactionBody runs inside a transaction. It must call done exactly
// once: with a nil error to commit, with an error to roll back.
type TransactionBody func(ctx context.Context, tx *TxScope, done func(result any, err error))

type txConnection struct {
	name        string
	adapter     Transactional
	collections []string
	handle      string
}

// TransactionDeferred is the outcome of a transaction.
type TransactionDeferred struct {
	log         *slog.Logger
	connections []*txConnection

	mu         sync.Mutex
	committed  bool
	rolledBack bool
	future     *Future[any]
}

// Transaction opens a transaction on every connection used by collections,
// then runs body with a scope whose collections target those transactions.
//
// Connections are registered, committed and rolled back one after the
// other, in connection name order. If a registration fails, the connections
// already registered are rolled back, the body does not run, and the
// registration error is the outcome.
//
// Example:
//
//	result, err := registry.Transaction(ctx, []*core.Collection{users, orders},
//	    func(ctx context.Context, tx *core.TxScope, done func(any, error)) {
//	        user, err := tx.Collection("user").Create(core.Record{"name": "a"}).Exec(ctx)
//	        done(user, err)
//	    }).Exec(ctx)
func (r *Registry) Transaction(ctx context.Context, collections []*Collection, body TransactionBody) *TransactionDeferred {
	td := &TransactionDeferred{log: r.log, future: newFuture[any]()}

	byName := map[string]*txConnection{}
	for _, c := range collections {
		name := c.schema.Connection
		conn, ok := byName[name]
		if !ok {
			adapter, supported := c.adapter.(Transactional)
			if !supported {
				td.settle(nil, &ConfigurationError{Msg: fmt.Sprintf("connection %q does not support transactions", name)})
				return td
			}
			conn = &txConnection{name: name, adapter: adapter}
			byName[name] = conn
		}
		conn.collections = append(conn.collections, c.Identity())
	}
	for _, name := range sortedKeys(byName) {
		td.connections = append(td.connections, byName[name])
	}

	go td.start(ctx, collections, body)
	return td
}

func (td *TransactionDeferred) start(ctx context.Context, collections []*Collection, body TransactionBody) {
	for i, conn := range td.connections {
		handle, err := conn.adapter.RegisterTransaction(ctx, conn.name, conn.collections)
		if err != nil {
			td.mu.Lock()
			td.rolledBack = true
			td.mu.Unlock()
			td.rollbackConnections(ctx, td.connections[:i])
			td.settle(nil, errors.Wrapf(err, "registering transaction on %q", conn.name))
			return
		}
		conn.handle = handle
		td.log.DebugContext(ctx, "transaction registered", slog.String("connection", conn.name), slog.String("handle", handle))
	}

	scope := &TxScope{collections: map[string]*Collection{}, handles: map[string]string{}}
	for _, conn := range td.connections {
		scope.handles[conn.name] = conn.handle
	}
	for _, c := range collections {
		bound := *c
		bound.scope = scope
		scope.collections[c.Identity()] = &bound
	}

	body(WithTransaction(ctx, scope), scope, func(result any, err error) {
		if err != nil {
			td.rollback(ctx, err)
			return
		}
		td.commit(ctx, result)
	})
}

// commit marks the transaction committed and commits every connection. It
// panics with a TransactionStateError when the outcome is already set.
func (td *TransactionDeferred) commit(ctx context.Context, result any) {
	td.mu.Lock()
	switch {
	case td.rolledBack:
		td.mu.Unlock()
		panic(&TransactionStateError{Msg: "cannot commit when transaction has been rolled back"})
	case td.committed:
		td.mu.Unlock()
		panic(&TransactionStateError{Msg: "transaction already committed"})
	}
	td.committed = true
	td.mu.Unlock()

	for i, conn := range td.connections {
		if err := conn.adapter.Commit(ctx, conn.handle, conn.collections); err != nil {
			// connections already committed stay committed; the rest are released
			rest := td.connections[i+1:]
			td.log.WarnContext(ctx, "transaction commit failed, rolling back uncommitted connections",
				slog.String("connection", conn.name),
				slog.Int("committed", i),
				slog.Int("rolled_back", len(rest)),
				slog.Any("error", err))
			td.rollbackConnections(ctx, rest)
			td.settle(nil, errors.Wrapf(err, "committing transaction on %q", conn.name))
			return
		}
		td.log.DebugContext(ctx, "transaction committed", slog.String("connection", conn.name), slog.String("handle", conn.handle))
	}
	td.settle(result, nil)
}

// rollback marks the transaction rolled back and rolls back every
// connection. The outcome is cause, whatever the adapters return. It panics
// with a TransactionStateError when the outcome is already set.
func (td *TransactionDeferred) rollback(ctx context.Context, cause error) {
	td.mu.Lock()
	switch {
	case td.committed:
		td.mu.Unlock()
		panic(&TransactionStateError{Msg: "cannot rollback when transaction has been committed"})
	case td.rolledBack:
		td.mu.Unlock()
		panic(&TransactionStateError{Msg: "transaction already rolled back"})
	}
	td.rolledBack = true
	td.mu.Unlock()

	td.rollbackConnections(ctx, td.connections)
	td.settle(nil, cause)
}

func (td *TransactionDeferred) rollbackConnections(ctx context.Context, connections []*txConnection) {
	for _, conn := range connections {
		if err := conn.adapter.Rollback(ctx, conn.handle, conn.collections); err != nil {
			td.log.WarnContext(ctx, "transaction rollback failed",
				slog.String("connection", conn.name),
				slog.String("handle", conn.handle),
				slog.Any("error", err))
			continue
		}
		td.log.DebugContext(ctx, "transaction rolled back", slog.String("connection", conn.name), slog.String("handle", conn.handle))
	}
}

func (td *TransactionDeferred) settle(result any, err error) {
	td.future.resolve(result, err)
}

// Exec waits for the transaction outcome: the result passed to done on
// commit, or the error that caused the rollback.
func (td *TransactionDeferred) Exec(ctx context.Context) (any, error) {
	return td.future.Await(ctx)
}

// Committed reports whether the transaction was committed.
func (td *TransactionDeferred) Committed() bool {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.committed
}

// RolledBack reports whether the transaction was rolled back.
func (td *TransactionDeferred) RolledBack() bool {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.rolledBack
}
