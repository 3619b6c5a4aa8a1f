package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// postgresTransaction wraps a pgx.Tx opened for one connection name.
type postgresTransaction struct {
	connection  string
	transaction pgx.Tx
}

// RegisterTransaction begins a transaction and returns its handle. Passing
// the handle as connection runs operations inside the transaction.
func (a *Adapter) RegisterTransaction(ctx context.Context, connection string, _ []string) (string, error) {
	a.mu.RLock()
	_, known := a.collections[connection]
	a.mu.RUnlock()
	if !known {
		return "", errors.Errorf("postgres: unknown connection %q", connection)
	}
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", errors.Wrap(err, "postgres: begin")
	}
	handle := uuid.NewString()
	a.mu.Lock()
	a.txs[handle] = &postgresTransaction{connection: connection, transaction: tx}
	a.mu.Unlock()
	return handle, nil
}

func (a *Adapter) takeTransaction(handle string) (*postgresTransaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.txs[handle]
	if !ok {
		return nil, errors.Errorf("postgres: unknown transaction %q", handle)
	}
	delete(a.txs, handle)
	return tx, nil
}

// Commit finalizes the transaction, making all changes permanent.
func (a *Adapter) Commit(ctx context.Context, handle string, _ []string) error {
	tx, err := a.takeTransaction(handle)
	if err != nil {
		return err
	}
	return tx.transaction.Commit(ctx)
}

// Rollback aborts the transaction, discarding all changes made during it.
func (a *Adapter) Rollback(ctx context.Context, handle string, _ []string) error {
	tx, err := a.takeTransaction(handle)
	if err != nil {
		return err
	}
	return tx.transaction.Rollback(ctx)
}
