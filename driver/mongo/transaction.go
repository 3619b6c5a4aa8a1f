package mongo

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	mdb "go.mongodb.org/mongo-driver/mongo"
)

// mongoTransaction wraps a MongoDB session running a transaction for one
// connection name.
type mongoTransaction struct {
	connection string
	session    mdb.Session
}

// RegisterTransaction starts a session and a transaction on it, and returns
// the handle operations pass as connection to run inside it.
func (a *Adapter) RegisterTransaction(ctx context.Context, connection string, _ []string) (string, error) {
	a.mu.RLock()
	_, known := a.collections[connection]
	a.mu.RUnlock()
	if !known {
		return "", errors.Errorf("mongo: unknown connection %q", connection)
	}
	session, err := a.client.StartSession()
	if err != nil {
		return "", errors.Wrap(err, "mongo: start session")
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return "", errors.Wrap(err, "mongo: start transaction")
	}
	handle := uuid.NewString()
	a.mu.Lock()
	a.txs[handle] = &mongoTransaction{connection: connection, session: session}
	a.mu.Unlock()
	return handle, nil
}

func (a *Adapter) takeTransaction(handle string) (*mongoTransaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.txs[handle]
	if !ok {
		return nil, errors.Errorf("mongo: unknown transaction %q", handle)
	}
	delete(a.txs, handle)
	return tx, nil
}

// Commit commits the transaction and ends the session.
func (a *Adapter) Commit(ctx context.Context, handle string, _ []string) error {
	tx, err := a.takeTransaction(handle)
	if err != nil {
		return err
	}
	defer tx.session.EndSession(ctx)
	return tx.session.CommitTransaction(ctx)
}

// Rollback aborts the transaction and ends the session.
func (a *Adapter) Rollback(ctx context.Context, handle string, _ []string) error {
	tx, err := a.takeTransaction(handle)
	if err != nil {
		return err
	}
	defer tx.session.EndSession(ctx)
	return tx.session.AbortTransaction(ctx)
}
