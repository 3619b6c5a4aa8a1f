// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the contract storage adapters implement, plus the
// optional capabilities the engine detects at runtime.
package core

import "context"

// CollectionDescriptor is what an adapter learns about a collection when its
// connection is registered. Names are column names.
type CollectionDescriptor struct {
	Identity      string
	TableName     string
	PrimaryKey    string
	AutoIncrement bool
	Columns       []string
}

// Adapter defines the contract for storage backends supported by the ORM.
//
// Every method receives the connection argument as either a registered
// connection name or a transaction handle returned by
// Transactional.RegisterTransaction. Collection is the collection identity.
// Criteria and records are in column space.
type Adapter interface {
	// RegisterConnection announces a connection and the collections bound to it.
	RegisterConnection(ctx context.Context, connection string, collections []CollectionDescriptor) error

	// Find returns the records matching criteria, honouring where, sort, skip,
	// limit and select. Joins are ignored.
	Find(ctx context.Context, connection, collection string, criteria *Criteria) ([]Record, error)
	// Create persists one record and returns it as stored.
	Create(ctx context.Context, connection, collection string, values Record) (Record, error)
	// Update applies values to every record matching criteria and returns the
	// updated records.
	Update(ctx context.Context, connection, collection string, criteria *Criteria, values Record) ([]Record, error)
	// Destroy removes every record matching criteria.
	Destroy(ctx context.Context, connection, collection string, criteria *Criteria) error
	// Count returns the number of records matching criteria.
	Count(ctx context.Context, connection, collection string, criteria *Criteria) (int64, error)
}

// Joiner is implemented by adapters that resolve criteria.Joins natively.
//
// Returned parent records carry each join alias populated: a []Record for
// collection aliases, a Record (or nil) for model aliases.
type Joiner interface {
	Join(ctx context.Context, connection, collection string, criteria *Criteria) ([]Record, error)
}

// Transactional is implemented by adapters that support transactions.
//
// RegisterTransaction opens a transaction covering the given collections on
// connection and returns its handle; subsequent calls passing the handle as
// the connection argument run inside the transaction.
type Transactional interface {
	RegisterTransaction(ctx context.Context, connection string, collections []string) (string, error)
	Commit(ctx context.Context, handle string, collections []string) error
	Rollback(ctx context.Context, handle string, collections []string) error
}
