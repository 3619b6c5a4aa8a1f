package mongo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pmkwilliams/offshore/core"
)

// CountersCollection stores the sequences of auto-increment primary keys.
const CountersCollection = "offshore_counters"

// Adapter runs offshore operations against one MongoDB database.
type Adapter struct {
	client   *mdb.Client
	database string

	mu          sync.RWMutex
	collections map[string]map[string]core.CollectionDescriptor
	txs         map[string]*mongoTransaction
}

var (
	_ core.Adapter       = (*Adapter)(nil)
	_ core.Transactional = (*Adapter)(nil)
)

// New connects to uri and uses database for every collection.
//
// Example:
//
//	adapter, err := mongo.New(ctx, "mongodb://localhost:27017", "app")
//	registry := core.New(core.WithConnection("default", adapter))
func New(ctx context.Context, uri, database string) (*Adapter, error) {
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mdb.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: connect")
	}
	return NewWithClient(client, database), nil
}

// NewWithClient wraps a connected client.
func NewWithClient(client *mdb.Client, database string) *Adapter {
	return &Adapter{
		client:      client,
		database:    database,
		collections: make(map[string]map[string]core.CollectionDescriptor),
		txs:         make(map[string]*mongoTransaction),
	}
}

// Close disconnects the client.
func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// RegisterConnection records the collections of connection and checks the
// server is reachable.
func (a *Adapter) RegisterConnection(ctx context.Context, connection string, collections []core.CollectionDescriptor) error {
	if a.database == "" {
		return errors.New("mongo: database name is empty")
	}
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
	return errors.Wrap(a.client.Ping(ctx, nil), "mongo: ping")
}

// resolve returns the collection of a connection name or transaction handle
// and a context carrying the transaction session, if any.
func (a *Adapter) resolve(ctx context.Context, connection, collection string) (context.Context, *mdb.Collection, core.CollectionDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if tx, ok := a.txs[connection]; ok {
		ctx = mdb.NewSessionContext(ctx, tx.session)
		connection = tx.connection
	}
	desc, ok := a.collections[connection][collection]
	if !ok {
		return ctx, nil, desc, errors.Errorf("mongo: unknown collection %q on %q", collection, connection)
	}
	name := desc.TableName
	if name == "" {
		name = desc.Identity
	}
	return ctx, a.client.Database(a.database).Collection(name), desc, nil
}

func decodeAll(ctx context.Context, cursor *mdb.Cursor) ([]core.Record, error) {
	defer cursor.Close(ctx)
	resultList := []core.Record{}
	for cursor.Next(ctx) {
		var document bson.M
		if err := cursor.Decode(&document); err != nil {
			return nil, err
		}
		resultList = append(resultList, core.Record(document))
	}
	return resultList, cursor.Err()
}

// Find runs a find, or an aggregation for aggregate criteria.
func (a *Adapter) Find(ctx context.Context, connection, collection string, criteria *core.Criteria) ([]core.Record, error) {
	ctx, coll, _, err := a.resolve(ctx, connection, collection)
	if err != nil {
		return nil, err
	}
	filter, err := criteriaFilter(criteria)
	if err != nil {
		return nil, err
	}
	var cursor *mdb.Cursor
	if aggregated(criteria) {
		cursor, err = coll.Aggregate(ctx, aggregatePipeline(filter, criteria))
	} else {
		cursor, err = coll.Find(ctx, filter, findOptions(criteria))
	}
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cursor)
}

// nextSequence increments and returns the counter of collection.
func (a *Adapter) nextSequence(ctx context.Context, collection string) (int64, error) {
	counters := a.client.Database(a.database).Collection(CountersCollection)
	opts := mopt.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(mopt.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := counters.FindOneAndUpdate(ctx, bson.M{"_id": collection}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&counter)
	if err != nil {
		return 0, errors.Wrapf(err, "mongo: next sequence of %s", collection)
	}
	return counter.Seq, nil
}

// Create inserts one document. A nil auto-increment primary key is taken
// from the counters collection.
func (a *Adapter) Create(ctx context.Context, connection, collection string, values core.Record) (core.Record, error) {
	ctx, coll, desc, err := a.resolve(ctx, connection, collection)
	if err != nil {
		return nil, err
	}
	document := bson.M{}
	for k, v := range values {
		document[k] = v
	}
	if desc.PrimaryKey != "" && document[desc.PrimaryKey] == nil && desc.AutoIncrement {
		seq, err := a.nextSequence(ctx, collection)
		if err != nil {
			return nil, err
		}
		document[desc.PrimaryKey] = seq
	}
	result, err := coll.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	if _, ok := document["_id"]; !ok {
		document["_id"] = result.InsertedID
	}
	return core.Record(document), nil
}

// Update sets values on every matching document and returns them as
// updated. Documents are selected by primary key first so the returned set
// is the one that matched before the update.
func (a *Adapter) Update(ctx context.Context, connection, collection string, criteria *core.Criteria, values core.Record) ([]core.Record, error) {
	ctx, coll, desc, err := a.resolve(ctx, connection, collection)
	if err != nil {
		return nil, err
	}
	filter, err := criteriaFilter(criteria)
	if err != nil {
		return nil, err
	}
	pk := desc.PrimaryKey
	if pk == "" {
		pk = "_id"
	}
	cursor, err := coll.Find(ctx, filter, mopt.Find().SetProjection(bson.M{pk: 1}))
	if err != nil {
		return nil, err
	}
	matched, err := decodeAll(ctx, cursor)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return []core.Record{}, nil
	}
	keys := make(bson.A, len(matched))
	for i, m := range matched {
		keys[i] = m[pk]
	}
	byKey := bson.M{pk: bson.M{"$in": keys}}
	if _, err := coll.UpdateMany(ctx, byKey, bson.M{"$set": bson.M(values)}); err != nil {
		return nil, err
	}
	cursor, err = coll.Find(ctx, byKey)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cursor)
}

// Destroy deletes every matching document.
func (a *Adapter) Destroy(ctx context.Context, connection, collection string, criteria *core.Criteria) error {
	ctx, coll, _, err := a.resolve(ctx, connection, collection)
	if err != nil {
		return err
	}
	filter, err := criteriaFilter(criteria)
	if err != nil {
		return err
	}
	_, err = coll.DeleteMany(ctx, filter)
	return err
}

// Count counts the matching documents.
func (a *Adapter) Count(ctx context.Context, connection, collection string, criteria *core.Criteria) (int64, error) {
	ctx, coll, _, err := a.resolve(ctx, connection, collection)
	if err != nil {
		return 0, err
	}
	filter, err := criteriaFilter(criteria)
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, filter)
}
