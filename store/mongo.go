package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

type batchDoc struct {
	ID     string   `bson:"_id"`
	CRSID  int      `bson:"crs_id"`
	Fields []string `bson:"fields"`
}

type parcelDoc struct {
	BatchID    string         `bson:"batch_id"`
	ID         int            `bson:"id"`
	Geometry   []byte         `bson:"geometry,omitempty"`
	Attributes map[string]any `bson:"attributes"`
}

// Mongo stores parcels as documents with WKB geometry. Transactions use
// client sessions, which need a replica set or sharded cluster.
type Mongo struct {
	client  *mongo.Client
	batches *mongo.Collection
	parcels *mongo.Collection
	batchID string
}

func OpenMongo(ctx context.Context, uri, database, batchID string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	db := client.Database(database)
	m := &Mongo{
		client:  client,
		batches: db.Collection("parcel_batches"),
		parcels: db.Collection("parcels"),
		batchID: batchID,
	}
	_, err = m.parcels.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "batch_id", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating parcel index: %w", err)
	}
	return m, nil
}

func (m *Mongo) Name() string { return "mongo:" + m.batchID }

func (m *Mongo) filter(id int) bson.M {
	return bson.M{"batch_id": m.batchID, "id": id}
}

// Import replaces the stored batch with batch.
func (m *Mongo) Import(ctx context.Context, batch *parcel.Batch) error {
	if _, err := m.parcels.DeleteMany(ctx, bson.M{"batch_id": m.batchID}); err != nil {
		return err
	}
	meta := batchDoc{ID: m.batchID, CRSID: batch.CRSID, Fields: withIDField(batch.Fields)}
	_, err := m.batches.ReplaceOne(ctx, bson.M{"_id": m.batchID}, meta, options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	docs := make([]any, 0, batch.Len())
	for _, r := range batch.Records {
		doc, err := m.toDoc(r)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}
	_, err = m.parcels.InsertMany(ctx, docs)
	return err
}

func (m *Mongo) toDoc(r parcel.Record) (parcelDoc, error) {
	g, err := encodeWKB(r.Geometry)
	if err != nil {
		return parcelDoc{}, fmt.Errorf("record %d: %w", r.ID, err)
	}
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return parcelDoc{BatchID: m.batchID, ID: r.ID, Geometry: g, Attributes: attrs}, nil
}

func (m *Mongo) Iterate(ctx context.Context, fields []string, fn func(parcel.Record) error) error {
	cur, err := m.parcels.Find(ctx, bson.M{"batch_id": m.batchID},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc parcelDoc
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		g, err := decodeWKB(doc.Geometry)
		if err != nil {
			return fmt.Errorf("record %d: %w", doc.ID, err)
		}
		rec := parcel.Record{ID: doc.ID, Geometry: g, Attributes: selectFields(doc.Attributes, fields)}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (m *Mongo) Count(ctx context.Context) (int, error) {
	n, err := m.parcels.CountDocuments(ctx, bson.M{"batch_id": m.batchID})
	return int(n), err
}

func (m *Mongo) meta(ctx context.Context) (batchDoc, error) {
	var doc batchDoc
	err := m.batches.FindOne(ctx, bson.M{"_id": m.batchID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return doc, fmt.Errorf("%w: batch %s", ErrNotFound, m.batchID)
	}
	return doc, err
}

func (m *Mongo) FieldNames(ctx context.Context) ([]string, error) {
	doc, err := m.meta(ctx)
	return doc.Fields, err
}

func (m *Mongo) CRSID(ctx context.Context) (int, error) {
	doc, err := m.meta(ctx)
	return doc.CRSID, err
}

func (m *Mongo) Begin(ctx context.Context) (Tx, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, err
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, err
	}
	return &mongoTx{store: m, sess: sess}, nil
}

func (m *Mongo) Close(ctx context.Context) error { return m.client.Disconnect(ctx) }

type mongoTx struct {
	store *Mongo
	sess  mongo.Session
	done  bool
}

func (t *mongoTx) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *mongoTx) update(ctx context.Context, id int, change bson.M) error {
	res, err := t.store.parcels.UpdateOne(t.ctx(ctx), t.store.filter(id), change)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (t *mongoTx) UpdateGeometry(ctx context.Context, id int, g *geom.MultiPolygon) error {
	data, err := encodeWKB(g)
	if err != nil {
		return err
	}
	if data == nil {
		return t.update(ctx, id, bson.M{"$unset": bson.M{"geometry": ""}})
	}
	return t.update(ctx, id, bson.M{"$set": bson.M{"geometry": data}})
}

func (t *mongoTx) UpdateAttributes(ctx context.Context, id int, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return t.update(ctx, id, bson.M{"$set": bson.M{"attributes": attrs}})
}

func (t *mongoTx) Insert(ctx context.Context, rec parcel.Record) (int, error) {
	sctx := t.ctx(ctx)
	if rec.ID == 0 {
		var last parcelDoc
		err := t.store.parcels.FindOne(sctx, bson.M{"batch_id": t.store.batchID},
			options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}})).Decode(&last)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, err
		}
		rec.ID = last.ID + 1
	}
	doc, err := t.store.toDoc(rec)
	if err != nil {
		return 0, err
	}
	if _, err := t.store.parcels.InsertOne(sctx, doc); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (t *mongoTx) Delete(ctx context.Context, id int) error {
	res, err := t.store.parcels.DeleteOne(t.ctx(ctx), t.store.filter(id))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (t *mongoTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	defer t.sess.EndSession(ctx)
	t.done = true
	return t.sess.CommitTransaction(ctx)
}

func (t *mongoTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}
