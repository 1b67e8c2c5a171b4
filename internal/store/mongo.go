package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists snapshots and users in MongoDB.
type MongoStore struct {
	snapshots *mongo.Collection
	users     *mongo.Collection
}

// DialMongo connects to uri and returns a store over the named database.
func DialMongo(ctx context.Context, uri, db string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return NewMongoStore(client.Database(db)), nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		snapshots: db.Collection("snapshots"),
		users:     db.Collection("users"),
	}
}

func (s *MongoStore) Load(ctx context.Context, docID string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.snapshots.FindOne(ctx, bson.D{{Key: "_id", Value: docID}}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *MongoStore) Save(ctx context.Context, snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	filter := bson.D{{Key: "_id", Value: snap.DocID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "text", Value: snap.Text},
		{Key: "rev", Value: snap.Rev},
		{Key: "updated_at", Value: snap.UpdatedAt},
	}}}
	_, err := s.snapshots.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) CreateUser(ctx context.Context, username, passwordHash string) (bool, error) {
	filter := bson.D{{Key: "username", Value: username}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "password", Value: passwordHash}}}}
	res, err := s.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return res.UpsertedCount != 0, nil
}

func (s *MongoStore) LookupUser(ctx context.Context, username string) (string, bool, error) {
	var doc struct {
		Password string `bson:"password"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Password, true, nil
}
