package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aluiziolira/go-scrape-cars/models"
)

const mongoCollection = "car_deals"

// mongoDoc is the document shape; the listing fields sit at the top level.
type mongoDoc struct {
	models.Listing `bson:",inline"`
	BatchID        string    `bson:"batch_id"`
	StoredAt       time.Time `bson:"stored_at"`
}

// Mongo stores listings in a collection with a unique index on url.
type Mongo struct {
	client *mongo.Client
	deals  *mongo.Collection
}

// NewMongo connects, pings and ensures the unique url index.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	deals := client.Database(database).Collection(mongoCollection)
	_, err = deals.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create url index: %w", err)
	}
	return &Mongo{client: client, deals: deals}, nil
}

func (m *Mongo) Exists(ctx context.Context, url string) (bool, error) {
	err := m.deals.FindOne(ctx, bson.M{"url": url}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find deal: %w", err)
	}
	return true, nil
}

func (m *Mongo) Upsert(ctx context.Context, l *models.Listing, batchID string) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}
	doc := mongoDoc{Listing: *l, BatchID: batchID, StoredAt: time.Now().UTC()}
	res, err := m.deals.UpdateOne(ctx,
		bson.M{"url": l.URL},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert deal: %w", err)
	}
	return res.UpsertedCount == 1, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
