package profile

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "profiles"

type repoMongo struct{ coll *mongo.Collection }

// NewRepoMongo stores profiles as documents, one per identity, keyed by id.
func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection(mongoCollection)}
}

// EnsureMongoIndexes creates the directory index used by ListByRole.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(mongoCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "role", Value: 1}, {Key: "displayName", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create profile indexes: %w", err)
	}
	return nil
}

func (r *repoMongo) Create(ctx context.Context, p *Profile) error {
	_, err := r.coll.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrExists
	}
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.withDefaults()
	return &p, nil
}

func (r *repoMongo) Update(ctx context.Context, p *Profile) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	filter := bson.M{"role": role}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "displayName", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var items []*Profile
	for cur.Next(ctx) {
		var p Profile
		if err := cur.Decode(&p); err != nil {
			return nil, 0, err
		}
		p.withDefaults()
		items = append(items, &p)
	}
	return items, int(total), cur.Err()
}
