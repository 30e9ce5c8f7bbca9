package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/idfed/domain"
)

// AuthSessionRepositoryMongo implements domain.AuthSessionRepository.
//
// Consume is a conditional UpdateOne matching consumed=false, so exactly one
// of any set of racing consumers observes ModifiedCount==1. A TTL index on
// expires_at evicts stale documents; expiry is still checked in every query
// filter because Mongo's TTL sweep only runs periodically.
type AuthSessionRepositoryMongo struct {
	collection *mongo.Collection
}

// NewAuthSessionRepositoryMongo creates the repository and ensures its
// indexes: a unique state index and the expires_at TTL index.
func NewAuthSessionRepositoryMongo(ctx context.Context, db *mongo.Database) (*AuthSessionRepositoryMongo, error) {
	repo := &AuthSessionRepositoryMongo{collection: db.Collection(BrokerAuthSessionsCollection)}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", BrokerAuthSessionsCollection, err)
	}
	return repo, nil
}

func (r *AuthSessionRepositoryMongo) Create(ctx context.Context, session *domain.BrokerAuthSession) error {
	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: state already active", domain.ErrInternal)
		}
		log.Error().Err(err).Str("session_id", session.ID).Msg("Error storing broker auth session")
		return fmt.Errorf("%w: failed to store broker session: %v", domain.ErrInternal, err)
	}
	return nil
}

func (r *AuthSessionRepositoryMongo) FindByState(ctx context.Context, state string) (*domain.BrokerAuthSession, error) {
	filter := bson.M{
		"state":      state,
		"consumed":   false,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}

	var session domain.BrokerAuthSession
	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error retrieving broker auth session by state")
		return nil, fmt.Errorf("%w: session lookup failed: %v", domain.ErrInternal, err)
	}
	return &session, nil
}

func (r *AuthSessionRepositoryMongo) Consume(ctx context.Context, id string) error {
	filter := bson.M{
		"_id":        id,
		"consumed":   false,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	update := bson.M{"$set": bson.M{"consumed": true}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Error consuming broker auth session")
		return fmt.Errorf("%w: session consume failed: %v", domain.ErrInternal, err)
	}
	if result.ModifiedCount == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func (r *AuthSessionRepositoryMongo) DeleteExpired(ctx context.Context) error {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("%w: session sweep failed: %v", domain.ErrInternal, err)
	}
	if result.DeletedCount > 0 {
		log.Debug().Int64("count", result.DeletedCount).Msg("Swept expired broker auth sessions")
	}
	return nil
}

var _ domain.AuthSessionRepository = (*AuthSessionRepositoryMongo)(nil)
