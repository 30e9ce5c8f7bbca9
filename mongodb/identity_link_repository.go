package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/idfed/domain"
)

// IdentityLinkRepositoryMongo implements domain.IdentityLinkRepository.
//
// Both uniqueness rules live in the indexes: a provider subject maps to at
// most one user, and a user holds at most one link per provider. Racing
// writers lose with a duplicate key error which surfaces as ErrDuplicateLink.
type IdentityLinkRepositoryMongo struct {
	collection *mongo.Collection
}

// NewIdentityLinkRepositoryMongo creates the repository and ensures the
// uniqueness indexes.
func NewIdentityLinkRepositoryMongo(ctx context.Context, db *mongo.Database) (*IdentityLinkRepositoryMongo, error) {
	repo := &IdentityLinkRepositoryMongo{collection: db.Collection(IdentityLinksCollection)}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "subject", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", IdentityLinksCollection, err)
	}
	return repo, nil
}

func (r *IdentityLinkRepositoryMongo) Create(ctx context.Context, link *domain.IdentityProviderLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctx, link); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateLink
		}
		log.Error().Err(err).Str("provider_id", link.ProviderID).Msg("Error storing identity link")
		return err
	}
	return nil
}

func (r *IdentityLinkRepositoryMongo) FindBySubject(ctx context.Context, providerID, subject string) (*domain.IdentityProviderLink, error) {
	var link domain.IdentityProviderLink
	err := r.collection.FindOne(ctx, bson.M{"provider_id": providerID, "subject": subject}).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("provider_id", providerID).Msg("Error retrieving identity link by subject")
		return nil, err
	}
	return &link, nil
}

func (r *IdentityLinkRepositoryMongo) FindByUser(ctx context.Context, providerID, userID string) (*domain.IdentityProviderLink, error) {
	var link domain.IdentityProviderLink
	err := r.collection.FindOne(ctx, bson.M{"provider_id": providerID, "user_id": userID}).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("provider_id", providerID).Str("user_id", userID).Msg("Error retrieving identity link by user")
		return nil, err
	}
	return &link, nil
}

func (r *IdentityLinkRepositoryMongo) ListByUser(ctx context.Context, userID string) ([]*domain.IdentityProviderLink, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Error listing identity links")
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []*domain.IdentityProviderLink
	if err := cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (r *IdentityLinkRepositoryMongo) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error deleting identity link")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.IdentityLinkRepository = (*IdentityLinkRepositoryMongo)(nil)
