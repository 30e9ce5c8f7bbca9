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

// IdentityProviderRepositoryMongo implements domain.IdentityProviderRepository.
type IdentityProviderRepositoryMongo struct {
	collection *mongo.Collection
}

// NewIdentityProviderRepositoryMongo creates the repository and ensures the
// (realm_id, alias) uniqueness index.
func NewIdentityProviderRepositoryMongo(ctx context.Context, db *mongo.Database) (*IdentityProviderRepositoryMongo, error) {
	repo := &IdentityProviderRepositoryMongo{collection: db.Collection(IdentityProvidersCollection)}

	indexes := []mongo.IndexModel{
		{
			// Alias is unique within its realm.
			Keys:    bson.D{{Key: "realm_id", Value: 1}, {Key: "alias", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "realm_id", Value: 1}, {Key: "is_enabled", Value: 1}},
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", IdentityProvidersCollection, err)
	}
	return repo, nil
}

func (r *IdentityProviderRepositoryMongo) Create(ctx context.Context, idp *domain.IdentityProvider) error {
	if idp.ID == "" {
		idp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if idp.CreatedAt.IsZero() {
		idp.CreatedAt = now
	}
	idp.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, idp); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("identity provider alias %q already exists in realm %q", idp.Alias, idp.RealmID)
		}
		log.Error().Err(err).Str("alias", idp.Alias).Msg("Error storing identity provider")
		return err
	}
	return nil
}

func (r *IdentityProviderRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.IdentityProvider, error) {
	var idp domain.IdentityProvider
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&idp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error retrieving identity provider by id")
		return nil, err
	}
	return &idp, nil
}

func (r *IdentityProviderRepositoryMongo) GetByAlias(ctx context.Context, realmID, alias string) (*domain.IdentityProvider, error) {
	var idp domain.IdentityProvider
	err := r.collection.FindOne(ctx, bson.M{"realm_id": realmID, "alias": alias}).Decode(&idp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("realm", realmID).Str("alias", alias).Msg("Error retrieving identity provider by alias")
		return nil, err
	}
	return &idp, nil
}

func (r *IdentityProviderRepositoryMongo) List(ctx context.Context, realmID string, onlyEnabled bool) ([]*domain.IdentityProvider, error) {
	filter := bson.M{"realm_id": realmID}
	if onlyEnabled {
		filter["is_enabled"] = true
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "alias", Value: 1}}))
	if err != nil {
		log.Error().Err(err).Str("realm", realmID).Msg("Error listing identity providers")
		return nil, err
	}
	defer cursor.Close(ctx)

	var idps []*domain.IdentityProvider
	if err := cursor.All(ctx, &idps); err != nil {
		return nil, err
	}
	return idps, nil
}

func (r *IdentityProviderRepositoryMongo) Update(ctx context.Context, idp *domain.IdentityProvider) error {
	if idp.ID == "" {
		return errors.New("identity provider id cannot be empty for update")
	}
	idp.UpdatedAt = time.Now().UTC()

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": idp.ID}, idp)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("identity provider alias %q already exists in realm %q", idp.Alias, idp.RealmID)
		}
		log.Error().Err(err).Str("id", idp.ID).Msg("Error updating identity provider")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *IdentityProviderRepositoryMongo) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error deleting identity provider")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.IdentityProviderRepository = (*IdentityProviderRepositoryMongo)(nil)
