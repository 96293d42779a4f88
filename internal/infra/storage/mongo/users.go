package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pingme/internal/domain/user"
	"pingme/internal/infra/storage/storeerr"
)

type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	col := db.Collection("users")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "handle", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return &UserRepository{col: col}
}

type userDocument struct {
	ID             string    `bson:"_id"`
	Handle         string    `bson:"handle"`
	CredentialHash string    `bson:"credential_hash"`
	CreatedAt      time.Time `bson:"created_at"`
	LastSeenAt     time.Time `bson:"last_seen_at"`
}

func (d userDocument) toDomain() *user.User {
	return &user.User{
		ID:             d.ID,
		Handle:         d.Handle,
		CredentialHash: d.CredentialHash,
		CreatedAt:      d.CreatedAt,
		LastSeenAt:     d.LastSeenAt,
	}
}

func (r *UserRepository) ByID(ctx context.Context, id string) (*user.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, user.ErrNotFound
		}
		return nil, storeerr.Classify(err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) ByHandle(ctx context.Context, handle string) (*user.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"handle": user.NormalizeHandle(handle)}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, user.ErrNotFound
		}
		return nil, storeerr.Classify(err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	doc := userDocument{
		ID:             u.ID,
		Handle:         u.Handle,
		CredentialHash: u.CredentialHash,
		CreatedAt:      u.CreatedAt,
		LastSeenAt:     u.LastSeenAt,
	}
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.ErrHandleTaken
		}
		return storeerr.Classify(err)
	}
	return nil
}
