package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "pingme/internal/domain/chat"
	"pingme/internal/infra/storage/storeerr"
)

// ConversationStore keeps direct threads in the conversations collection.
// The sorted participant pair is stored as pair_key with a unique index, so
// concurrent StartDirect calls for the same pair converge on one document.
type ConversationStore struct {
	col *mongo.Collection
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	col := db.Collection("conversations")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}},
	})
	return &ConversationStore{col: col}
}

type conversationDocument struct {
	ID              string    `bson:"_id"`
	PairKey         string    `bson:"pair_key"`
	Participants    []string  `bson:"participants"`
	CreatedAt       time.Time `bson:"created_at"`
	LastMessageAt   time.Time `bson:"last_message_at"`
	LastMessageID   int64     `bson:"last_message_id"`
	LastSenderID    string    `bson:"last_sender_id"`
	LastMessageText string    `bson:"last_message_text"`
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:              d.ID,
		Participants:    append([]string(nil), d.Participants...),
		CreatedAt:       d.CreatedAt,
		LastMessageAt:   d.LastMessageAt,
		LastMessageID:   d.LastMessageID,
		LastSenderID:    d.LastSenderID,
		LastMessageText: d.LastMessageText,
	}
}

func (s *ConversationStore) GetOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*domainchat.Conversation, bool, error) {
	participants := domainchat.NormalizeParticipants([]string{a, b})
	if len(participants) != 2 {
		return nil, false, domainchat.ErrSelfConversation
	}
	pairKey := strings.Join(participants, "|")

	var doc conversationDocument
	err := s.col.FindOne(ctx, bson.M{"pair_key": pairKey}).Decode(&doc)
	if err == nil {
		return doc.toDomain(), false, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, storeerr.Classify(err)
	}

	doc = conversationDocument{
		ID:            uuid.NewString(),
		PairKey:       pairKey,
		Participants:  participants,
		CreatedAt:     now.UTC(),
		LastMessageAt: now.UTC(),
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		// Concurrent creators race on the unique pair_key index; the loser
		// reads the winner's document.
		if mongo.IsDuplicateKeyError(err) {
			var existing conversationDocument
			if err := s.col.FindOne(ctx, bson.M{"pair_key": pairKey}).Decode(&existing); err != nil {
				return nil, false, storeerr.Classify(err)
			}
			return existing.toDomain(), false, nil
		}
		return nil, false, storeerr.Classify(err)
	}
	return doc.toDomain(), true, nil
}

func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, storeerr.Classify(err)
	}
	return doc.toDomain(), nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cur, err := s.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, storeerr.Classify(err)
	}
	defer cur.Close(ctx)

	out := make([]domainchat.Conversation, 0)
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeerr.Classify(err)
		}
		out = append(out, *doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, storeerr.Classify(err)
	}
	return out, nil
}

func (s *ConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

func (s *ConversationStore) ConversationIDsFor(ctx context.Context, userID string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, storeerr.Classify(err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, storeerr.Classify(err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, storeerr.Classify(err)
	}
	return ids, nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, msg domainchat.Message) error {
	// Guard on last_message_id so late arrivals never rewind the preview.
	filter := bson.M{"_id": msg.ConversationID, "last_message_id": bson.M{"$lt": msg.ID}}
	update := bson.M{"$set": bson.M{
		"last_message_at":   msg.CreatedAt.UTC(),
		"last_message_id":   msg.ID,
		"last_sender_id":    msg.SenderID,
		"last_message_text": snippet(msg.Body, 500),
	}}
	if _, err := s.col.UpdateOne(ctx, filter, update); err != nil {
		return storeerr.Classify(err)
	}
	return nil
}

func snippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
