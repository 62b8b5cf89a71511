package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/wa-commerce/internal/domain"
)

type conversationRepository struct {
	collection *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) ConversationRepository {
	return &conversationRepository{
		collection: db.Collection("conversations"),
	}
}

func conversationFilter(tenantID, phoneNumber string) bson.M {
	return bson.M{"tenant_id": tenantID, "phone_number": phoneNumber}
}

func (r *conversationRepository) GetOrCreate(ctx context.Context, tenantID, phoneNumber string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	filter := conversationFilter(tenantID, phoneNumber)
	update := bson.M{
		"$setOnInsert": bson.M{
			"state":      domain.StateNew,
			"created_at": now,
		},
		"$set": bson.M{
			"last_message_at": now,
			"updated_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv domain.Conversation
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if err != nil {
		// Two concurrent upserts for a brand-new pair: the loser reads the winner's document.
		if mongo.IsDuplicateKeyError(err) {
			return r.Get(ctx, tenantID, phoneNumber)
		}
		return nil, fmt.Errorf("failed to get or create conversation: %w", err)
	}

	return &conv, nil
}

func (r *conversationRepository) Get(ctx context.Context, tenantID, phoneNumber string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.collection.FindOne(ctx, conversationFilter(tenantID, phoneNumber)).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Save overwrites the whole document. Callers serialize writes per conversation key.
func (r *conversationRepository) Save(ctx context.Context, conv *domain.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, conversationFilter(conv.TenantID, conv.PhoneNumber), conv, opts)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) FindByPaymentLinkID(ctx context.Context, tenantID, paymentLinkID string) (*domain.Conversation, error) {
	if paymentLinkID == "" {
		return nil, ErrConversationNotFound
	}

	var conv domain.Conversation
	filter := bson.M{"tenant_id": tenantID, "payment_link_id": paymentLinkID}
	err := r.collection.FindOne(ctx, filter).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to find conversation by payment link: %w", err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListByTenant(ctx context.Context, tenantID string, page Page) ([]*domain.Conversation, error) {
	page = page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}}).
		SetLimit(page.Limit).
		SetSkip(page.Skip)

	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]*domain.Conversation, 0)
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) CountByState(ctx context.Context, tenantID string) (map[domain.ConversationState]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "tenant_id", Value: tenantID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversation states: %w", err)
	}

	var rows []struct {
		State domain.ConversationState `bson:"_id"`
		Count int64                    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode conversation states: %w", err)
	}

	counts := make(map[domain.ConversationState]int64, len(domain.AllConversationStates))
	for _, s := range domain.AllConversationStates {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

func (r *conversationRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}
