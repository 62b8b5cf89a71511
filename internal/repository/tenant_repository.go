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

type tenantRepository struct {
	collection *mongo.Collection
}

func NewTenantRepository(db *mongo.Database) TenantRepository {
	return &tenantRepository{
		collection: db.Collection("tenants"),
	}
}

func (r *tenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, tenant)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePhoneNumberID
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *tenantRepository) findOne(ctx context.Context, filter bson.M) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.collection.FindOne(ctx, filter).Decode(&tenant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

func (r *tenantRepository) FindByTenantID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID})
}

func (r *tenantRepository) FindActiveByTenantID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "is_active": true})
}

func (r *tenantRepository) FindActiveByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.Tenant, error) {
	return r.findOne(ctx, bson.M{"whatsapp.phone_number_id": phoneNumberID, "is_active": true})
}

func tenantFilter(isActive *bool) bson.M {
	filter := bson.M{}
	if isActive != nil {
		filter["is_active"] = *isActive
	}
	return filter
}

func (r *tenantRepository) List(ctx context.Context, f TenantFilter) ([]*domain.Tenant, int64, error) {
	page := f.Page.Normalize()
	filter := tenantFilter(f.IsActive)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(page.Limit).
		SetSkip(page.Skip)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	tenants := make([]*domain.Tenant, 0)
	if err := cursor.All(ctx, &tenants); err != nil {
		return nil, 0, fmt.Errorf("failed to decode tenants: %w", err)
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return tenants, total, nil
}

func (r *tenantRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	tenant.UpdatedAt = time.Now().UTC()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"tenant_id": tenant.TenantID}, tenant)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePhoneNumberID
		}
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *tenantRepository) Deactivate(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	update := bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tenant domain.Tenant
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"tenant_id": tenantID}, update, opts).Decode(&tenant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to deactivate tenant: %w", err)
	}
	return &tenant, nil
}

func (r *tenantRepository) Count(ctx context.Context, isActive *bool) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, tenantFilter(isActive))
	if err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return n, nil
}
