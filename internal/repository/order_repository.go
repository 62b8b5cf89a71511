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

type orderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) OrderRepository {
	return &orderRepository{
		collection: db.Collection("orders"),
	}
}

var awaitingPayment = bson.M{"$in": []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPaymentPending,
}}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, order)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) findOne(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var order domain.Order
	err := r.collection.FindOne(ctx, filter).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *orderRepository) FindByPaymentLinkID(ctx context.Context, paymentLinkID string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"payment.payment_link_id": paymentLinkID})
}

func (r *orderRepository) FindByOrderID(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "order_id": orderID})
}

// conditionalUpdate applies update only when filter still matches. When it does not,
// the current order is returned with applied=false.
func (r *orderRepository) conditionalUpdate(ctx context.Context, filter, update bson.M, lookup bson.M) (*domain.Order, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order domain.Order
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order)
	if err == nil {
		return &order, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to update order: %w", err)
	}

	current, err := r.findOne(ctx, lookup)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, paymentLinkID, paymentID, method string, paidAt time.Time) (*domain.Order, bool, error) {
	filter := bson.M{
		"payment.payment_link_id": paymentLinkID,
		"status":                  awaitingPayment,
	}
	update := bson.M{
		"$set": bson.M{
			"status":             domain.OrderStatusPaid,
			"payment.status":     domain.PaymentStatusPaid,
			"payment.payment_id": paymentID,
			"payment.method":     method,
			"payment.paid_at":    paidAt.UTC(),
			"updated_at":         time.Now().UTC(),
		},
	}
	return r.conditionalUpdate(ctx, filter, update, bson.M{"payment.payment_link_id": paymentLinkID})
}

func (r *orderRepository) ClosePayment(ctx context.Context, paymentLinkID string, status domain.PaymentStatus) (*domain.Order, bool, error) {
	filter := bson.M{
		"payment.payment_link_id": paymentLinkID,
		"status":                  awaitingPayment,
	}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.OrderStatusCancelled,
			"payment.status": status,
			"updated_at":     time.Now().UTC(),
		},
	}
	return r.conditionalUpdate(ctx, filter, update, bson.M{"payment.payment_link_id": paymentLinkID})
}

func (r *orderRepository) MarkRefunded(ctx context.Context, tenantID, orderID, refundID string) (*domain.Order, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"order_id":  orderID,
		"status":    domain.OrderStatusPaid,
	}
	update := bson.M{
		"$set": bson.M{
			"status":            domain.OrderStatusRefunded,
			"payment.status":    domain.PaymentStatusRefunded,
			"payment.refund_id": refundID,
			"updated_at":        time.Now().UTC(),
		},
	}

	order, applied, err := r.conditionalUpdate(ctx, filter, update, bson.M{"tenant_id": tenantID, "order_id": orderID})
	if err != nil {
		return nil, err
	}
	if !applied {
		return order, ErrOrderStateConflict
	}
	return order, nil
}

func (r *orderRepository) ListByTenant(ctx context.Context, tenantID string, page Page) ([]*domain.Order, error) {
	page = page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(page.Limit).
		SetSkip(page.Skip)

	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*domain.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) Stats(ctx context.Context, tenantID string) (*domain.OrderStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "tenant_id", Value: tenantID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "revenue", Value: bson.D{{Key: "$sum", Value: "$total_minor"}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate order stats: %w", err)
	}

	var rows []struct {
		Status  domain.OrderStatus `bson:"_id"`
		Count   int64              `bson:"count"`
		Revenue int64              `bson:"revenue"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode order stats: %w", err)
	}

	stats := &domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int64, len(domain.AllOrderStatuses))}
	for _, s := range domain.AllOrderStatuses {
		stats.ByStatus[s] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalOrders += row.Count
		if row.Status.CountsTowardRevenue() {
			stats.RevenueMinor += row.Revenue
		}
	}
	return stats, nil
}

func (r *orderRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}
