package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// OrderRepo persists marketplace sales. etsy_receipt_id carries a unique
// index making order ingestion idempotent across overlapping sync runs.
type OrderRepo struct{ Pool PgxPool }

func NewOrderRepo(p PgxPool) *OrderRepo { return &OrderRepo{Pool: p} }

const orderColumns = `id, sticker_id, etsy_order_id, etsy_receipt_id, status,
	quantity, unit_price, total_amount, pricing_tier_at_sale, customer_data,
	fulfillment_provider, fulfillment_order_id, fulfillment_attempts,
	fulfillment_last_error, created_at, shipped_at, delivered_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.StickerID, &o.EtsyOrderID, &o.EtsyReceiptID, &o.Status,
		&o.Quantity, &o.UnitPrice, &o.TotalAmount, &o.PricingTierAtSale, &o.CustomerData,
		&o.FulfillmentProvider, &o.FulfillmentOrderID, &o.FulfillmentAttempts,
		&o.FulfillmentLastError, &o.CreatedAt, &o.ShippedAt, &o.DeliveredAt)
	return o, err
}

// Insert stores a new order. A receipt already present surfaces as
// domain.ErrConflict; pricing_tier_at_sale is frozen here and never
// updated afterwards.
func (r *OrderRepo) Insert(ctx domain.Context, o domain.Order) (string, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Insert")
	defer span.End()
	id := o.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO orders (id, sticker_id, etsy_order_id, etsy_receipt_id, status,
		quantity, unit_price, total_amount, pricing_tier_at_sale, customer_data,
		fulfillment_provider, fulfillment_order_id, fulfillment_attempts,
		fulfillment_last_error, created_at, shipped_at, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := r.Pool.Exec(ctx, q, id, o.StickerID, o.EtsyOrderID, o.EtsyReceiptID, o.Status,
		o.Quantity, o.UnitPrice, o.TotalAmount, o.PricingTierAtSale, o.CustomerData,
		o.FulfillmentProvider, o.FulfillmentOrderID, o.FulfillmentAttempts,
		o.FulfillmentLastError, created, o.ShippedAt, o.DeliveredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("op=orders.insert receipt=%s: %w", o.EtsyReceiptID, domain.ErrConflict)
		}
		return "", fmt.Errorf("op=orders.insert: %w", err)
	}
	return id, nil
}

// GetByReceiptID loads an order by its marketplace receipt.
func (r *OrderRepo) GetByReceiptID(ctx domain.Context, receiptID string) (domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.GetByReceiptID")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders WHERE etsy_receipt_id=$1`
	o, err := scanOrder(r.Pool.QueryRow(ctx, q, receiptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("op=orders.get_by_receipt: %w", domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("op=orders.get_by_receipt: %w", err)
	}
	return o, nil
}

// ListByStatus returns orders in one status, oldest first.
func (r *OrderRepo) ListByStatus(ctx domain.Context, status domain.OrderStatus) ([]domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.ListByStatus")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders WHERE status=$1 ORDER BY created_at ASC`
	return r.list(ctx, q, status)
}

// ListBySticker returns all orders for one sticker.
func (r *OrderRepo) ListBySticker(ctx domain.Context, stickerID string) ([]domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.ListBySticker")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders WHERE sticker_id=$1 ORDER BY created_at ASC`
	return r.list(ctx, q, stickerID)
}

// ListCreatedBetween returns orders created inside a window; the metrics
// aggregator uses day and month windows.
func (r *OrderRepo) ListCreatedBetween(ctx domain.Context, from, until time.Time) ([]domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.ListCreatedBetween")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	return r.list(ctx, q, from, until)
}

func (r *OrderRepo) list(ctx domain.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=orders.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("op=orders.list: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByStickerAndTier counts sales recorded at a given tier: the
// sales-override input.
func (r *OrderRepo) CountByStickerAndTier(ctx domain.Context, stickerID string, tier domain.PricingTier) (int, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.CountByStickerAndTier")
	defer span.End()
	q := `SELECT count(*) FROM orders WHERE sticker_id=$1 AND pricing_tier_at_sale=$2`
	var n int
	if err := r.Pool.QueryRow(ctx, q, stickerID, tier).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=orders.count_by_tier: %w", err)
	}
	return n, nil
}

// SetStatus moves an order through the fulfillment lifecycle.
func (r *OrderRepo) SetStatus(ctx domain.Context, id string, status domain.OrderStatus) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.SetStatus")
	defer span.End()
	q := `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=orders.set_status: %w", err)
	}
	return nil
}

// SetFulfillment records a successful print submission.
func (r *OrderRepo) SetFulfillment(ctx domain.Context, id string, provider, fulfillmentOrderID string, status domain.OrderStatus) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.SetFulfillment")
	defer span.End()
	q := `UPDATE orders SET fulfillment_provider=$2, fulfillment_order_id=$3, status=$4,
		fulfillment_last_error='', updated_at=$5 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, provider, fulfillmentOrderID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=orders.set_fulfillment: %w", err)
	}
	return nil
}

// RecordFulfillmentFailure stores the attempt count and last error for a
// failed print submission.
func (r *OrderRepo) RecordFulfillmentFailure(ctx domain.Context, id string, attempts int, lastErr string) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.RecordFulfillmentFailure")
	defer span.End()
	q := `UPDATE orders SET fulfillment_attempts=$2, fulfillment_last_error=$3, status=$4, updated_at=$5 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, attempts, lastErr, domain.OrderPendingManual, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=orders.record_fulfillment_failure: %w", err)
	}
	return nil
}

// MarkShipped stamps the shipping transition.
func (r *OrderRepo) MarkShipped(ctx domain.Context, id string, trackingNumber string, at time.Time) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.MarkShipped")
	defer span.End()
	q := `UPDATE orders SET status=$2, tracking_number=$3, shipped_at=$4, updated_at=$5 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.OrderShipped, trackingNumber, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=orders.mark_shipped: %w", err)
	}
	return nil
}

// MarkDelivered stamps the delivery transition; the 90-day customer-data
// purge counts from this moment.
func (r *OrderRepo) MarkDelivered(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.MarkDelivered")
	defer span.End()
	q := `UPDATE orders SET status=$2, delivered_at=$3, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.OrderDelivered, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=orders.mark_delivered: %w", err)
	}
	return nil
}

// PurgeCustomerData nulls the customer blob on orders delivered before
// the cutoff. Returns the number of rows cleared.
func (r *OrderRepo) PurgeCustomerData(ctx domain.Context, deliveredBefore time.Time) (int64, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.PurgeCustomerData")
	defer span.End()
	q := `UPDATE orders SET customer_data=NULL, updated_at=$2
		WHERE delivered_at IS NOT NULL AND delivered_at < $1 AND customer_data IS NOT NULL`
	tag, err := r.Pool.Exec(ctx, q, deliveredBefore, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("op=orders.purge_customer_data: %w", err)
	}
	return tag.RowsAffected(), nil
}
