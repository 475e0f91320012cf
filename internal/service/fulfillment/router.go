// Package fulfillment routes paid orders to a print provider and sweeps
// provider status back onto the order rows.
package fulfillment

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

const workflowName = "analytics_sync"

// Overdue self-fulfilled orders trigger an operator reminder.
const shippingOverdueAfter = 7 * 24 * time.Hour

// Router submits paid orders to Sticker Mule and falls back to manual
// USPS self-fulfillment with an operator alert when the provider is
// unavailable or rejects the order.
type Router struct {
	orders   domain.OrderRepository
	stickers domain.StickerRepository
	primary  domain.Fulfiller
	alerter  domain.Alerter
	errs     *ledger.Errors
}

func NewRouter(
	orders domain.OrderRepository,
	stickers domain.StickerRepository,
	primary domain.Fulfiller,
	alerter domain.Alerter,
	errs *ledger.Errors,
) *Router {
	return &Router{orders: orders, stickers: stickers, primary: primary, alerter: alerter, errs: errs}
}

// Fulfill submits one paid order. Primary failure is recorded on the
// order row (attempts + last error) before falling back; fallback never
// fails the call because a human picks the order up from pending_manual.
func (r *Router) Fulfill(ctx domain.Context, o domain.Order, runID string) error {
	s, err := r.stickers.Get(ctx, o.StickerID)
	if err != nil {
		return fmt.Errorf("op=fulfillment.Fulfill order=%s: %w", o.ID, err)
	}

	if r.primary != nil {
		fulfillmentID, err := r.primary.Submit(ctx, s.ImageURL, o.CustomerData, s.ProductType, o.Quantity)
		if err == nil {
			if err := r.orders.SetFulfillment(ctx, o.ID, domain.ProviderStickerMule, fulfillmentID, domain.OrderSentToPrint); err != nil {
				return fmt.Errorf("op=fulfillment.Fulfill order=%s: %w", o.ID, err)
			}
			slog.InfoContext(ctx, "order sent to print",
				slog.String("order_id", o.ID),
				slog.String("fulfillment_id", fulfillmentID))
			return nil
		}

		r.errs.Log(ctx, domain.ErrorEntry{
			Workflow:      workflowName,
			Step:          "fulfill_order",
			Kind:          domain.KindOf(err),
			Message:       err.Error(),
			Service:       domain.ProviderStickerMule,
			PipelineRunID: runID,
			Context:       map[string]any{"order_id": o.ID},
		})
		if err := r.orders.RecordFulfillmentFailure(ctx, o.ID, o.FulfillmentAttempts+1, err.Error()); err != nil {
			return fmt.Errorf("op=fulfillment.Fulfill order=%s: %w", o.ID, err)
		}
	}

	return r.fallback(ctx, o)
}

// fallback marks the order for manual USPS fulfillment and alerts the
// operator with the ship-to details.
func (r *Router) fallback(ctx domain.Context, o domain.Order) error {
	if err := r.orders.SetFulfillment(ctx, o.ID, domain.ProviderSelfUSPS, "", domain.OrderPendingManual); err != nil {
		return fmt.Errorf("op=fulfillment.fallback order=%s: %w", o.ID, err)
	}

	body := fmt.Sprintf(
		"New order needs manual fulfillment.\n\n"+
			"Order ID: %s\nEtsy Order: %s\nSticker ID: %s\nQuantity: %d\n"+
			"Ship To: %v\nAddress: %v\n\nPlease print, package, and ship this order.",
		o.ID, o.EtsyOrderID, o.StickerID, o.Quantity,
		o.CustomerData["customer_name"], o.CustomerData["customer_address"])
	if err := r.alerter.Send(ctx, fmt.Sprintf("Order %s needs manual fulfillment", o.EtsyOrderID), body, "warning"); err != nil {
		slog.WarnContext(ctx, "manual fulfillment alert failed",
			slog.String("order_id", o.ID), slog.Any("error", err))
	}
	slog.InfoContext(ctx, "order routed to self-fulfillment", slog.String("order_id", o.ID))
	return nil
}

// SweepStatuses polls the provider for every in-flight order and maps
// its status onto the order row. Returns how many orders moved.
func (r *Router) SweepStatuses(ctx domain.Context, runID string) int {
	if r.primary == nil {
		return 0
	}

	moved := 0
	for _, status := range []domain.OrderStatus{domain.OrderSentToPrint, domain.OrderPrintConfirmed} {
		orders, err := r.orders.ListByStatus(ctx, status)
		if err != nil {
			slog.WarnContext(ctx, "status sweep list failed",
				slog.String("status", string(status)), slog.Any("error", err))
			continue
		}
		for _, o := range orders {
			if o.FulfillmentProvider != domain.ProviderStickerMule || o.FulfillmentOrderID == "" {
				continue
			}
			if r.advance(ctx, o, runID) {
				moved++
			}
		}
	}
	return moved
}

func (r *Router) advance(ctx domain.Context, o domain.Order, runID string) bool {
	providerStatus, err := r.primary.Status(ctx, o.FulfillmentOrderID)
	if err != nil {
		r.errs.Log(ctx, domain.ErrorEntry{
			Workflow:      workflowName,
			Step:          "status_sweep",
			Kind:          domain.KindOf(err),
			Message:       err.Error(),
			Service:       domain.ProviderStickerMule,
			PipelineRunID: runID,
			Context:       map[string]any{"order_id": o.ID},
		})
		return false
	}

	now := time.Now().UTC()
	switch providerStatus {
	case "processing":
		if o.Status == domain.OrderSentToPrint {
			return false
		}
		err = r.orders.SetStatus(ctx, o.ID, domain.OrderSentToPrint)
	case "printing":
		if o.Status == domain.OrderPrintConfirmed {
			return false
		}
		err = r.orders.SetStatus(ctx, o.ID, domain.OrderPrintConfirmed)
	case "shipped":
		tracking, terr := r.primary.Tracking(ctx, o.FulfillmentOrderID)
		if terr != nil {
			slog.WarnContext(ctx, "tracking lookup failed",
				slog.String("order_id", o.ID), slog.Any("error", terr))
		}
		err = r.orders.MarkShipped(ctx, o.ID, tracking, now)
	case "delivered":
		err = r.orders.MarkDelivered(ctx, o.ID, now)
	default:
		return false
	}

	if err != nil {
		slog.WarnContext(ctx, "status sweep update failed",
			slog.String("order_id", o.ID), slog.Any("error", err))
		return false
	}
	return true
}

// CheckOverdue alerts on manual-queue orders older than seven days.
func (r *Router) CheckOverdue(ctx domain.Context) int {
	cutoff := time.Now().UTC().Add(-shippingOverdueAfter)
	overdue := 0

	for _, status := range []domain.OrderStatus{domain.OrderPendingManual, domain.OrderSentToPrint, domain.OrderPrintConfirmed} {
		orders, err := r.orders.ListByStatus(ctx, status)
		if err != nil {
			slog.WarnContext(ctx, "overdue check list failed",
				slog.String("status", string(status)), slog.Any("error", err))
			continue
		}
		for _, o := range orders {
			if !o.CreatedAt.Before(cutoff) {
				continue
			}
			overdue++
			body := fmt.Sprintf("Order %s has been in %q for 7+ days.\n\nPlease ship this order or update its status.",
				o.ID, string(status))
			if err := r.alerter.Send(ctx, "Overdue order: "+o.EtsyOrderID, body, "warning"); err != nil {
				slog.WarnContext(ctx, "overdue alert failed",
					slog.String("order_id", o.ID), slog.Any("error", err))
			}
		}
	}

	if overdue > 0 {
		slog.WarnContext(ctx, "overdue fulfillment orders found", slog.Int("count", overdue))
	}
	return overdue
}
