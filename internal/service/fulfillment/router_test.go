package fulfillment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/fulfillment"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

type stubFulfiller struct {
	submitID   string
	submitErr  error
	status     string
	statusErr  error
	tracking   string
	submitQty  int
	submitSize string
}

func (f *stubFulfiller) Submit(_ domain.Context, _ string, _ map[string]any, size string, qty int) (string, error) {
	f.submitSize = size
	f.submitQty = qty
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}
func (f *stubFulfiller) Status(_ domain.Context, _ string) (string, error) {
	return f.status, f.statusErr
}
func (f *stubFulfiller) Tracking(_ domain.Context, _ string) (string, error) {
	return f.tracking, nil
}

type stubAlerter struct {
	subjects []string
}

func (a *stubAlerter) Send(_ domain.Context, subject, _, _ string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

type fulfillmentCall struct {
	orderID       string
	provider      string
	fulfillmentID string
	status        domain.OrderStatus
}

type stubOrderRepo struct {
	byStatus map[domain.OrderStatus][]domain.Order

	fulfillments []fulfillmentCall
	failures     []int
	statuses     []domain.OrderStatus
	shippedWith  string
	delivered    bool
}

func (r *stubOrderRepo) Insert(_ domain.Context, _ domain.Order) (string, error) { return "", nil }
func (r *stubOrderRepo) GetByReceiptID(_ domain.Context, _ string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (r *stubOrderRepo) ListByStatus(_ domain.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.byStatus[status], nil
}
func (r *stubOrderRepo) ListBySticker(_ domain.Context, _ string) ([]domain.Order, error) {
	return nil, nil
}
func (r *stubOrderRepo) CountByStickerAndTier(_ domain.Context, _ string, _ domain.PricingTier) (int, error) {
	return 0, nil
}
func (r *stubOrderRepo) ListCreatedBetween(_ domain.Context, _, _ time.Time) ([]domain.Order, error) {
	return nil, nil
}
func (r *stubOrderRepo) SetStatus(_ domain.Context, _ string, status domain.OrderStatus) error {
	r.statuses = append(r.statuses, status)
	return nil
}
func (r *stubOrderRepo) SetFulfillment(_ domain.Context, id, provider, fulfillmentID string, status domain.OrderStatus) error {
	r.fulfillments = append(r.fulfillments, fulfillmentCall{
		orderID: id, provider: provider, fulfillmentID: fulfillmentID, status: status,
	})
	return nil
}
func (r *stubOrderRepo) RecordFulfillmentFailure(_ domain.Context, _ string, attempts int, _ string) error {
	r.failures = append(r.failures, attempts)
	return nil
}
func (r *stubOrderRepo) MarkShipped(_ domain.Context, _ string, trackingNumber string, _ time.Time) error {
	r.shippedWith = trackingNumber
	return nil
}
func (r *stubOrderRepo) MarkDelivered(_ domain.Context, _ string, _ time.Time) error {
	r.delivered = true
	return nil
}
func (r *stubOrderRepo) PurgeCustomerData(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubStickerGetter struct {
	domain.StickerRepository
	sticker domain.Sticker
}

func (r *stubStickerGetter) Get(_ domain.Context, _ string) (domain.Sticker, error) {
	return r.sticker, nil
}

type stubErrorRepo struct {
	entries []domain.ErrorEntry
}

func (r *stubErrorRepo) Insert(_ domain.Context, e domain.ErrorEntry) (string, error) {
	r.entries = append(r.entries, e)
	return "err-1", nil
}
func (r *stubErrorRepo) Resolve(_ domain.Context, _ string) error { return nil }
func (r *stubErrorRepo) Recent(_ domain.Context, _ string, _ int) ([]domain.ErrorEntry, error) {
	return nil, nil
}
func (r *stubErrorRepo) DeleteOlderThan(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func paidOrder() domain.Order {
	return domain.Order{
		ID:           "o1",
		StickerID:    "s1",
		EtsyOrderID:  "E-77",
		Status:       domain.OrderPaid,
		Quantity:     2,
		CustomerData: map[string]any{"customer_name": "Jo", "customer_address": "1 Main St"},
		CreatedAt:    time.Now().UTC(),
	}
}

func newRouter(orders *stubOrderRepo, primary domain.Fulfiller, alerter *stubAlerter) (*fulfillment.Router, *stubErrorRepo) {
	errRepo := &stubErrorRepo{}
	stickers := &stubStickerGetter{sticker: domain.Sticker{
		ID: "s1", ImageURL: "https://cdn.example.com/s1.png", ProductType: domain.ProductSingleLarge,
	}}
	return fulfillment.NewRouter(orders, stickers, primary, alerter, ledger.NewErrors(errRepo)), errRepo
}

func TestFulfillPrimarySuccess(t *testing.T) {
	t.Parallel()

	orders := &stubOrderRepo{}
	mule := &stubFulfiller{submitID: "SM-1"}
	router, errRepo := newRouter(orders, mule, &stubAlerter{})

	require.NoError(t, router.Fulfill(context.Background(), paidOrder(), "run-1"))

	require.Len(t, orders.fulfillments, 1)
	call := orders.fulfillments[0]
	assert.Equal(t, domain.ProviderStickerMule, call.provider)
	assert.Equal(t, "SM-1", call.fulfillmentID)
	assert.Equal(t, domain.OrderSentToPrint, call.status)
	assert.Equal(t, domain.ProductSingleLarge, mule.submitSize)
	assert.Equal(t, 2, mule.submitQty)
	assert.Empty(t, errRepo.entries)
}

func TestFulfillFallsBackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	orders := &stubOrderRepo{}
	alerter := &stubAlerter{}
	mule := &stubFulfiller{submitErr: domain.Failf(domain.KindAPIError, "sticker_mule", "boom")}
	router, errRepo := newRouter(orders, mule, alerter)

	require.NoError(t, router.Fulfill(context.Background(), paidOrder(), "run-1"))

	assert.Equal(t, []int{1}, orders.failures, "attempt count lands on the order row")
	require.Len(t, orders.fulfillments, 1)
	assert.Equal(t, domain.ProviderSelfUSPS, orders.fulfillments[0].provider)
	assert.Equal(t, domain.OrderPendingManual, orders.fulfillments[0].status)

	require.Len(t, alerter.subjects, 1)
	assert.Contains(t, alerter.subjects[0], "E-77")
	require.Len(t, errRepo.entries, 1)
	assert.Equal(t, "run-1", errRepo.entries[0].PipelineRunID)
}

func TestFulfillWithoutPrimaryGoesManual(t *testing.T) {
	t.Parallel()

	orders := &stubOrderRepo{}
	alerter := &stubAlerter{}
	router, _ := newRouter(orders, nil, alerter)

	require.NoError(t, router.Fulfill(context.Background(), paidOrder(), "run-1"))
	require.Len(t, orders.fulfillments, 1)
	assert.Equal(t, domain.ProviderSelfUSPS, orders.fulfillments[0].provider)
	assert.Empty(t, orders.failures)
}

func TestSweepStatuses(t *testing.T) {
	t.Parallel()

	inFlight := domain.Order{
		ID:                  "o1",
		Status:              domain.OrderSentToPrint,
		FulfillmentProvider: domain.ProviderStickerMule,
		FulfillmentOrderID:  "SM-1",
	}
	orders := &stubOrderRepo{byStatus: map[domain.OrderStatus][]domain.Order{
		domain.OrderSentToPrint: {inFlight},
	}}
	mule := &stubFulfiller{status: "shipped", tracking: "9400-1"}
	router, _ := newRouter(orders, mule, &stubAlerter{})

	moved := router.SweepStatuses(context.Background(), "run-1")
	assert.Equal(t, 1, moved)
	assert.Equal(t, "9400-1", orders.shippedWith)
}

func TestSweepSkipsManualOrders(t *testing.T) {
	t.Parallel()

	manual := domain.Order{ID: "o2", FulfillmentProvider: domain.ProviderSelfUSPS}
	orders := &stubOrderRepo{byStatus: map[domain.OrderStatus][]domain.Order{
		domain.OrderSentToPrint: {manual},
	}}
	router, _ := newRouter(orders, &stubFulfiller{status: "shipped"}, &stubAlerter{})

	assert.Zero(t, router.SweepStatuses(context.Background(), "run-1"))
	assert.Empty(t, orders.shippedWith)
}

func TestCheckOverdue(t *testing.T) {
	t.Parallel()

	old := paidOrder()
	old.CreatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
	fresh := paidOrder()
	fresh.ID = "o3"

	orders := &stubOrderRepo{byStatus: map[domain.OrderStatus][]domain.Order{
		domain.OrderPendingManual: {old, fresh},
	}}
	alerter := &stubAlerter{}
	router, _ := newRouter(orders, nil, alerter)

	assert.Equal(t, 1, router.CheckOverdue(context.Background()))
	require.Len(t, alerter.subjects, 1)
	assert.Contains(t, alerter.subjects[0], "Overdue")
}
