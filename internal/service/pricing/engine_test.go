package pricing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/pricing"
)

type fakeTrendRepo struct {
	trends map[string]domain.Trend
	getErr error
}

func (r *fakeTrendRepo) Insert(_ domain.Context, _ domain.Trend) (string, error) { return "", nil }
func (r *fakeTrendRepo) GetByNormalizedTopic(_ domain.Context, _ string) (domain.Trend, error) {
	return domain.Trend{}, domain.ErrNotFound
}
func (r *fakeTrendRepo) ListByStatus(_ domain.Context, _ domain.TrendStatus) ([]domain.Trend, error) {
	return nil, nil
}
func (r *fakeTrendRepo) Get(_ domain.Context, id string) (domain.Trend, error) {
	if r.getErr != nil {
		return domain.Trend{}, r.getErr
	}
	t, ok := r.trends[id]
	if !ok {
		return domain.Trend{}, domain.ErrNotFound
	}
	return t, nil
}
func (r *fakeTrendRepo) UpdateStatus(_ domain.Context, _ string, _ domain.TrendStatus) error {
	return nil
}
func (r *fakeTrendRepo) UpdateSources(_ domain.Context, _ string, _ []string) error { return nil }
func (r *fakeTrendRepo) UpdateScores(_ domain.Context, _ string, _ domain.TopicScore, _ float64) error {
	return nil
}

type pricedCall struct {
	id    string
	price float64
	floor float64
	tier  domain.PricingTier
}

type fakeStickerRepo struct {
	published []domain.Sticker
	listErr   error

	priced     []pricedCall
	tierOnly   map[string]domain.PricingTier
	archived   []string
	archiveErr error
}

func (r *fakeStickerRepo) Insert(_ domain.Context, _ domain.Sticker) (string, error) {
	return "", nil
}
func (r *fakeStickerRepo) Get(_ domain.Context, _ string) (domain.Sticker, error) {
	return domain.Sticker{}, domain.ErrNotFound
}
func (r *fakeStickerRepo) GetByListingID(_ domain.Context, _ string) (domain.Sticker, error) {
	return domain.Sticker{}, domain.ErrNotFound
}
func (r *fakeStickerRepo) ListPublished(_ domain.Context) ([]domain.Sticker, error) {
	return r.published, r.listErr
}
func (r *fakeStickerRepo) ListByModerationStatus(_ domain.Context, _ domain.ModerationStatus) ([]domain.Sticker, error) {
	return nil, nil
}
func (r *fakeStickerRepo) CountActiveListings(_ domain.Context) (int, error) { return 0, nil }
func (r *fakeStickerRepo) CountPublishedBetween(_ domain.Context, _, _ time.Time) (int, error) {
	return 0, nil
}
func (r *fakeStickerRepo) UpdatePricing(_ domain.Context, id string, price, floor float64, tier domain.PricingTier) error {
	r.priced = append(r.priced, pricedCall{id: id, price: price, floor: floor, tier: tier})
	return nil
}
func (r *fakeStickerRepo) UpdateTier(_ domain.Context, id string, tier domain.PricingTier) error {
	if r.tierOnly == nil {
		r.tierOnly = map[string]domain.PricingTier{}
	}
	r.tierOnly[id] = tier
	return nil
}
func (r *fakeStickerRepo) Archive(_ domain.Context, id string) error {
	if r.archiveErr != nil {
		return r.archiveErr
	}
	r.archived = append(r.archived, id)
	return nil
}
func (r *fakeStickerRepo) UpdateModeration(_ domain.Context, _ string, _ domain.ModerationStatus, _ float64) error {
	return nil
}
func (r *fakeStickerRepo) SetListing(_ domain.Context, _ string, _ string, _ time.Time) error {
	return nil
}
func (r *fakeStickerRepo) IncrementSales(_ domain.Context, _ string, _ int, _ time.Time) error {
	return nil
}
func (r *fakeStickerRepo) SetViewCount(_ domain.Context, _ string, _ int) error { return nil }

type fakeOrderRepo struct {
	tierCounts map[string]int
	countErr   error
}

func (r *fakeOrderRepo) Insert(_ domain.Context, _ domain.Order) (string, error) { return "", nil }
func (r *fakeOrderRepo) GetByReceiptID(_ domain.Context, _ string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (r *fakeOrderRepo) ListByStatus(_ domain.Context, _ domain.OrderStatus) ([]domain.Order, error) {
	return nil, nil
}
func (r *fakeOrderRepo) ListBySticker(_ domain.Context, _ string) ([]domain.Order, error) {
	return nil, nil
}
func (r *fakeOrderRepo) CountByStickerAndTier(_ domain.Context, stickerID string, tier domain.PricingTier) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.tierCounts[stickerID+"/"+string(tier)], nil
}
func (r *fakeOrderRepo) ListCreatedBetween(_ domain.Context, _, _ time.Time) ([]domain.Order, error) {
	return nil, nil
}
func (r *fakeOrderRepo) SetStatus(_ domain.Context, _ string, _ domain.OrderStatus) error {
	return nil
}
func (r *fakeOrderRepo) SetFulfillment(_ domain.Context, _, _, _ string, _ domain.OrderStatus) error {
	return nil
}
func (r *fakeOrderRepo) RecordFulfillmentFailure(_ domain.Context, _ string, _ int, _ string) error {
	return nil
}
func (r *fakeOrderRepo) MarkShipped(_ domain.Context, _ string, _ string, _ time.Time) error {
	return nil
}
func (r *fakeOrderRepo) MarkDelivered(_ domain.Context, _ string, _ time.Time) error { return nil }
func (r *fakeOrderRepo) PurgeCustomerData(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeHistoryRepo struct {
	rows      []domain.PriceChange
	insertErr error
}

func (r *fakeHistoryRepo) Insert(_ domain.Context, p domain.PriceChange) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.rows = append(r.rows, p)
	return nil
}
func (r *fakeHistoryRepo) OlderThan(_ domain.Context, _ time.Time) ([]domain.PriceChange, error) {
	return nil, nil
}
func (r *fakeHistoryRepo) DeleteOlderThan(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeMarketplace struct {
	priceUpdates  map[string]float64
	updateErr     error
	deactivated   []string
	deactivateErr error
}

func (m *fakeMarketplace) CreateListing(_ domain.Context, _ domain.Sticker, _, _ string, _ []string, _ float64) (string, error) {
	return "", nil
}
func (m *fakeMarketplace) UploadListingImage(_ domain.Context, _ string, _ []byte) error {
	return nil
}
func (m *fakeMarketplace) ActivateListing(_ domain.Context, _ string) error { return nil }
func (m *fakeMarketplace) UpdatePrice(_ domain.Context, listingID string, price float64) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.priceUpdates == nil {
		m.priceUpdates = map[string]float64{}
	}
	m.priceUpdates[listingID] = price
	return nil
}
func (m *fakeMarketplace) DeactivateListing(_ domain.Context, listingID string) error {
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	m.deactivated = append(m.deactivated, listingID)
	return nil
}
func (m *fakeMarketplace) ListReceipts(_ domain.Context, _ time.Time) ([]domain.Receipt, error) {
	return nil, nil
}

type engineFixture struct {
	trends   *fakeTrendRepo
	stickers *fakeStickerRepo
	orders   *fakeOrderRepo
	history  *fakeHistoryRepo
	market   *fakeMarketplace
	engine   *pricing.Engine
}

func newEngineFixture(cfg config.PricingConfig, rates *stubRateRepo) *engineFixture {
	f := &engineFixture{
		trends:   &fakeTrendRepo{trends: map[string]domain.Trend{}},
		stickers: &fakeStickerRepo{},
		orders:   &fakeOrderRepo{tierCounts: map[string]int{}},
		history:  &fakeHistoryRepo{},
		market:   &fakeMarketplace{},
	}
	book := pricing.NewTierBook(cfg, rates)
	f.engine = pricing.NewEngine(book, f.trends, f.stickers, f.orders, f.history, f.market)
	return f
}

func daysAgo(n int) time.Time {
	return time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestReprice_SkipsArchivedSticker(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:               "s1",
		ModerationStatus: domain.ModerationArchived,
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeSkipped, out)
	assert.Empty(t, f.market.priceUpdates)
	assert.Empty(t, f.stickers.priced)
}

func TestReprice_TierChangeUpdatesListingAndHistory(t *testing.T) {
	t.Parallel()
	rates := &stubRateRepo{rate: domain.ShippingRate{ShippingCost: 0.30, PackagingCost: 0.10}}
	f := newEngineFixture(config.DefaultPricingConfig(), rates)
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          3,
		LastSaleAt:          timePtr(daysAgo(2)),
		CreatedAt:           daysAgo(16),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	assert.InDelta(t, 3.49, f.market.priceUpdates["L1"], 1e-9)

	require.Len(t, f.stickers.priced, 1)
	assert.Equal(t, "s1", f.stickers.priced[0].id)
	assert.InDelta(t, 3.49, f.stickers.priced[0].price, 1e-9)
	assert.Equal(t, domain.TierCooling, f.stickers.priced[0].tier)

	require.Len(t, f.history.rows, 1)
	row := f.history.rows[0]
	assert.Equal(t, "s1", row.StickerID)
	assert.InDelta(t, 4.49, row.OldPrice, 1e-9)
	assert.InDelta(t, 3.49, row.NewPrice, 1e-9)
	assert.Equal(t, domain.TierCooling, row.Tier)
	assert.Equal(t, "tier_change:trending->cooling", row.Reason)
}

func TestReprice_SalesOverrideFreezesPrice(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}
	f.orders.tierCounts["s1/trending"] = 10

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          10,
		LastSaleAt:          timePtr(daysAgo(1)),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeTierOnly, out)
	assert.Equal(t, domain.TierCooling, f.stickers.tierOnly["s1"])
	assert.Empty(t, f.market.priceUpdates)
	assert.Empty(t, f.stickers.priced)
	assert.Empty(t, f.history.rows)
}

func TestReprice_NineSalesDoesNotTriggerOverride(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}
	f.orders.tierCounts["s1/trending"] = 9

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          9,
		LastSaleAt:          timePtr(daysAgo(1)),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	assert.InDelta(t, 3.49, f.market.priceUpdates["L1"], 1e-9)
}

func TestReprice_SalesOverrideWithUnchangedTierIsNoOp(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(5)}
	f.orders.tierCounts["s1/trending"] = 12

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:               "s1",
		TrendID:          "t1",
		EtsyListingID:    strPtr("L1"),
		Price:            4.49,
		PricingTier:      domain.TierTrending,
		ProductType:      domain.ProductSingleSmall,
		ModerationStatus: domain.ModerationApproved,
		SalesCount:       12,
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeNoChange, out)
	assert.Empty(t, f.stickers.tierOnly)
	assert.Empty(t, f.market.priceUpdates)
}

func TestReprice_NoChangeWhenPriceAndTierAlreadyMatch(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(5)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeNoChange, out)
	assert.Empty(t, f.market.priceUpdates)
	assert.Empty(t, f.stickers.priced)
	assert.Empty(t, f.history.rows)
}

func TestReprice_AgedOutWithZeroSalesLeftToArchiver(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(31)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:               "s1",
		TrendID:          "t1",
		EtsyListingID:    strPtr("L1"),
		Price:            3.49,
		PricingTier:      domain.TierCooling,
		ProductType:      domain.ProductSingleSmall,
		ModerationStatus: domain.ModerationApproved,
		SalesCount:       0,
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeLeftToArchiver, out)
	assert.Empty(t, f.market.priceUpdates)
	assert.Empty(t, f.stickers.priced)
}

func TestReprice_StaleWithHistoricalSalesGoesEvergreen(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(40)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               3.49,
		PricingTier:         domain.TierCooling,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          5,
		LastSaleAt:          timePtr(daysAgo(60)),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	require.Len(t, f.history.rows, 1)
	assert.Equal(t, domain.TierEvergreen, f.history.rows[0].Tier)
	assert.Equal(t, "tier_change:cooling->evergreen", f.history.rows[0].Reason)
}

func TestReprice_FloorClampsTierPrice(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultPricingConfig()
	for i := range cfg.Tiers {
		if cfg.Tiers[i].Tier == domain.TierCooling {
			cfg.Tiers[i].Prices[domain.ProductSingleSmall] = 2.99
		}
	}
	rates := &stubRateRepo{rateErr: errors.New("store down")}
	f := newEngineFixture(cfg, rates)
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderSelfUSPS,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          1,
		LastSaleAt:          timePtr(daysAgo(3)),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	// Floor for a self-shipped small sticker is 3.38, rounded up to 3.49.
	assert.InDelta(t, 3.49, f.market.priceUpdates["L1"], 1e-9)
	require.Len(t, f.stickers.priced, 1)
	assert.InDelta(t, 3.49, f.stickers.priced[0].price, 1e-9)
	assert.InDelta(t, 3.49, f.stickers.priced[0].floor, 1e-9)
}

func TestReprice_MarketplaceFailureSurfaces(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}
	f.market.updateErr = errors.New("etsy 500")

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "L1")
	assert.Equal(t, pricing.OutcomeNoChange, out)
	assert.Empty(t, f.stickers.priced)
	assert.Empty(t, f.history.rows)
}

func TestReprice_TrendLookupFailureFallsBackToStickerAge(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.getErr = errors.New("store down")

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		CreatedAt:           daysAgo(2),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	assert.InDelta(t, 5.49, f.market.priceUpdates["L1"], 1e-9)
	require.Len(t, f.history.rows, 1)
	assert.Equal(t, "tier_change:trending->just_dropped", f.history.rows[0].Reason)
}

func TestReprice_CountFailureDisablesOverride(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}
	f.orders.countErr = errors.New("store down")

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		EtsyListingID:       strPtr("L1"),
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
		SalesCount:          20,
		LastSaleAt:          timePtr(daysAgo(1)),
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
}

func TestReprice_UnlistedStickerSkipsMarketplace(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(config.DefaultPricingConfig(), &stubRateRepo{})
	f.trends.trends["t1"] = domain.Trend{ID: "t1", CreatedAt: daysAgo(16)}

	out, err := f.engine.Reprice(context.Background(), domain.Sticker{
		ID:                  "s1",
		TrendID:             "t1",
		Price:               4.49,
		PricingTier:         domain.TierTrending,
		ProductType:         domain.ProductSingleSmall,
		FulfillmentProvider: domain.ProviderStickerMule,
		ModerationStatus:    domain.ModerationApproved,
	})

	require.NoError(t, err)
	assert.Equal(t, pricing.OutcomeRepriced, out)
	assert.Empty(t, f.market.priceUpdates)
	require.Len(t, f.stickers.priced, 1)
	require.Len(t, f.history.rows, 1)
}
