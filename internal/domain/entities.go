package domain

import (
	"context"
	"time"
)

// Workflow names as recorded in pipeline_runs and used for lock keys.
const (
	WorkflowTrendMonitor     = "trend_monitor"
	WorkflowStickerGenerator = "sticker_generator"
	WorkflowPricingEngine    = "pricing_engine"
	WorkflowAnalyticsSync    = "analytics_sync"
)

// Priority tiers for shared API budget admission. Lower value is more
// important and survives deeper into the daily budget.
type Priority int

const (
	P0OrderReads   Priority = 0
	P1NewListings  Priority = 1
	P2PriceUpdates Priority = 2
	P3Analytics    Priority = 3
)

// UsageLevel describes how much of the shared daily API budget is spent.
type UsageLevel string

const (
	UsageNormal   UsageLevel = "normal"
	UsageWarning  UsageLevel = "warning"
	UsageCritical UsageLevel = "critical"
	UsageHardStop UsageLevel = "hard_stop"
)

type TrendStatus string

const (
	TrendDiscovered       TrendStatus = "discovered"
	TrendQueued           TrendStatus = "queued"
	TrendGenerated        TrendStatus = "generated"
	TrendGenerationFailed TrendStatus = "generation_failed"
)

// Trend is a canonical trend row. NormalizedTopic is the dedup key and is
// unique across the table; inserts that collide must extend the existing
// row's source set instead.
type Trend struct {
	ID              string
	Topic           string
	NormalizedTopic string
	Sources         []string
	Keywords        []string
	VelocityScore   int
	CommercialScore int
	SafetyScore     int
	UniquenessScore int
	OverallScore    float64
	Status          TrendStatus
	SourceData      map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TrendCandidate is a raw discovery from one source, before dedup.
type TrendCandidate struct {
	Topic      string
	Keywords   []string
	Source     string
	SourceData map[string]any
	ScoreHint  float64
}

// CanonicalTrend is the dedup output: one entry per merged candidate group.
type CanonicalTrend struct {
	Topic           string
	NormalizedTopic string
	Sources         []string
	Keywords        []string
	SourceData      map[string]any
	ScoreHint       float64
}

type PricingTier string

const (
	TierJustDropped PricingTier = "just_dropped"
	TierTrending    PricingTier = "trending"
	TierCooling     PricingTier = "cooling"
	TierEvergreen   PricingTier = "evergreen"
	TierArchived    PricingTier = "archived"
)

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationFlagged  ModerationStatus = "flagged"
	ModerationRejected ModerationStatus = "rejected"
	ModerationArchived ModerationStatus = "archived"
)

// Size classes. Small is the 3in single, large the 5in single.
const (
	ProductSingleSmall = "single_small"
	ProductSingleLarge = "single_large"
)

// Fulfillment provider tags.
const (
	ProviderStickerMule = "sticker_mule"
	ProviderSelfUSPS    = "self_usps"
)

/// Sticker is one listed product. Invariants: Price >= FloorPrice and ends in
// .49 or .99; ModerationStatus archived implies PricingTier archived; a row
// with non-null EtsyListingID and non-archived status counts toward the
// active-listings cap.
type Sticker struct {
	ID                  string
	TrendID             string
	Title               string
	Description         string
	Tags                []string
	ImageURL            string
	ThumbnailURL        string
	OriginalURL         string
	ProductType         string
	Price               float64
	FloorPrice          float64
	BaseCost            float64
	PricingTier         PricingTier
	ModerationStatus    ModerationStatus
	ModerationScore     float64
	EtsyListingID       *string
	PublishedAt         *time.Time
	SalesCount          int
	ViewCount           int
	LastSaleAt          *time.Time
	FulfillmentProvider string
	GenerationPrompt    string
	GenerationModel     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type OrderStatus string

const (
	OrderPaid           OrderStatus = "paid"
	OrderSentToPrint    OrderStatus = "sent_to_print"
	OrderPrintConfirmed OrderStatus = "print_confirmed"
	OrderPrinted        OrderStatus = "printed"
	OrderShipped        OrderStatus = "shipped"
	OrderDelivered      OrderStatus = "delivered"
	OrderPendingManual  OrderStatus = "pending_manual"
	OrderRefunded       OrderStatus = "refunded"
)

// Order is one marketplace sale. PricingTierAtSale is frozen at creation and
// never mutates; CustomerData is nullified 90 days after DeliveredAt.
type Order struct {
	ID                   string
	StickerID            string
	EtsyOrderID          string
	EtsyReceiptID        string
	Status               OrderStatus
	Quantity             int
	UnitPrice            float64
	TotalAmount          float64
	PricingTierAtSale    PricingTier
	CustomerData         map[string]any
	FulfillmentProvider  string
	FulfillmentOrderID   string
	FulfillmentAttempts  int
	FulfillmentLastError string
	CreatedAt            time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
}

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// RunCounts carries the per-workflow progress counters on a pipeline run.
type RunCounts struct {
	TrendsFound       int
	StickersGenerated int
	StickersRejected  int
	PricesUpdated     int
	StickersArchived  int
	OrdersSynced      int
	OrdersFulfilled   int
	ErrorsCount       int
}

// PipelineRun is one workflow execution. EndedAt and DurationSeconds are set
// iff Status != started.
type PipelineRun struct {
	ID              string
	Workflow        string
	Status          RunStatus
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *float64
	Counts          RunCounts
	APICallsUsed    int
	AICostUSD       float64
	ErrorMessage    string
	Metadata        map[string]any
}

// ErrorEntry is one row in the error ledger. Message and Context are stored
// redacted; no sensitive pattern or PII key survives storage.
type ErrorEntry struct {
	ID            string
	Workflow      string
	Step          string
	Kind          ErrorKind
	Message       string
	Service       string
	PipelineRunID string
	RetryCount    int
	Resolved      bool
	Context       map[string]any
	CreatedAt     time.Time
}

// PriceHistory reasons.
const (
	PriceReasonTrendAge = "trend_age"
	PriceReasonArchived = "archived"
)

// PriceChange is one append-only price_history row.
type PriceChange struct {
	ID        string
	StickerID string
	OldPrice  float64
	NewPrice  float64
	Tier      PricingTier
	Reason    string
	CreatedAt time.Time
}

// ShippingRate is the cost row keyed by (product type, fulfillment provider).
type ShippingRate struct {
	ProductType         string
	FulfillmentProvider string
	ShippingCost        float64
	PackagingCost       float64
}

// TierBand is one row of the tier-boundary table. MaxDays nil means
// open-ended. Bands are scanned in order with inclusive bounds.
type TierBand struct {
	Tier    PricingTier
	MinDays int
	MaxDays *int
}

// Receipt is a marketplace order as returned by the receipts listing.
type Receipt struct {
	ReceiptID    string
	ListingID    string
	Quantity     int
	UnitPrice    float64
	TotalAmount  float64
	Status       OrderStatus
	CustomerData map[string]any
	CreatedAt    time.Time
}

// TopicScore is one element of a batched scoring response.
type TopicScore struct {
	Index      int
	Velocity   int
	Commercial int
	Safety     int
	Uniqueness int
	Overall    float64
	Reasoning  string
}

// ModerationVerdict is the moderation endpoint response, reduced to the
// fields the thresholds need.
type ModerationVerdict struct {
	MaxScore   float64
	Categories map[string]float64
	Flagged    bool
}

// Repositories (ports)

type TrendRepository interface {
	Insert(ctx Context, t Trend) (string, error)
	GetByNormalizedTopic(ctx Context, normalized string) (Trend, error)
	ListByStatus(ctx Context, status TrendStatus) ([]Trend, error)
	Get(ctx Context, id string) (Trend, error)
	UpdateStatus(ctx Context, id string, status TrendStatus) error
	UpdateSources(ctx Context, id string, sources []string) error
	UpdateScores(ctx Context, id string, s TopicScore, overall float64) error
}

type StickerRepository interface {
	Insert(ctx Context, s Sticker) (string, error)
	Get(ctx Context, id string) (Sticker, error)
	GetByListingID(ctx Context, listingID string) (Sticker, error)
	ListPublished(ctx Context) ([]Sticker, error)
	ListByModerationStatus(ctx Context, status ModerationStatus) ([]Sticker, error)
	CountActiveListings(ctx Context) (int, error)
	CountPublishedBetween(ctx Context, from, until time.Time) (int, error)
	UpdatePricing(ctx Context, id string, price, floor float64, tier PricingTier) error
	UpdateTier(ctx Context, id string, tier PricingTier) error
	Archive(ctx Context, id string) error
	UpdateModeration(ctx Context, id string, status ModerationStatus, score float64) error
	SetListing(ctx Context, id string, listingID string, publishedAt time.Time) error
	IncrementSales(ctx Context, id string, qty int, at time.Time) error
	SetViewCount(ctx Context, id string, views int) error
}

type OrderRepository interface {
	Insert(ctx Context, o Order) (string, error)
	GetByReceiptID(ctx Context, receiptID string) (Order, error)
	ListByStatus(ctx Context, status OrderStatus) ([]Order, error)
	ListBySticker(ctx Context, stickerID string) ([]Order, error)
	CountByStickerAndTier(ctx Context, stickerID string, tier PricingTier) (int, error)
	ListCreatedBetween(ctx Context, from, until time.Time) ([]Order, error)
	SetStatus(ctx Context, id string, status OrderStatus) error
	SetFulfillment(ctx Context, id string, provider, fulfillmentOrderID string, status OrderStatus) error
	RecordFulfillmentFailure(ctx Context, id string, attempts int, lastErr string) error
	MarkShipped(ctx Context, id string, trackingNumber string, at time.Time) error
	MarkDelivered(ctx Context, id string, at time.Time) error
	PurgeCustomerData(ctx Context, deliveredBefore time.Time) (int64, error)
}

type RunRepository interface {
	Insert(ctx Context, r PipelineRun) error
	Finish(ctx Context, r PipelineRun) error
	SumCostSince(ctx Context, since time.Time, until time.Time) (float64, error)
	ListSince(ctx Context, since time.Time) ([]PipelineRun, error)
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

type ErrorRepository interface {
	Insert(ctx Context, e ErrorEntry) (string, error)
	Resolve(ctx Context, id string) error
	Recent(ctx Context, workflow string, limit int) ([]ErrorEntry, error)
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

type PriceHistoryRepository interface {
	Insert(ctx Context, p PriceChange) error
	OlderThan(ctx Context, cutoff time.Time) ([]PriceChange, error)
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

type RateRepository interface {
	GetShippingRate(ctx Context, productType, provider string) (ShippingRate, error)
	GetTierBands(ctx Context) ([]TierBand, error)
}

// External clients (ports)

// AIClient is the LLM provider surface the core needs: batched trend scoring,
// content moderation, and image-prompt generation.
type AIClient interface {
	BatchScore(ctx Context, topics []string) ([]TopicScore, error)
	Moderate(ctx Context, text string) (ModerationVerdict, error)
	GeneratePrompts(ctx Context, topic string, n int) ([]string, error)
}

// ImageClient generates one image per call and returns raw bytes.
type ImageClient interface {
	Generate(ctx Context, prompt string, size int) ([]byte, error)
}

// Marketplace is the listing-management surface.
type Marketplace interface {
	CreateListing(ctx Context, s Sticker, title, description string, tags []string, price float64) (string, error)
	UploadListingImage(ctx Context, listingID string, image []byte) error
	ActivateListing(ctx Context, listingID string) error
	UpdatePrice(ctx Context, listingID string, price float64) error
	DeactivateListing(ctx Context, listingID string) error
	ListReceipts(ctx Context, since time.Time) ([]Receipt, error)
}

// ObjectStore is the cold-blob surface (images, CSV archives).
type ObjectStore interface {
	Put(ctx Context, key string, body []byte, contentType string) (string, error)
	Get(ctx Context, key string) ([]byte, error)
	List(ctx Context, prefix string) ([]string, error)
	Delete(ctx Context, key string) error
}

// Fulfiller submits print orders and reports their progress.
type Fulfiller interface {
	Submit(ctx Context, imageURL string, address map[string]any, size string, qty int) (string, error)
	Status(ctx Context, fulfillmentID string) (string, error)
	Tracking(ctx Context, fulfillmentID string) (string, error)
}

// Alerter sends best-effort operator email. Send failures are logged and
// swallowed by callers.
type Alerter interface {
	Send(ctx Context, subject, body, level string) error
}

// TrendSource fetches raw candidates from one upstream.
type TrendSource interface {
	Name() string
	Fetch(ctx Context) ([]TrendCandidate, error)
}

// Context is an alias so domain signatures stay decoupled from the std
// package name; adapters and usecases pass context.Context through.
type Context = context.Context
