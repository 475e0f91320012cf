package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/domain"
)

func Test_Load_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected IsDev true")
	}
	if cfg.IsProd() {
		t.Fatalf("expected IsProd false")
	}
	if cfg.MaxTrendsPerCycle != 5 || cfg.MaxImagesPerDay != 50 || cfg.MaxActiveListings != 300 {
		t.Fatalf("cap defaults wrong: %d %d %d", cfg.MaxTrendsPerCycle, cfg.MaxImagesPerDay, cfg.MaxActiveListings)
	}
	if cfg.AIMonthlyBudgetCapUSD != 150 || cfg.AIMonthlyWarningUSD != 120 || cfg.AIDailyWarningUSD != 8 {
		t.Fatalf("budget defaults wrong: %v %v %v", cfg.AIMonthlyBudgetCapUSD, cfg.AIMonthlyWarningUSD, cfg.AIDailyWarningUSD)
	}
	if cfg.ReplicateCostPerImage != 0.003 {
		t.Fatalf("image cost default wrong: %v", cfg.ReplicateCostPerImage)
	}
	if cfg.EtsyDailyLimit != 10000 {
		t.Fatalf("etsy daily limit default wrong: %d", cfg.EtsyDailyLimit)
	}
	if len(cfg.RedditSubreddits) != 3 {
		t.Fatalf("subreddit defaults not parsed: %+v", cfg.RedditSubreddits)
	}
}

func Test_Load_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("MAX_IMAGES_PER_DAY", "10")
	t.Setenv("AI_MONTHLY_BUDGET_CAP_USD", "200")
	t.Setenv("REDDIT_SUBREDDITS", "stickers,art")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.IsProd() {
		t.Fatalf("expected IsProd true")
	}
	if cfg.MaxImagesPerDay != 10 {
		t.Fatalf("expected image cap override, got %d", cfg.MaxImagesPerDay)
	}
	if cfg.AIMonthlyBudgetCapUSD != 200 {
		t.Fatalf("expected budget override, got %v", cfg.AIMonthlyBudgetCapUSD)
	}
	if len(cfg.RedditSubreddits) != 2 || cfg.RedditSubreddits[0] != "stickers" {
		t.Fatalf("subreddit override not parsed: %+v", cfg.RedditSubreddits)
	}
}

func Test_GetRetryConfig_TestEnv(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	if !cfg.IsTest() {
		t.Fatalf("expected IsTest true")
	}

	rc := cfg.GetRetryConfig()
	if rc.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", rc.MaxAttempts)
	}
	if rc.InitialDelay >= cfg.RetryInitialDelay {
		t.Fatalf("expected shortened delays in test env, got %v", rc.InitialDelay)
	}
	if rc.Jitter {
		t.Fatalf("expected jitter off in test env")
	}
}

func Test_DefaultPricingConfig(t *testing.T) {
	p := DefaultPricingConfig()

	require.Len(t, p.Tiers, 4)
	require.Equal(t, domain.TierJustDropped, p.Tiers[0].Tier)
	require.Equal(t, 0, p.Tiers[0].MinDays)
	require.Equal(t, 3, *p.Tiers[0].MaxDays)
	require.Equal(t, 4, p.Tiers[1].MinDays)
	require.Equal(t, 13, *p.Tiers[1].MaxDays)
	require.Equal(t, 14, p.Tiers[2].MinDays)
	require.Equal(t, 29, *p.Tiers[2].MaxDays)
	require.Equal(t, domain.TierEvergreen, p.Tiers[3].Tier)
	require.Equal(t, 30, p.Tiers[3].MinDays)
	require.Nil(t, p.Tiers[3].MaxDays)

	require.Equal(t, 5.49, p.Tiers[0].Prices[domain.ProductSingleSmall])
	require.Equal(t, 6.49, p.Tiers[0].Prices[domain.ProductSingleLarge])
	require.Equal(t, 4.49, p.Tiers[1].Prices[domain.ProductSingleSmall])
	require.Equal(t, 3.49, p.Tiers[2].Prices[domain.ProductSingleSmall])
	require.Equal(t, 3.49, p.Tiers[3].Prices[domain.ProductSingleSmall])

	require.Equal(t, 0.10, p.FeeRate)
	require.Equal(t, 0.20, p.MinMargin)
	require.Equal(t, 10, p.SalesOverrideThreshold)
	require.Equal(t, 1.50, p.PrintCosts[domain.ProductSingleSmall])
	require.Equal(t, 2.00, p.PrintCosts[domain.ProductSingleLarge])
	require.Equal(t, 0.78, p.FallbackShippingCost)
	require.Equal(t, 0.15, p.FallbackPackagingCosts[domain.ProductSingleSmall])

	bands := p.Bands()
	require.Len(t, bands, 4)
	require.Equal(t, domain.TierCooling, bands[2].Tier)
}

func Test_LoadPricingConfig_FileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	body := "fee_rate: 0.12\ntiers:\n  - tier: just_dropped\n    min_days: 0\n    max_days: 5\n    prices:\n      single_small: 6.49\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := LoadPricingConfig(path)
	require.NoError(t, err)
	require.Equal(t, 0.12, p.FeeRate)
	require.Len(t, p.Tiers, 1)
	require.Equal(t, 5, *p.Tiers[0].MaxDays)
	require.Equal(t, 6.49, p.Tiers[0].Prices[domain.ProductSingleSmall])
	// sections absent from the file keep their defaults
	require.Equal(t, 0.20, p.MinMargin)
	require.Equal(t, 10, p.SalesOverrideThreshold)
	require.Equal(t, 1.50, p.PrintCosts[domain.ProductSingleSmall])
}

func Test_LoadPricingConfig_MissingFile(t *testing.T) {
	p, err := LoadPricingConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	// defaults still usable despite the error
	require.Len(t, p.Tiers, 4)
}

func Test_LoadPricingConfig_EmptyPath(t *testing.T) {
	p, err := LoadPricingConfig("")
	require.NoError(t, err)
	require.Len(t, p.Tiers, 4)
}
