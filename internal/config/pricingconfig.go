// Pricing table loading: tier bands, per-tier prices, and cost structure.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// TierSpec is one row of the tier table: an inclusive day band plus the
// listed price per product type. MaxDays nil means open-ended.
type TierSpec struct {
	Tier    domain.PricingTier `yaml:"tier"`
	MinDays int                `yaml:"min_days"`
	MaxDays *int               `yaml:"max_days"`
	Prices  map[string]float64 `yaml:"prices"`
}

// PricingConfig holds the full pricing table. Loaded from YAML with
// DefaultPricingConfig as the fallback.
type PricingConfig struct {
	FeeRate                float64            `yaml:"fee_rate"`
	MinMargin              float64            `yaml:"min_margin"`
	SalesOverrideThreshold int                `yaml:"sales_override_threshold"`
	Tiers                  []TierSpec         `yaml:"tiers"`
	PrintCosts             map[string]float64 `yaml:"print_costs"`
	FallbackShippingCost   float64            `yaml:"fallback_shipping_cost"`
	FallbackPackagingCosts map[string]float64 `yaml:"fallback_packaging_costs"`
}

// DefaultPricingConfig returns the built-in table used when no YAML file is
// configured or the file cannot be read.
func DefaultPricingConfig() PricingConfig {
	days := func(n int) *int { return &n }
	return PricingConfig{
		FeeRate:                0.10,
		MinMargin:              0.20,
		SalesOverrideThreshold: 10,
		Tiers: []TierSpec{
			{Tier: domain.TierJustDropped, MinDays: 0, MaxDays: days(3), Prices: map[string]float64{
				domain.ProductSingleSmall: 5.49, domain.ProductSingleLarge: 6.49,
			}},
			{Tier: domain.TierTrending, MinDays: 4, MaxDays: days(13), Prices: map[string]float64{
				domain.ProductSingleSmall: 4.49, domain.ProductSingleLarge: 5.49,
			}},
			{Tier: domain.TierCooling, MinDays: 14, MaxDays: days(29), Prices: map[string]float64{
				domain.ProductSingleSmall: 3.49, domain.ProductSingleLarge: 4.49,
			}},
			{Tier: domain.TierEvergreen, MinDays: 30, MaxDays: nil, Prices: map[string]float64{
				domain.ProductSingleSmall: 3.49, domain.ProductSingleLarge: 4.49,
			}},
		},
		PrintCosts: map[string]float64{
			domain.ProductSingleSmall: 1.50,
			domain.ProductSingleLarge: 2.00,
		},
		FallbackShippingCost: 0.78,
		FallbackPackagingCosts: map[string]float64{
			domain.ProductSingleSmall: 0.15,
			domain.ProductSingleLarge: 0.20,
		},
	}
}

// LoadPricingConfig loads the pricing table from a YAML file. An empty path
// returns the defaults. Missing or partial fields fall back to defaults so a
// file may override only the tier table.
func LoadPricingConfig(path string) (PricingConfig, error) {
	cfg := DefaultPricingConfig()
	if path == "" {
		return cfg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return cfg, fmt.Errorf("op=config.LoadPricingConfig: %w", err)
	}
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return cfg, fmt.Errorf("op=config.LoadPricingConfig: %w", err)
	}

	var loaded PricingConfig
	if err := yaml.Unmarshal(content, &loaded); err != nil {
		return cfg, fmt.Errorf("op=config.LoadPricingConfig: %w", err)
	}

	if loaded.FeeRate > 0 {
		cfg.FeeRate = loaded.FeeRate
	}
	if loaded.MinMargin > 0 {
		cfg.MinMargin = loaded.MinMargin
	}
	if loaded.SalesOverrideThreshold > 0 {
		cfg.SalesOverrideThreshold = loaded.SalesOverrideThreshold
	}
	if len(loaded.Tiers) > 0 {
		cfg.Tiers = loaded.Tiers
	}
	if len(loaded.PrintCosts) > 0 {
		cfg.PrintCosts = loaded.PrintCosts
	}
	if loaded.FallbackShippingCost > 0 {
		cfg.FallbackShippingCost = loaded.FallbackShippingCost
	}
	if len(loaded.FallbackPackagingCosts) > 0 {
		cfg.FallbackPackagingCosts = loaded.FallbackPackagingCosts
	}
	return cfg, nil
}

// Bands converts the tier table to domain form, preserving scan order.
func (p PricingConfig) Bands() []domain.TierBand {
	bands := make([]domain.TierBand, 0, len(p.Tiers))
	for _, t := range p.Tiers {
		bands = append(bands, domain.TierBand{Tier: t.Tier, MinDays: t.MinDays, MaxDays: t.MaxDays})
	}
	return bands
}
