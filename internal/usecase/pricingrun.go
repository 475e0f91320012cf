package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/pricing"
	"github.com/stickertrendz/pipeline/internal/service/ratelimiter"
)

// pricingWorkers bounds concurrent reprice calls; each worker owns one
// sticker at a time so no row is touched twice.
const pricingWorkers = 8

// PricingRun walks every published listing through the lifecycle
// pricing engine, archiving first so dead listings never get repriced.
type PricingRun struct {
	Runner   *Runner
	Governor *ratelimiter.Governor
	Stickers domain.StickerRepository
	Engine   *pricing.Engine
	Archiver *pricing.Archiver
	Tiers    *pricing.TierBook
}

// Run executes one pricing_engine cycle and returns the exit code.
func (p *PricingRun) Run(ctx context.Context) int {
	return p.Runner.Execute(ctx, domain.WorkflowPricingEngine, p.admission, p.body)
}

func (p *PricingRun) admission(ctx context.Context) (string, error) {
	ok, err := p.Governor.CanProceed(ctx, domain.P2PriceUpdates)
	if err != nil {
		return "", err
	}
	if !ok {
		return "api_budget", nil
	}
	return "", nil
}

func (p *PricingRun) body(ctx context.Context, scope *RunScope) error {
	p.Tiers.RefreshFromStore(ctx)

	if archived := p.Archiver.Run(ctx); archived > 0 {
		scope.Count(func(c *domain.RunCounts) { c.StickersArchived += archived })
	}

	published, err := p.Stickers.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("op=usecase.pricingrun: %w", err)
	}

	work := make(chan domain.Sticker)
	var wg sync.WaitGroup
	for range pricingWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				p.repriceOne(ctx, scope, s)
			}
		}()
	}
	for _, s := range published {
		if Deadline(ctx) {
			break
		}
		work <- s
	}
	close(work)
	wg.Wait()
	return nil
}

func (p *PricingRun) repriceOne(ctx context.Context, scope *RunScope, s domain.Sticker) {
	outcome, err := p.Engine.Reprice(ctx, s)
	if err != nil {
		scope.ItemError(ctx, "reprice", domain.ServiceOf(err), err, map[string]any{
			"sticker_id": s.ID,
			"tier":       string(s.PricingTier),
		})
		return
	}
	if outcome == pricing.OutcomeRepriced {
		scope.Count(func(c *domain.RunCounts) { c.PricesUpdated++ })
		scope.AddAPICalls(1)
	}
}
