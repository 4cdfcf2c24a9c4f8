package monitoring

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// PriceSource quotes the on-demand hourly price of an instance type
type PriceSource interface {
	HourlyPrice(ctx context.Context, instanceType string) (float64, error)
}

// PriceRefresher keeps the cost tracker's hourly rate in line with the
// provider's published on-demand price
type PriceRefresher struct {
	source       PriceSource
	tracker      *CostTracker
	instanceType string
	interval     time.Duration
	logger       arbor.ILogger
}

// NewPriceRefresher creates a new price refresher
func NewPriceRefresher(source PriceSource, tracker *CostTracker, instanceType string, interval time.Duration, logger arbor.ILogger) *PriceRefresher {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &PriceRefresher{
		source:       source,
		tracker:      tracker,
		instanceType: instanceType,
		interval:     interval,
		logger:       logger,
	}
}

// Start refreshes immediately, then every interval until ctx is cancelled
func (pr *PriceRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	pr.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pr.Refresh(ctx)
		}
	}
}

// Refresh fetches the current price once. The previous rate is kept on error.
func (pr *PriceRefresher) Refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	price, err := pr.source.HourlyPrice(fetchCtx, pr.instanceType)
	if err != nil {
		pr.logger.Warn().Err(err).Str("instance_type", pr.instanceType).Msg("Failed to refresh on-demand price")
		return
	}
	if price <= 0 || price == pr.tracker.HourlyPrice() {
		return
	}
	pr.tracker.SetHourlyPrice(price)
	pr.logger.Info().Str("instance_type", pr.instanceType).Float64("hourly_price_usd", price).Msg("Updated backend hourly price")
}
