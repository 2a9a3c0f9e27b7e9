package provider

import (
	"context"

	"github.com/bblair31/marketViz-backend/pkg/models"
)

// MarketDataProvider fetches a point-in-time quote for a symbol. The upstream
// applies its own caching and rate limiting; callers treat every error here
// as transient.
type MarketDataProvider interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
}
