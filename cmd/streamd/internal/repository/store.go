package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bblair31/marketViz-backend/pkg/models"
)

// ErrAlreadyTerminal reports an attempted trigger on an alert that is no
// longer ACTIVE. First write wins; callers treat this as a no-op.
var ErrAlreadyTerminal = errors.New("alert already terminal")

// AlertStore is the persistence contract consumed by the evaluator. The CRUD
// surface owns the full alert lifecycle; this core only lists ACTIVE alerts
// and performs the conditional TRIGGERED write.
type AlertStore interface {
	ListActive(ctx context.Context, symbol string) ([]models.Alert, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.Alert, error)
	// MarkTriggered flips an ACTIVE alert to TRIGGERED exactly once.
	// Returns ErrAlreadyTerminal when the alert already left ACTIVE.
	MarkTriggered(ctx context.Context, alertID string, at time.Time) error
}

// QuoteCache holds the latest successfully fetched quote per symbol.
type QuoteCache interface {
	SetLatest(ctx context.Context, q models.Quote) error
	GetLatest(ctx context.Context, symbol string) (models.Quote, error)
}
