package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/events"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/provider"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/repository"
	"github.com/bblair31/marketViz-backend/pkg/models"
)

// Broadcaster publishes triggered-alert events to connected clients.
type Broadcaster interface {
	PublishAlertTriggered(userID string, ev models.AlertEvent)
}

// Evaluator drives the alert state machine off the quote stream. The only
// transition it performs is ACTIVE -> TRIGGERED; CANCELLED is written by the
// CRUD surface and both are terminal.
type Evaluator struct {
	store       repository.AlertStore
	provider    provider.MarketDataProvider
	cache       repository.QuoteCache // optional
	broadcaster Broadcaster
	sink        events.Sink
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per alert id
}

func NewEvaluator(
	store repository.AlertStore,
	p provider.MarketDataProvider,
	cache repository.QuoteCache,
	broadcaster Broadcaster,
	sink events.Sink,
	logger *zap.Logger,
) *Evaluator {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Evaluator{
		store:       store,
		provider:    p,
		cache:       cache,
		broadcaster: broadcaster,
		sink:        sink,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// OnQuote evaluates every ACTIVE alert on the quote's symbol. A store error
// skips this cycle; the alerts stay ACTIVE and the next quote retries.
func (e *Evaluator) OnQuote(ctx context.Context, q models.Quote) {
	alerts, err := e.store.ListActive(ctx, q.Symbol)
	if err != nil {
		e.logger.Warn("listing active alerts failed",
			zap.String("symbol", q.Symbol), zap.Error(err))
		return
	}
	for _, a := range alerts {
		e.evaluate(ctx, a, q.Price)
	}
}

// CheckUserAlerts evaluates all of the user's ACTIVE alerts on demand,
// fetching at most one quote per distinct symbol. Idempotent with the
// tick-driven path: both funnel through the same per-alert critical section
// and conditional write.
func (e *Evaluator) CheckUserAlerts(ctx context.Context, userID string) error {
	alerts, err := e.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return err
	}

	bySymbol := make(map[string][]models.Alert)
	for _, a := range alerts {
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}

	for symbol, group := range bySymbol {
		price, err := e.latestPrice(ctx, symbol)
		if err != nil {
			e.logger.Warn("no quote for alert check, skipping symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, a := range group {
			e.evaluate(ctx, a, price)
		}
	}
	return nil
}

// evaluate runs the ACTIVE -> TRIGGERED transition for one alert. The
// per-id lock plus the store's conditional write guarantee at most one
// trigger even when the tick path and a manual check race.
func (e *Evaluator) evaluate(ctx context.Context, a models.Alert, price float64) {
	if a.Status != models.AlertActive || !shouldTrigger(a, price) {
		return
	}

	lock := e.lockFor(a.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	err := e.store.MarkTriggered(ctx, a.ID, now)
	switch {
	case errors.Is(err, repository.ErrAlreadyTerminal):
		// lost the race to another evaluation path; first write wins
		e.forget(a.ID)
		return
	case err != nil:
		e.logger.Error("marking alert triggered failed",
			zap.String("alert_id", a.ID), zap.Error(err))
		return
	}
	e.forget(a.ID)

	ev := models.AlertEvent{
		ID:           a.ID,
		UserID:       a.UserID,
		Symbol:       a.Symbol,
		Condition:    a.Condition,
		TargetPrice:  a.TargetPrice,
		CurrentPrice: price,
		TriggeredAt:  now,
	}

	e.logger.Info("alert triggered",
		zap.String("alert_id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.Float64("price", price))

	e.broadcaster.PublishAlertTriggered(a.UserID, ev)

	if err := e.sink.Publish(context.Background(), ev); err != nil {
		e.logger.Error("alert event sink publish failed",
			zap.String("alert_id", a.ID), zap.Error(err))
	}
}

// shouldTrigger compares the quote price against the alert condition.
// Crossing conditions evaluate against the current price only; no prior
// price is retained, so they reduce to their plain forms.
func shouldTrigger(a models.Alert, price float64) bool {
	switch a.Condition {
	case models.ConditionAbove, models.ConditionCrossesAbove:
		return price >= a.TargetPrice
	case models.ConditionBelow, models.ConditionCrossesBelow:
		return price <= a.TargetPrice
	}
	return false
}

// latestPrice prefers the cached quote from the poll stream and falls back
// to a direct provider fetch.
func (e *Evaluator) latestPrice(ctx context.Context, symbol string) (float64, error) {
	if e.cache != nil {
		if q, err := e.cache.GetLatest(ctx, symbol); err == nil {
			return q.Price, nil
		}
	}
	q, err := e.provider.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

func (e *Evaluator) lockFor(alertID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[alertID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[alertID] = l
	}
	return l
}

// forget drops the lock entry for an alert that reached a terminal state.
// Holders of the old pointer still serialize correctly against each other.
func (e *Evaluator) forget(alertID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, alertID)
}
