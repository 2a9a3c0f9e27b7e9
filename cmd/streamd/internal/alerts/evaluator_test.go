package alerts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/alerts"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/testutils"
	"github.com/bblair31/marketViz-backend/pkg/models"
)

func activeAlert(id, userID, symbol string, cond models.AlertCondition, target float64) models.Alert {
	return models.Alert{
		ID: id, UserID: userID, Symbol: symbol,
		Condition: cond, TargetPrice: target, Status: models.AlertActive,
	}
}

func quote(symbol string, price float64) models.Quote {
	return models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UnixMilli()}
}

func setup(alertSeeds ...models.Alert) (*alerts.Evaluator, *testutils.MockAlertStore, *testutils.MockBroadcaster, *testutils.MockProvider, *testutils.MockSink) {
	store := testutils.NewMockAlertStore(alertSeeds...)
	b := testutils.NewMockBroadcaster()
	p := testutils.NewMockProvider()
	sink := &testutils.MockSink{}
	e := alerts.NewEvaluator(store, p, nil, b, sink, zap.NewNop())
	return e, store, b, p, sink
}

func TestEvaluator_AboveTriggersExactlyOnce(t *testing.T) {
	e, store, b, _, sink := setup(activeAlert("a1", "user-1", "AAPL", models.ConditionAbove, 200))

	e.OnQuote(context.Background(), quote("AAPL", 205))
	e.OnQuote(context.Background(), quote("AAPL", 206))

	if b.AlertCount() != 1 {
		t.Fatalf("expected exactly one alert:triggered, got %d", b.AlertCount())
	}

	b.Mu.Lock()
	ev := b.AlertEvents[0]
	b.Mu.Unlock()
	if ev.CurrentPrice != 205 {
		t.Errorf("trigger must fire on the first satisfying quote, got price %v", ev.CurrentPrice)
	}

	a, _ := store.Get("a1")
	if a.Status != models.AlertTriggered {
		t.Errorf("expected TRIGGERED, got %s", a.Status)
	}
	if a.TriggeredAt == nil {
		t.Errorf("triggeredAt must be set on transition")
	}

	sink.Mu.Lock()
	defer sink.Mu.Unlock()
	if len(sink.Events) != 1 {
		t.Errorf("sink must receive exactly one event, got %d", len(sink.Events))
	}
}

func TestEvaluator_ConditionSemantics(t *testing.T) {
	cases := []struct {
		name    string
		cond    models.AlertCondition
		target  float64
		price   float64
		trigger bool
	}{
		{"above met", models.ConditionAbove, 200, 200, true},
		{"above not met", models.ConditionAbove, 200, 199.99, false},
		{"below met", models.ConditionBelow, 100, 99, true},
		{"below not met", models.ConditionBelow, 100, 100.01, false},
		// Without retained prior-price state, crossing conditions reduce to
		// their plain forms.
		{"crosses above behaves as above", models.ConditionCrossesAbove, 200, 201, true},
		{"crosses below behaves as below", models.ConditionCrossesBelow, 100, 99, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, store, b, _, _ := setup(activeAlert("a1", "user-1", "AAPL", tc.cond, tc.target))
			e.OnQuote(context.Background(), quote("AAPL", tc.price))

			triggered := b.AlertCount() == 1
			if triggered != tc.trigger {
				t.Errorf("condition %s target %v price %v: triggered=%v, want %v",
					tc.cond, tc.target, tc.price, triggered, tc.trigger)
			}
			a, _ := store.Get("a1")
			if tc.trigger && a.Status != models.AlertTriggered {
				t.Errorf("expected TRIGGERED, got %s", a.Status)
			}
			if !tc.trigger && a.Status != models.AlertActive {
				t.Errorf("no-trigger must leave the alert ACTIVE, got %s", a.Status)
			}
		})
	}
}

func TestEvaluator_TerminalStatesAreMonotonic(t *testing.T) {
	triggeredAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trig := models.Alert{
		ID: "t1", UserID: "user-1", Symbol: "AAPL",
		Condition: models.ConditionAbove, TargetPrice: 100,
		Status: models.AlertTriggered, TriggeredAt: &triggeredAt,
	}
	cancelled := models.Alert{
		ID: "c1", UserID: "user-1", Symbol: "AAPL",
		Condition: models.ConditionAbove, TargetPrice: 100,
		Status: models.AlertCancelled,
	}
	e, store, b, _, _ := setup(trig, cancelled)

	e.OnQuote(context.Background(), quote("AAPL", 500))

	if b.AlertCount() != 0 {
		t.Errorf("terminal alerts must never fire")
	}
	a, _ := store.Get("t1")
	if a.Status != models.AlertTriggered || !a.TriggeredAt.Equal(triggeredAt) {
		t.Errorf("triggered alert must keep its status and timestamp")
	}
	c, _ := store.Get("c1")
	if c.Status != models.AlertCancelled {
		t.Errorf("cancelled alert must stay cancelled")
	}
}

func TestEvaluator_ConcurrentTickAndManualCheck(t *testing.T) {
	e, store, b, p, _ := setup(activeAlert("a1", "user-1", "AAPL", models.ConditionAbove, 200))
	p.SetPrice("AAPL", 210)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.OnQuote(context.Background(), quote("AAPL", 210))
		}()
		go func() {
			defer wg.Done()
			e.CheckUserAlerts(context.Background(), "user-1")
		}()
	}
	wg.Wait()

	if b.AlertCount() != 1 {
		t.Errorf("concurrent evaluation paths must produce exactly one trigger, got %d", b.AlertCount())
	}
	a, _ := store.Get("a1")
	if a.Status != models.AlertTriggered {
		t.Errorf("expected TRIGGERED, got %s", a.Status)
	}
}

func TestEvaluator_ManualCheckBatchesOneFetchPerSymbol(t *testing.T) {
	e, _, b, p, _ := setup(
		activeAlert("a1", "user-1", "AAPL", models.ConditionAbove, 1000),
		activeAlert("a2", "user-1", "AAPL", models.ConditionBelow, 1),
		activeAlert("a3", "user-1", "TSLA", models.ConditionAbove, 1000),
	)
	p.SetPrice("AAPL", 150)
	p.SetPrice("TSLA", 700)

	if err := e.CheckUserAlerts(context.Background(), "user-1"); err != nil {
		t.Fatalf("check: %v", err)
	}

	if n := p.FetchCount("AAPL"); n != 1 {
		t.Errorf("expected one fetch for AAPL's two alerts, got %d", n)
	}
	if n := p.FetchCount("TSLA"); n != 1 {
		t.Errorf("expected one fetch for TSLA, got %d", n)
	}
	if b.AlertCount() != 0 {
		t.Errorf("no alert should trigger at these prices")
	}
}

func TestEvaluator_ManualCheckSkipsSymbolsWithoutQuotes(t *testing.T) {
	e, store, b, p, _ := setup(
		activeAlert("a1", "user-1", "MSFT", models.ConditionAbove, 100),
		activeAlert("a2", "user-1", "AAPL", models.ConditionAbove, 100),
	)
	// Only AAPL has a quote; MSFT's fetch fails.
	p.SetPrice("AAPL", 150)

	if err := e.CheckUserAlerts(context.Background(), "user-1"); err != nil {
		t.Fatalf("a missing quote must not fail the whole check: %v", err)
	}

	if b.AlertCount() != 1 {
		t.Fatalf("the quotable symbol must still be evaluated, got %d triggers", b.AlertCount())
	}
	a, _ := store.Get("a1")
	if a.Status != models.AlertActive {
		t.Errorf("the unquotable symbol's alert must remain ACTIVE")
	}
}

func TestEvaluator_FailedTickLeavesAlertsActive(t *testing.T) {
	// A failed fetch never reaches OnQuote; this covers the next-best thing:
	// a quote below target changes nothing, and a later satisfying quote
	// still triggers.
	e, store, b, _, _ := setup(activeAlert("a1", "user-1", "MSFT", models.ConditionAbove, 400))

	e.OnQuote(context.Background(), quote("MSFT", 395))
	if b.AlertCount() != 0 {
		t.Fatalf("no trigger expected below target")
	}
	a, _ := store.Get("a1")
	if a.Status != models.AlertActive {
		t.Fatalf("alert must remain ACTIVE")
	}

	e.OnQuote(context.Background(), quote("MSFT", 405))
	if b.AlertCount() != 1 {
		t.Errorf("delivery and evaluation must resume on the next satisfying quote")
	}
}
