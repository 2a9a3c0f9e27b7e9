package poller_test

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/poller"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/testutils"
)

const testInterval = 15 * time.Millisecond

func setup() (*poller.Poller, *testutils.MockProvider, *testutils.MockBroadcaster, *testutils.MockEvaluator) {
	p := testutils.NewMockProvider()
	b := testutils.NewMockBroadcaster()
	e := testutils.NewMockEvaluator()
	poll := poller.New(p, b, e, nil, zap.NewNop(), testInterval)
	return poll, p, b, e
}

func TestPoller_ImmediateFetchOnActivate(t *testing.T) {
	poll, p, b, e := setup()
	defer poll.StopAll()
	p.SetPrice("AAPL", 150)

	poll.Activate("AAPL")

	if !testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("AAPL") >= 1 }) {
		t.Fatalf("expected an immediate publish after activation")
	}

	b.Mu.Lock()
	first := b.Prices[0]
	b.Mu.Unlock()
	if !first.Snapshot {
		t.Errorf("first delivery must carry the session snapshot")
	}
	if first.Quote.Price != 150 {
		t.Errorf("expected price 150, got %v", first.Quote.Price)
	}
	if !testutils.WaitUntil(t, time.Second, func() bool { return e.Count() >= 1 }) {
		t.Errorf("quote must reach the alert evaluator")
	}
}

func TestPoller_SubsequentTicksAreNotSnapshots(t *testing.T) {
	poll, p, b, _ := setup()
	defer poll.StopAll()
	p.SetPrice("AAPL", 150)

	poll.Activate("AAPL")
	if !testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("AAPL") >= 2 }) {
		t.Fatalf("expected a second tick")
	}

	b.Mu.Lock()
	second := b.Prices[1]
	b.Mu.Unlock()
	if second.Snapshot {
		t.Errorf("only the first delivery carries the session snapshot")
	}
}

func TestPoller_ActivateIsIdempotent(t *testing.T) {
	p := testutils.NewMockProvider()
	b := testutils.NewMockBroadcaster()
	e := testutils.NewMockEvaluator()
	// Long interval so only the immediate fetches can run during the test.
	poll := poller.New(p, b, e, nil, zap.NewNop(), time.Minute)
	defer poll.StopAll()
	p.SetPrice("GOOGL", 2800)

	poll.Activate("GOOGL")
	poll.Activate("GOOGL")

	if !testutils.WaitUntil(t, time.Second, func() bool { return p.FetchCount("GOOGL") >= 1 }) {
		t.Fatalf("immediate fetch did not run")
	}
	time.Sleep(20 * time.Millisecond)
	if n := p.FetchCount("GOOGL"); n != 1 {
		t.Errorf("double activation must not double the immediate fetch, got %d", n)
	}
	if !poll.Active("GOOGL") {
		t.Errorf("task must be active")
	}
}

func TestPoller_FetchFailureSkipsCycle(t *testing.T) {
	poll, p, b, e := setup()
	defer poll.StopAll()
	p.SetErr(errors.New("upstream unavailable"))

	poll.Activate("MSFT")

	if !testutils.WaitUntil(t, time.Second, func() bool { return p.FetchCount("MSFT") >= 2 }) {
		t.Fatalf("polling must continue through failures")
	}
	if b.PriceCount("MSFT") != 0 {
		t.Errorf("failed cycles must not publish")
	}
	if e.Count() != 0 {
		t.Errorf("failed cycles must not reach the evaluator")
	}

	// Recovery: the next cycle resumes normal delivery and evaluation.
	p.SetErr(nil)
	p.SetPrice("MSFT", 410)
	if !testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("MSFT") >= 1 }) {
		t.Errorf("publishing must resume once the upstream recovers")
	}
	if !testutils.WaitUntil(t, time.Second, func() bool { return e.Count() >= 1 }) {
		t.Errorf("evaluation must resume once the upstream recovers")
	}
}

func TestPoller_DeactivateStopsPolling(t *testing.T) {
	poll, p, b, _ := setup()
	p.SetPrice("TSLA", 700)

	poll.Activate("TSLA")
	if !testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("TSLA") >= 1 }) {
		t.Fatalf("expected initial publish")
	}

	poll.Deactivate("TSLA")
	if poll.Active("TSLA") {
		t.Errorf("task handle must be released on deactivation")
	}

	published := b.PriceCount("TSLA")
	fetched := p.FetchCount("TSLA")
	time.Sleep(4 * testInterval)
	if b.PriceCount("TSLA") != published {
		t.Errorf("no publishes may occur after deactivation")
	}
	if p.FetchCount("TSLA") != fetched {
		t.Errorf("no fetches may occur after deactivation")
	}
}

func TestPoller_ReactivationStartsFreshTask(t *testing.T) {
	poll, p, b, _ := setup()
	defer poll.StopAll()
	p.SetPrice("AMZN", 3400)

	poll.Activate("AMZN")
	testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("AMZN") >= 1 })
	poll.Deactivate("AMZN")

	before := b.PriceCount("AMZN")
	poll.Activate("AMZN")
	if !testutils.WaitUntil(t, time.Second, func() bool { return b.PriceCount("AMZN") > before }) {
		t.Fatalf("reactivation must run a fresh immediate fetch")
	}

	b.Mu.Lock()
	last := b.Prices[len(b.Prices)-1]
	b.Mu.Unlock()
	if !last.Snapshot {
		t.Errorf("reactivation's first delivery must carry the session snapshot")
	}
}

func TestPoller_InFlightResultDiscardedAfterDeactivate(t *testing.T) {
	poll, p, b, e := setup()
	p.SetPrice("NVDA", 120)
	release := make(chan struct{})
	p.Mu.Lock()
	p.Block = release
	p.Mu.Unlock()

	poll.Activate("NVDA")
	// Wait for the immediate fetch to be in flight.
	if !testutils.WaitUntil(t, time.Second, func() bool { return p.FetchCount("NVDA") >= 1 }) {
		t.Fatalf("fetch did not start")
	}

	poll.Deactivate("NVDA")
	close(release)

	time.Sleep(20 * time.Millisecond)
	if b.PriceCount("NVDA") != 0 {
		t.Errorf("a result arriving after deactivation must be discarded")
	}
	if e.Count() != 0 {
		t.Errorf("a discarded result must not reach the evaluator")
	}
}
