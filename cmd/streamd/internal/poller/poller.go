package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/provider"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/repository"
	"github.com/bblair31/marketViz-backend/pkg/models"
)

const DefaultInterval = 30 * time.Second

// Broadcaster receives quotes fanned out to symbol subscribers. snapshot
// marks the first delivery after a symbol activates.
type Broadcaster interface {
	PublishPrice(symbol string, q models.Quote, snapshot bool)
}

// Evaluator consumes each successfully fetched quote.
type Evaluator interface {
	OnQuote(ctx context.Context, q models.Quote)
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller owns exactly one periodic fetch task per actively-subscribed symbol.
// Activation fetches once immediately, then on a fixed interval. The fetch
// runs on the task goroutine, so at most one call is in flight per symbol; a
// slow fetch delays the next cycle rather than overlapping it.
type Poller struct {
	provider    provider.MarketDataProvider
	broadcaster Broadcaster
	evaluator   Evaluator
	cache       repository.QuoteCache
	logger      *zap.Logger
	interval    time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

func New(p provider.MarketDataProvider, b Broadcaster, e Evaluator, cache repository.QuoteCache, logger *zap.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		provider:    p,
		broadcaster: b,
		evaluator:   e,
		cache:       cache,
		logger:      logger,
		interval:    interval,
		tasks:       make(map[string]*task),
	}
}

// Activate starts the poll task for symbol. Idempotent: a symbol that
// already has a task keeps it, so a racing resubscribe cannot double-start.
func (p *Poller) Activate(symbol string) {
	p.mu.Lock()
	if _, ok := p.tasks[symbol]; ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	p.tasks[symbol] = t
	p.mu.Unlock()

	go p.run(ctx, symbol, t)
}

// Deactivate cancels the symbol's task and releases its handle. An in-flight
// fetch is allowed to complete; its result is discarded.
func (p *Poller) Deactivate(symbol string) {
	p.mu.Lock()
	t, ok := p.tasks[symbol]
	if ok {
		delete(p.tasks, symbol)
	}
	p.mu.Unlock()

	if ok {
		t.cancel()
	}
}

// Active reports whether symbol currently has a poll task.
func (p *Poller) Active(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[symbol]
	return ok
}

// StopAll cancels every task and waits for the goroutines to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = make(map[string]*task)
	p.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

func (p *Poller) run(ctx context.Context, symbol string, t *task) {
	defer close(t.done)

	// Immediate out-of-cycle fetch so new subscribers see a price before the
	// first interval elapses. Failure here is swallowed like any other cycle.
	p.poll(ctx, symbol, true)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, symbol, false)
		}
	}
}

// poll performs one fetch cycle: fetch, cache, fan out, evaluate alerts.
func (p *Poller) poll(ctx context.Context, symbol string, snapshot bool) {
	q, err := p.provider.GetQuote(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("quote fetch failed, skipping cycle",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	// The task may have been cancelled while the fetch was in flight; the
	// result is discarded, not published.
	if ctx.Err() != nil {
		return
	}

	if p.cache != nil {
		if err := p.cache.SetLatest(context.Background(), q); err != nil {
			p.logger.Debug("quote cache write failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	p.broadcaster.PublishPrice(symbol, q, snapshot)
	// Background context: alert writes are not cancelled mid-transition.
	p.evaluator.OnQuote(context.Background(), q)
}
