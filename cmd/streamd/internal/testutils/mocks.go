package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/protocol"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/repository"
	"github.com/bblair31/marketViz-backend/pkg/models"
)

// MockConn simulates a connected websocket client.
type MockConn struct {
	IDVal    string
	Messages []protocol.Envelope // decoded from SendJSON and SendBytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockConn(id string) *MockConn {
	return &MockConn{IDVal: id}
}

func (m *MockConn) ID() string { return m.IDVal }

func (m *MockConn) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockConn) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.SendBytes(b)
}

func (m *MockConn) SendBytes(b []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = append(m.Messages, env)
}

func (m *MockConn) LastType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// CountType returns how many received messages carry the given type.
func (m *MockConn) CountType(msgType string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, env := range m.Messages {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

// MockFeed records symbol activations and deactivations.
type MockFeed struct {
	Activations   map[string]int
	Deactivations map[string]int
	Mu            sync.Mutex
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		Activations:   make(map[string]int),
		Deactivations: make(map[string]int),
	}
}

func (f *MockFeed) Activate(symbol string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Activations[symbol]++
}

func (f *MockFeed) Deactivate(symbol string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Deactivations[symbol]++
}

// Active reports whether the feed believes symbol has a running task.
func (f *MockFeed) Active(symbol string) bool {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return f.Activations[symbol] > f.Deactivations[symbol]
}

// MockProvider serves quotes from a price map with optional failure
// injection and fetch accounting.
type MockProvider struct {
	Prices  map[string]float64
	Err     error         // when set, every fetch fails
	Block   chan struct{} // when set, fetches wait until the channel closes
	Fetches map[string]int
	Mu      sync.Mutex
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Prices:  make(map[string]float64),
		Fetches: make(map[string]int),
	}
}

func (p *MockProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	p.Mu.Lock()
	p.Fetches[symbol]++
	err := p.Err
	price, ok := p.Prices[symbol]
	block := p.Block
	p.Mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if err != nil {
		return models.Quote{}, err
	}
	if !ok {
		return models.Quote{}, fmt.Errorf("no quote data for %s", symbol)
	}
	return models.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        1.5,
		ChangePercent: 0.75,
		Volume:        1000,
		High:          price + 2,
		Low:           price - 2,
		Open:          price - 1,
		PreviousClose: price - 1.5,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (p *MockProvider) SetPrice(symbol string, price float64) {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	p.Prices[symbol] = price
}

func (p *MockProvider) SetErr(err error) {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	p.Err = err
}

func (p *MockProvider) FetchCount(symbol string) int {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	return p.Fetches[symbol]
}

// MockAlertStore is an in-memory AlertStore with an atomic MarkTriggered.
type MockAlertStore struct {
	Alerts map[string]*models.Alert
	Mu     sync.Mutex
}

func NewMockAlertStore(alerts ...models.Alert) *MockAlertStore {
	s := &MockAlertStore{Alerts: make(map[string]*models.Alert)}
	for i := range alerts {
		a := alerts[i]
		s.Alerts[a.ID] = &a
	}
	return s
}

func (s *MockAlertStore) ListActive(ctx context.Context, symbol string) ([]models.Alert, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	var out []models.Alert
	for _, a := range s.Alerts {
		if a.Symbol == symbol && a.Status == models.AlertActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MockAlertStore) ListActiveByUser(ctx context.Context, userID string) ([]models.Alert, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	var out []models.Alert
	for _, a := range s.Alerts {
		if a.UserID == userID && a.Status == models.AlertActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MockAlertStore) MarkTriggered(ctx context.Context, alertID string, at time.Time) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	a, ok := s.Alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s not found", alertID)
	}
	if a.Status != models.AlertActive {
		return repository.ErrAlreadyTerminal
	}
	a.Status = models.AlertTriggered
	ts := at
	a.TriggeredAt = &ts
	return nil
}

func (s *MockAlertStore) Get(alertID string) (models.Alert, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if a, ok := s.Alerts[alertID]; ok {
		return *a, true
	}
	return models.Alert{}, false
}

// MockBroadcaster records published messages instead of fanning out.
type MockBroadcaster struct {
	Prices      []PricePublish
	AlertEvents []models.AlertEvent
	Mu          sync.Mutex
}

type PricePublish struct {
	Symbol   string
	Quote    models.Quote
	Snapshot bool
}

func NewMockBroadcaster() *MockBroadcaster { return &MockBroadcaster{} }

func (b *MockBroadcaster) PublishPrice(symbol string, q models.Quote, snapshot bool) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.Prices = append(b.Prices, PricePublish{Symbol: symbol, Quote: q, Snapshot: snapshot})
}

func (b *MockBroadcaster) PublishAlertTriggered(userID string, ev models.AlertEvent) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.AlertEvents = append(b.AlertEvents, ev)
}

func (b *MockBroadcaster) PriceCount(symbol string) int {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	n := 0
	for _, p := range b.Prices {
		if p.Symbol == symbol {
			n++
		}
	}
	return n
}

func (b *MockBroadcaster) AlertCount() int {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return len(b.AlertEvents)
}

// MockEvaluator counts quotes handed to the alert path.
type MockEvaluator struct {
	Quotes []models.Quote
	Mu     sync.Mutex
}

func NewMockEvaluator() *MockEvaluator { return &MockEvaluator{} }

func (e *MockEvaluator) OnQuote(ctx context.Context, q models.Quote) {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	e.Quotes = append(e.Quotes, q)
}

func (e *MockEvaluator) Count() int {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	return len(e.Quotes)
}

// MockSink records alert events handed to the notification pipeline.
type MockSink struct {
	Events []models.AlertEvent
	Mu     sync.Mutex
}

func (s *MockSink) Publish(ctx context.Context, ev models.AlertEvent) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Events = append(s.Events, ev)
	return nil
}

func (s *MockSink) Close() error { return nil }

// WaitUntil polls cond until it holds or the timeout elapses.
func WaitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
