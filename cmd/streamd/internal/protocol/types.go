package protocol

import "github.com/bblair31/marketViz-backend/pkg/models"

// Inbound message types.
const (
	TypeSubscribePrices    = "subscribe:prices"
	TypeUnsubscribePrices  = "unsubscribe:prices"
	TypeSubscribeAlerts    = "subscribe:alerts"
	TypeSubscribePortfolio = "subscribe:portfolio"
	TypePing               = "ping"
)

// Outbound message types.
const (
	TypeConnected           = "connected"
	TypeSubscribedPrices    = "subscribed:prices"
	TypeUnsubscribedPrices  = "unsubscribed:prices"
	TypeSubscribedAlerts    = "subscribed:alerts"
	TypeSubscribedPortfolio = "subscribed:portfolio"
	TypePriceUpdate         = "price:update"
	TypeAlertTriggered      = "alert:triggered"
	TypeNotification        = "notification"
	TypePortfolioUpdate     = "portfolio:update"
	TypeError               = "error"
	TypePong                = "pong"
)

// Request is a client-to-server command.
type Request struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// Envelope wraps every server-to-client message.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type Connected struct {
	ConnectionID  string `json:"connectionId"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
}

type Symbols struct {
	Symbols []string `json:"symbols"`
}

type Error struct {
	Message string `json:"message"`
}

// PriceUpdate is the per-tick quote payload. The session fields ride along
// only on the first delivery after a symbol activates.
type PriceUpdate struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"changePercent"`
	Volume        int64    `json:"volume"`
	Timestamp     int64    `json:"timestamp"`
	High          *float64 `json:"high,omitempty"`
	Low           *float64 `json:"low,omitempty"`
	Open          *float64 `json:"open,omitempty"`
	PreviousClose *float64 `json:"previousClose,omitempty"`
}

// NewPriceUpdate builds the wire payload for a quote. snapshot selects the
// extended first-delivery form.
func NewPriceUpdate(q models.Quote, snapshot bool) PriceUpdate {
	u := PriceUpdate{
		Symbol:        q.Symbol,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		Timestamp:     q.Timestamp,
	}
	if snapshot {
		high, low, open, prev := q.High, q.Low, q.Open, q.PreviousClose
		u.High, u.Low, u.Open, u.PreviousClose = &high, &low, &open, &prev
	}
	return u
}

// Notification is the generic user-facing notice that accompanies channel
// events such as a triggered alert.
type Notification struct {
	NotificationType string      `json:"type"`
	Title            string      `json:"title"`
	Message          string      `json:"message"`
	Data             interface{} `json:"data,omitempty"`
}

type PortfolioUpdate struct {
	TotalValue       float64 `json:"totalValue"`
	TotalGain        float64 `json:"totalGain"`
	TotalGainPercent float64 `json:"totalGainPercent"`
	DayChange        float64 `json:"dayChange"`
	DayChangePercent float64 `json:"dayChangePercent"`
	Timestamp        int64   `json:"timestamp"`
}
