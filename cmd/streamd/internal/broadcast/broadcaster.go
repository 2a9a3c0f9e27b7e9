package broadcast

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/protocol"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/registry"
	"github.com/bblair31/marketViz-backend/pkg/models"
)

// Registry supplies point-in-time snapshots of subscriber sets.
type Registry interface {
	Subscribers(symbol string) []registry.Conn
	AlertSubscribers(userID string) []registry.Conn
	PortfolioSubscribers(userID string) []registry.Conn
	UserConns(userID string) []registry.Conn
}

// Broadcaster is pure fan-out: it marshals a message once and delivers it to
// every connection in the relevant set at the moment of publish.
type Broadcaster struct {
	registry Registry
	logger   *zap.Logger
}

func New(reg Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: reg, logger: logger}
}

// PublishPrice delivers a quote to every current subscriber of symbol.
func (b *Broadcaster) PublishPrice(symbol string, q models.Quote, snapshot bool) {
	conns := b.registry.Subscribers(symbol)
	if len(conns) == 0 {
		return
	}
	b.fanOut(conns, protocol.Envelope{
		Type: protocol.TypePriceUpdate,
		Data: protocol.NewPriceUpdate(q, snapshot),
	})
}

// PublishAlertTriggered delivers the alert event to the user's alert-channel
// connections and a generic notification to every one of the user's
// connections regardless of channel.
func (b *Broadcaster) PublishAlertTriggered(userID string, ev models.AlertEvent) {
	b.fanOut(b.registry.AlertSubscribers(userID), protocol.Envelope{
		Type: protocol.TypeAlertTriggered,
		Data: ev,
	})

	b.fanOut(b.registry.UserConns(userID), protocol.Envelope{
		Type: protocol.TypeNotification,
		Data: protocol.Notification{
			NotificationType: "alert_triggered",
			Title:            "Price Alert",
			Message: fmt.Sprintf("%s hit %.2f (target %.2f)",
				ev.Symbol, ev.CurrentPrice, ev.TargetPrice),
			Data: ev,
		},
	})
}

// PublishPortfolioUpdate delivers to the user's portfolio-channel
// connections only.
func (b *Broadcaster) PublishPortfolioUpdate(userID string, update protocol.PortfolioUpdate) {
	b.fanOut(b.registry.PortfolioSubscribers(userID), protocol.Envelope{
		Type: protocol.TypePortfolioUpdate,
		Data: update,
	})
}

func (b *Broadcaster) fanOut(conns []registry.Conn, env protocol.Envelope) {
	if len(conns) == 0 {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal broadcast message", zap.String("type", env.Type), zap.Error(err))
		return
	}
	for _, c := range conns {
		c.SendBytes(payload)
	}
}
