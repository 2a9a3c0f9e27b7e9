package gateway

import (
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/auth"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/protocol"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/registry"
)

// Manager owns connection handshakes: it resolves the optional bearer
// credential, upgrades the socket, registers the connection and emits the
// connected event.
type Manager struct {
	registry *registry.Registry
	verifier auth.IdentityVerifier
	logger   *zap.Logger
}

func NewManager(reg *registry.Registry, verifier auth.IdentityVerifier, logger *zap.Logger) *Manager {
	return &Manager{registry: reg, verifier: verifier, logger: logger}
}

// HandleWS upgrades the request and starts the client pumps. A missing or
// invalid credential produces an anonymous session, not an error.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	authenticated := false

	if credential := bearerToken(r); credential != "" {
		identity, err := m.verifier.Verify(credential)
		if err != nil {
			m.logger.Debug("credential rejected, continuing anonymous", zap.Error(err))
		} else {
			userID = identity.UserID
			authenticated = true
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, m.registry, m.logger)
	m.registry.Register(client, userID)
	client.Start()

	client.SendJSON(protocol.Envelope{
		Type: protocol.TypeConnected,
		Data: protocol.Connected{
			ConnectionID:  client.ID(),
			Authenticated: authenticated,
			UserID:        userID,
		},
	})

	m.logger.Info("connection established",
		zap.String("connection_id", client.ID()),
		zap.Bool("authenticated", authenticated))
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
