package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Conn is the registry's view of one client connection.
type Conn interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Feed owns the upstream poll task for a symbol. Activate fires when a symbol
// gains its first subscriber, Deactivate when it loses its last. Both are
// called while the registry lock is held, so implementations must return
// quickly and must not call back into the registry synchronously.
type Feed interface {
	Activate(symbol string)
	Deactivate(symbol string)
}

var (
	ErrSubscriptionLimit = errors.New("subscription limit exceeded")
	ErrInvalidSymbols    = errors.New("invalid symbol list")
	ErrAuthRequired      = errors.New("authentication required")
	ErrUnknownConnection = errors.New("unknown connection")
)

const DefaultMaxSymbols = 20

type connEntry struct {
	conn      Conn
	userID    string
	symbols   map[string]bool
	alerts    bool
	portfolio bool
}

type userEntry struct {
	conns     map[string]Conn // every live connection for the user
	alerts    map[string]Conn // alert-channel members
	portfolio map[string]Conn // portfolio-channel members
}

// Registry is the single source of truth for who is listening to what. All
// mutations are serialized behind one mutex so concurrent subscribes,
// unsubscribes and disconnects never race on a symbol's subscriber set or its
// feed refcount.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Conn // symbol -> connID -> conn
	conns       map[string]*connEntry
	users       map[string]*userEntry

	feed       Feed
	logger     *zap.Logger
	maxSymbols int
}

func New(logger *zap.Logger, maxSymbols int) *Registry {
	if maxSymbols <= 0 {
		maxSymbols = DefaultMaxSymbols
	}
	return &Registry{
		subscribers: make(map[string]map[string]Conn),
		conns:       make(map[string]*connEntry),
		users:       make(map[string]*userEntry),
		logger:      logger,
		maxSymbols:  maxSymbols,
	}
}

// SetFeed wires the poll task owner. Must be called before connections are
// accepted.
func (r *Registry) SetFeed(feed Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feed = feed
}

// Register adds a fresh connection. userID is empty for anonymous sessions.
func (r *Registry) Register(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = &connEntry{
		conn:    conn,
		userID:  userID,
		symbols: make(map[string]bool),
	}
	if userID != "" {
		r.userLocked(userID).conns[conn.ID()] = conn
	}
}

// Subscribe adds the connection to each symbol's subscriber set. The whole
// batch is rejected when it would push the connection past the symbol cap;
// nothing is applied in that case. Returns the normalized symbols.
func (r *Registry) Subscribe(connID string, symbols []string) ([]string, error) {
	normalized, err := NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	added := 0
	for _, sym := range normalized {
		if !entry.symbols[sym] {
			added++
		}
	}
	if len(entry.symbols)+added > r.maxSymbols {
		return nil, fmt.Errorf("%w: maximum %d symbols per connection", ErrSubscriptionLimit, r.maxSymbols)
	}

	for _, sym := range normalized {
		if entry.symbols[sym] {
			continue
		}
		entry.symbols[sym] = true

		set := r.subscribers[sym]
		if set == nil {
			set = make(map[string]Conn)
			r.subscribers[sym] = set
		}
		set[connID] = entry.conn

		if len(set) == 1 && r.feed != nil {
			r.logger.Debug("symbol activated", zap.String("symbol", sym))
			r.feed.Activate(sym)
		}
	}

	return normalized, nil
}

// Unsubscribe removes membership. Symbols the connection never subscribed to
// are skipped silently.
func (r *Registry) Unsubscribe(connID string, symbols []string) ([]string, error) {
	normalized, err := NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	for _, sym := range normalized {
		if !entry.symbols[sym] {
			continue
		}
		delete(entry.symbols, sym)
		r.dropSubscriberLocked(sym, connID)
	}

	return normalized, nil
}

// OnDisconnect atomically removes the connection from every symbol and
// channel it belongs to, tearing down feeds that lose their last subscriber.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return
	}

	for sym := range entry.symbols {
		r.dropSubscriberLocked(sym, connID)
	}

	if entry.userID != "" {
		if u, ok := r.users[entry.userID]; ok {
			delete(u.conns, connID)
			delete(u.alerts, connID)
			delete(u.portfolio, connID)
			if len(u.conns) == 0 {
				delete(r.users, entry.userID)
			}
		}
	}

	delete(r.conns, connID)
}

// JoinAlertsChannel adds the connection to its user's alert channel.
func (r *Registry) JoinAlertsChannel(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if entry.userID == "" {
		return ErrAuthRequired
	}
	entry.alerts = true
	r.userLocked(entry.userID).alerts[connID] = entry.conn
	return nil
}

// JoinPortfolioChannel adds the connection to its user's portfolio channel.
func (r *Registry) JoinPortfolioChannel(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if entry.userID == "" {
		return ErrAuthRequired
	}
	entry.portfolio = true
	r.userLocked(entry.userID).portfolio[connID] = entry.conn
	return nil
}

// Subscribers returns a snapshot of the connections subscribed to symbol.
func (r *Registry) Subscribers(symbol string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return connSnapshot(r.subscribers[symbol])
}

// AlertSubscribers returns the user's alert-channel connections.
func (r *Registry) AlertSubscribers(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return connSnapshot(u.alerts)
	}
	return nil
}

// PortfolioSubscribers returns the user's portfolio-channel connections.
func (r *Registry) PortfolioSubscribers(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return connSnapshot(u.portfolio)
	}
	return nil
}

// UserConns returns every live connection for the user.
func (r *Registry) UserConns(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return connSnapshot(u.conns)
	}
	return nil
}

// SubscriberCount reports how many connections are subscribed to symbol.
func (r *Registry) SubscriberCount(symbol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[symbol])
}

// SymbolCount reports how many symbols the connection is subscribed to.
func (r *Registry) SymbolCount(connID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.conns[connID]; ok {
		return len(entry.symbols)
	}
	return 0
}

// dropSubscriberLocked removes connID from symbol's set and deactivates the
// feed when the set empties. Caller must hold the write lock.
func (r *Registry) dropSubscriberLocked(symbol, connID string) {
	set := r.subscribers[symbol]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.subscribers, symbol)
		if r.feed != nil {
			r.logger.Debug("symbol deactivated", zap.String("symbol", symbol))
			r.feed.Deactivate(symbol)
		}
	}
}

// userLocked returns the user entry, creating it if needed. Caller must hold
// the write lock.
func (r *Registry) userLocked(userID string) *userEntry {
	u, ok := r.users[userID]
	if !ok {
		u = &userEntry{
			conns:     make(map[string]Conn),
			alerts:    make(map[string]Conn),
			portfolio: make(map[string]Conn),
		}
		r.users[userID] = u
	}
	return u
}

func connSnapshot(set map[string]Conn) []Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// NormalizeSymbols trims, upper-cases and de-duplicates the list. The whole
// list is rejected if it is empty or contains a malformed symbol.
func NormalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols provided", ErrInvalidSymbols)
	}

	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if !validSymbol(sym) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbols, raw)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}

func validSymbol(sym string) bool {
	if len(sym) == 0 || len(sym) > 12 {
		return false
	}
	for _, r := range sym {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}
