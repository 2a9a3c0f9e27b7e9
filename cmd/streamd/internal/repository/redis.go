package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bblair31/marketViz-backend/pkg/models"
)

const (
	alertKeyPrefix    = "alert:"
	symbolIndexPrefix = "alerts:symbol:"
	userIndexPrefix   = "alerts:user:"
	quoteKeyPrefix    = "quote:"
	quoteTTL          = 1 * time.Hour // TTL prevents unbounded memory growth
)

// Compile-time checks
var (
	_ AlertStore = (*RedisStore)(nil)
	_ QuoteCache = (*RedisStore)(nil)
)

// markTriggeredScript flips an ACTIVE alert to TRIGGERED. The compare and the
// write run as one script, so concurrent evaluation paths cannot both win.
// Returns 1 on success, 0 when the alert is already terminal, -1 when the
// alert does not exist.
var markTriggeredScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then return -1 end
if status ~= "ACTIVE" then return 0 end
redis.call("HSET", KEYS[1], "status", "TRIGGERED", "triggeredAt", ARGV[1])
return 1
`)

// RedisStore persists alerts as hashes with symbol and user index sets, and
// caches the latest quote per symbol.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save writes the full alert record and its index memberships. Used by the
// CRUD surface and by tests to seed state.
func (s *RedisStore) Save(ctx context.Context, a models.Alert) error {
	fields := map[string]interface{}{
		"id":          a.ID,
		"userId":      a.UserID,
		"symbol":      a.Symbol,
		"condition":   string(a.Condition),
		"targetPrice": strconv.FormatFloat(a.TargetPrice, 'f', -1, 64),
		"status":      string(a.Status),
	}
	if a.TriggeredAt != nil {
		fields["triggeredAt"] = a.TriggeredAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, alertKeyPrefix+a.ID, fields)
	pipe.SAdd(ctx, symbolIndexPrefix+a.Symbol, a.ID)
	pipe.SAdd(ctx, userIndexPrefix+a.UserID, a.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListActive(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.listActiveByIndex(ctx, symbolIndexPrefix+symbol)
}

func (s *RedisStore) ListActiveByUser(ctx context.Context, userID string) ([]models.Alert, error) {
	return s.listActiveByIndex(ctx, userIndexPrefix+userID)
}

func (s *RedisStore) listActiveByIndex(ctx context.Context, indexKey string) ([]models.Alert, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	var alerts []models.Alert
	for _, id := range ids {
		a, err := s.getAlert(ctx, id)
		if err != nil {
			continue // index entry without a record; skip
		}
		if a.Status == models.AlertActive {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (s *RedisStore) MarkTriggered(ctx context.Context, alertID string, at time.Time) error {
	n, err := markTriggeredScript.Run(ctx, s.client,
		[]string{alertKeyPrefix + alertID},
		at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrAlreadyTerminal
	default:
		return fmt.Errorf("alert %s not found", alertID)
	}
}

func (s *RedisStore) getAlert(ctx context.Context, id string) (models.Alert, error) {
	fields, err := s.client.HGetAll(ctx, alertKeyPrefix+id).Result()
	if err != nil {
		return models.Alert{}, err
	}
	if len(fields) == 0 {
		return models.Alert{}, fmt.Errorf("alert %s not found", id)
	}

	target, err := strconv.ParseFloat(fields["targetPrice"], 64)
	if err != nil {
		return models.Alert{}, fmt.Errorf("alert %s: bad targetPrice: %w", id, err)
	}

	a := models.Alert{
		ID:          fields["id"],
		UserID:      fields["userId"],
		Symbol:      fields["symbol"],
		Condition:   models.AlertCondition(fields["condition"]),
		TargetPrice: target,
		Status:      models.AlertStatus(fields["status"]),
	}
	if raw, ok := fields["triggeredAt"]; ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			a.TriggeredAt = &ts
		}
	}
	return a, nil
}

// SetLatest caches the most recent quote for its symbol.
func (s *RedisStore) SetLatest(ctx context.Context, q models.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, quoteKeyPrefix+q.Symbol, payload, quoteTTL).Err()
}

// GetLatest returns the cached quote for symbol, if any.
func (s *RedisStore) GetLatest(ctx context.Context, symbol string) (models.Quote, error) {
	payload, err := s.client.Get(ctx, quoteKeyPrefix+symbol).Result()
	if err != nil {
		return models.Quote{}, fmt.Errorf("no cached quote for %s: %w", symbol, err)
	}
	var q models.Quote
	if err := json.Unmarshal([]byte(payload), &q); err != nil {
		return models.Quote{}, err
	}
	return q, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
