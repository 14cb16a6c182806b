package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"profitguard/internal/models"
)

// ActivePairMirror хранит активные пары как ключи с TTL.
// Ключ: <prefix>:active:<SYMBOL>:<direction>, значение - JSON пары.
type ActivePairMirror struct {
	client *Client
	now    func() time.Time
}

// NewActivePairMirror создает зеркало
func NewActivePairMirror(c *Client) *ActivePairMirror {
	return &ActivePairMirror{client: c, now: time.Now}
}

// SetClock подменяет часы проверки ExpiresAt
func (m *ActivePairMirror) SetClock(now func() time.Time) {
	m.now = now
}

func (m *ActivePairMirror) pairKey(symbol string, d models.Direction) string {
	return m.client.key("active", symbol, string(d))
}

// Put публикует пару с TTL и снимает противоположное направление
func (m *ActivePairMirror) Put(ctx context.Context, pair *models.ActivePair, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis: active pair %s ttl must be positive", pair.Symbol)
	}
	payload, err := json.Marshal(pair)
	if err != nil {
		return err
	}

	_, err = m.client.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, m.pairKey(pair.Symbol, pair.Direction.Opposite()))
		p.Set(ctx, m.pairKey(pair.Symbol, pair.Direction), payload, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put active pair %s: %w", pair.Symbol, err)
	}
	return nil
}

// Remove снимает пару досрочно
func (m *ActivePairMirror) Remove(ctx context.Context, symbol string, direction models.Direction) error {
	if err := m.client.rdb.Del(ctx, m.pairKey(symbol, direction)).Err(); err != nil {
		return fmt.Errorf("redis: remove active pair %s: %w", symbol, err)
	}
	return nil
}

// ActivePairs возвращает живые пары, упорядоченные по символу и направлению.
// Пара, чей ExpiresAt уже наступил, пропускается, даже если ключ ещё не удалён.
func (m *ActivePairMirror) ActivePairs(ctx context.Context) ([]*models.ActivePair, error) {
	var keys []string
	iter := m.client.rdb.Scan(ctx, 0, m.client.key("active", "*"), 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan active pairs: %w", err)
	}
	if len(keys) == 0 {
		return []*models.ActivePair{}, nil
	}

	values, err := m.client.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: load active pairs: %w", err)
	}

	now := m.now()
	pairs := make([]*models.ActivePair, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // ключ истёк между SCAN и MGET
		}
		p := &models.ActivePair{}
		if err := json.Unmarshal([]byte(raw), p); err != nil {
			return nil, fmt.Errorf("redis: decode active pair: %w", err)
		}
		if p.Expired(now) {
			continue
		}
		pairs = append(pairs, p)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Symbol != pairs[j].Symbol {
			return pairs[i].Symbol < pairs[j].Symbol
		}
		return strings.Compare(string(pairs[i].Direction), string(pairs[j].Direction)) < 0
	})
	return pairs, nil
}
