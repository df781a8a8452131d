// Package redis provides a Redis-backed verification card store for
// deployments that want cards to survive process restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// Config controls the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CardStore keeps each card as a JSON document in a hash, with a list
// of session ids (newest-first) holding the display order.
type CardStore struct {
	client *redis.Client
	prefix string
}

// NewCardStore connects to Redis and verifies the connection.
func NewCardStore(ctx context.Context, cfg Config) (*CardStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("store.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewCardStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewCardStoreWithClient wraps an existing client (primarily for testing).
func NewCardStoreWithClient(client *redis.Client, keyPrefix string) *CardStore {
	if keyPrefix == "" {
		keyPrefix = "trendsentry:"
	}
	return &CardStore{client: client, prefix: keyPrefix}
}

// Close releases the underlying client.
func (s *CardStore) Close() error {
	return s.client.Close()
}

func (s *CardStore) cardsKey() string { return s.prefix + "cards" }
func (s *CardStore) orderKey() string { return s.prefix + "order" }

// Upsert inserts or replaces the card keyed by its session id. New ids
// are pushed to the front of the order list.
func (s *CardStore) Upsert(ctx context.Context, card verify.Card) error {
	if card.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	exists, err := s.client.HExists(ctx, s.cardsKey(), card.SessionID).Result()
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	if !exists {
		if err := s.client.LPush(ctx, s.orderKey(), card.SessionID).Err(); err != nil {
			return fmt.Errorf("upsert card order: %w", err)
		}
	}
	if err := s.client.HSet(ctx, s.cardsKey(), card.SessionID, doc).Err(); err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// Get fetches one card by session id.
func (s *CardStore) Get(ctx context.Context, sessionID string) (verify.Card, error) {
	doc, err := s.client.HGet(ctx, s.cardsKey(), sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return verify.Card{}, verify.ErrCardNotFound
		}
		return verify.Card{}, fmt.Errorf("get card: %w", err)
	}
	var card verify.Card
	if err := json.Unmarshal(doc, &card); err != nil {
		return verify.Card{}, fmt.Errorf("unmarshal card: %w", err)
	}
	return card, nil
}

// List returns all cards newest-first per the order list.
func (s *CardStore) List(ctx context.Context) ([]verify.Card, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	out := make([]verify.Card, 0, len(ids))
	for _, id := range ids {
		card, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, verify.ErrCardNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, card)
	}
	return out, nil
}

// Remove deletes a card. Removing an unknown id is a no-op.
func (s *CardStore) Remove(ctx context.Context, sessionID string) error {
	if err := s.client.HDel(ctx, s.cardsKey(), sessionID).Err(); err != nil {
		return fmt.Errorf("remove card: %w", err)
	}
	if err := s.client.LRem(ctx, s.orderKey(), 0, sessionID).Err(); err != nil {
		return fmt.Errorf("remove card order: %w", err)
	}
	return nil
}

// TrimToMax evicts the oldest terminal cards until at most max remain.
// Active cards are never evicted.
func (s *CardStore) TrimToMax(ctx context.Context, max int) error {
	if max < 0 {
		max = 0
	}
	cards, err := s.List(ctx)
	if err != nil {
		return err
	}
	for len(cards) > max {
		evicted := false
		for i := len(cards) - 1; i >= 0; i-- {
			if cards[i].State.IsTerminal() {
				if err := s.Remove(ctx, cards[i].SessionID); err != nil {
					return err
				}
				cards = append(cards[:i], cards[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
	return nil
}

// Stats summarizes the store against the configured session cap.
func (s *CardStore) Stats(ctx context.Context, maxSessions int) (verify.Stats, error) {
	cards, err := s.List(ctx)
	if err != nil {
		return verify.Stats{}, err
	}
	stats := verify.Stats{MaxSessions: maxSessions, TotalCards: len(cards)}
	for _, card := range cards {
		switch {
		case card.State.IsActive():
			stats.Active++
		case card.State == verify.StateCompleted:
			stats.Completed++
		default:
			stats.Failed++
		}
	}
	stats.Available = maxSessions - stats.Active
	if stats.Available < 0 {
		stats.Available = 0
	}
	return stats, nil
}
