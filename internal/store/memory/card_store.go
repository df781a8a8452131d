package memory

import (
	"context"
	"sync"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// CardStore keeps verification cards in process memory. It is the
// default store and the one the tests run against.
type CardStore struct {
	mu    sync.RWMutex
	cards map[string]verify.Card
	// order holds session ids newest-first.
	order []string
}

// NewCardStore constructs an empty CardStore.
func NewCardStore() *CardStore {
	return &CardStore{
		cards: make(map[string]verify.Card),
	}
}

// Upsert inserts or replaces the card keyed by its session id. A new
// session id is placed at the front of the listing order; replacing an
// existing card keeps its position.
func (s *CardStore) Upsert(_ context.Context, card verify.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cards[card.SessionID]; !exists {
		s.order = append([]string{card.SessionID}, s.order...)
	}
	s.cards[card.SessionID] = cloneCard(card)
	return nil
}

// Get fetches one card by session id.
func (s *CardStore) Get(_ context.Context, sessionID string) (verify.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[sessionID]
	if !ok {
		return verify.Card{}, verify.ErrCardNotFound
	}
	return cloneCard(card), nil
}

// List returns all cards newest-created-first.
func (s *CardStore) List(_ context.Context) ([]verify.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]verify.Card, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneCard(s.cards[id]))
	}
	return out, nil
}

// Remove deletes a card. Removing an unknown id is a no-op.
func (s *CardStore) Remove(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sessionID)
	return nil
}

// TrimToMax evicts the oldest terminal cards until at most max remain.
// Active cards are never evicted, so the store can stay over capacity
// while enough sessions are in flight.
func (s *CardStore) TrimToMax(_ context.Context, max int) error {
	if max < 0 {
		max = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > max {
		evicted := false
		for i := len(s.order) - 1; i >= 0; i-- {
			id := s.order[i]
			if s.cards[id].State.IsTerminal() {
				s.removeLocked(id)
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
func (s *CardStore) Stats(_ context.Context, maxSessions int) (verify.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := verify.Stats{
		MaxSessions: maxSessions,
		TotalCards:  len(s.order),
	}
	for _, card := range s.cards {
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

func (s *CardStore) removeLocked(sessionID string) {
	if _, ok := s.cards[sessionID]; !ok {
		return
	}
	delete(s.cards, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func cloneCard(card verify.Card) verify.Card {
	out := card
	if card.CrawlChecks != nil {
		out.CrawlChecks = make([]verify.HealthCheck, len(card.CrawlChecks))
		copy(out.CrawlChecks, card.CrawlChecks)
	}
	if card.Anomalies != nil {
		out.Anomalies = make([]verify.Anomaly, len(card.Anomalies))
		copy(out.Anomalies, card.Anomalies)
	}
	if card.Activities != nil {
		out.Activities = make([]verify.Activity, len(card.Activities))
		copy(out.Activities, card.Activities)
	}
	return out
}
