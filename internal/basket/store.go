// Package basket aggregates several owners' pending orders for the same
// symbol and action and executes them together at one shared price.
package basket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/symbol"
)

// ErrNotFound is returned for an unknown basket.
var ErrNotFound = errors.New("basket: not found")

// Key identifies a basket.
type Key struct {
	Symbol string
	Action string
}

func keyOf(o model.BasketOrder) Key { return Key{Symbol: o.Symbol, Action: o.Action} }

// Participant is one owner's share of a basket.
type Participant struct {
	OwnerID  string    `json:"user_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Quantity int64     `json:"quantity"`
	JoinedAt time.Time `json:"joined_at"`
}

// Basket is the aggregated view of every pending order with one key. Its ID
// is the ID of the oldest order in it.
type Basket struct {
	ID               uuid.UUID     `json:"id"`
	Symbol           string        `json:"symbol"`
	Action           string        `json:"action"`
	TotalQuantity    int64         `json:"total_quantity"`
	ParticipantCount int           `json:"participant_count"`
	Participants     []Participant `json:"participants"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Store holds pending basket orders.
type Store interface {
	// Join adds quantity to the owner's order for (symbol, action), creating
	// it if needed.
	Join(ctx context.Context, owner, symbol, action string, quantity int64) (*model.BasketOrder, error)
	List(ctx context.Context) ([]Basket, error)
	// Take removes and returns every order in the basket containing orderID.
	Take(ctx context.Context, orderID uuid.UUID) ([]model.BasketOrder, error)
	// Restore puts taken orders back, merging with any order the same owner
	// placed in the meantime.
	Restore(ctx context.Context, orders []model.BasketOrder) error
}

// MemoryStore keeps pending orders for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	orders []model.BasketOrder
	now    func() time.Time
}

// NewMemoryStore creates an empty basket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

// ValidateOrder normalizes and checks a join request.
func ValidateOrder(owner, sym, action string, quantity int64) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: owner is required", ledger.ErrValidation)
	}
	s, err := symbol.Normalize(sym)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrValidation, err)
	}
	if action != model.SideBuy && action != model.SideSell {
		return "", fmt.Errorf("%w: action must be buy or sell, got %q", ledger.ErrValidation, action)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", ledger.ErrValidation, quantity)
	}
	return s, nil
}

func (s *MemoryStore) Join(_ context.Context, owner, sym, action string, quantity int64) (*model.BasketOrder, error) {
	sym, err := ValidateOrder(owner, sym, action, quantity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.gauge()

	for i := range s.orders {
		o := &s.orders[i]
		if o.OwnerID == owner && o.Symbol == sym && o.Action == action {
			o.Quantity += quantity
			out := *o
			return &out, nil
		}
	}
	o := model.BasketOrder{
		ID:        uuid.New(),
		OwnerID:   owner,
		Symbol:    sym,
		Action:    action,
		Quantity:  quantity,
		CreatedAt: s.now(),
	}
	s.orders = append(s.orders, o)
	return &o, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregate(s.orders), nil
}

func (s *MemoryStore) Take(_ context.Context, orderID uuid.UUID) ([]model.BasketOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.gauge()

	var key Key
	found := false
	for _, o := range s.orders {
		if o.ID == orderID {
			key, found = keyOf(o), true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("basket %s: %w", orderID, ErrNotFound)
	}

	var taken, kept []model.BasketOrder
	for _, o := range s.orders {
		if keyOf(o) == key {
			taken = append(taken, o)
		} else {
			kept = append(kept, o)
		}
	}
	s.orders = kept
	return taken, nil
}

func (s *MemoryStore) Restore(_ context.Context, orders []model.BasketOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.gauge()

	for _, r := range orders {
		merged := false
		for i := range s.orders {
			o := &s.orders[i]
			if o.OwnerID == r.OwnerID && keyOf(*o) == keyOf(r) {
				o.Quantity += r.Quantity
				if r.CreatedAt.Before(o.CreatedAt) {
					o.ID, o.CreatedAt = r.ID, r.CreatedAt
				}
				merged = true
				break
			}
		}
		if !merged {
			s.orders = append(s.orders, r)
		}
	}
	return nil
}

func (s *MemoryStore) gauge() {
	metrics.PendingBasketOrders.Set(float64(len(s.orders)))
}

// aggregate groups orders by key, oldest basket first.
func aggregate(orders []model.BasketOrder) []Basket {
	sorted := append([]model.BasketOrder(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	index := make(map[Key]int)
	var out []Basket
	for _, o := range sorted {
		i, ok := index[keyOf(o)]
		if !ok {
			i = len(out)
			index[keyOf(o)] = i
			out = append(out, Basket{ID: o.ID, Symbol: o.Symbol, Action: o.Action, CreatedAt: o.CreatedAt})
		}
		b := &out[i]
		b.TotalQuantity += o.Quantity
		b.ParticipantCount++
		b.Participants = append(b.Participants, Participant{
			OwnerID:  o.OwnerID,
			OrderID:  o.ID,
			Quantity: o.Quantity,
			JoinedAt: o.CreatedAt,
		})
	}
	if out == nil {
		out = []Basket{}
	}
	return out
}
