package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the write lock for its whole duration and restores a
// snapshot on rollback.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	lots     []model.Lot
	trades   []model.Trade
	seq      int64
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type memSnapshot struct {
	accounts map[string]model.Account
	lots     []model.Lot
	trades   int
	seq      int64
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		accounts: make(map[string]model.Account, len(s.accounts)),
		lots:     append([]model.Lot(nil), s.lots...),
		trades:   len(s.trades),
		seq:      s.seq,
	}
	for k, a := range s.accounts {
		snap.accounts[k] = *a
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.accounts = make(map[string]*model.Account, len(snap.accounts))
	for k, a := range snap.accounts {
		a := a
		s.accounts[k] = &a
	}
	s.lots = snap.lots
	s.trades = s.trades[:snap.trades]
	s.seq = snap.seq
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx operates on MemoryStore with the write lock already held.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) GetOrCreateAccount(_ context.Context, ownerID string, initial decimal.Decimal) (*model.Account, error) {
	a, ok := t.s.accounts[ownerID]
	if !ok {
		a = &model.Account{OwnerID: ownerID, CashBalance: initial, CreatedAt: t.s.now()}
		t.s.accounts[ownerID] = a
	}
	copy := *a
	return &copy, nil
}

func (t *memTx) SetCash(_ context.Context, ownerID string, balance decimal.Decimal) error {
	a, ok := t.s.accounts[ownerID]
	if !ok {
		return fmt.Errorf("account %s: %w", ownerID, ErrNotFound)
	}
	a.CashBalance = balance
	return nil
}

func (t *memTx) InsertLot(_ context.Context, lot *model.Lot) error {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	t.s.seq++
	lot.Seq = t.s.seq
	t.s.lots = append(t.s.lots, *lot)
	return nil
}

func (t *memTx) OpenLots(_ context.Context, ownerID, symbol string) ([]model.Lot, error) {
	var out []model.Lot
	for _, l := range t.s.lots {
		if l.OwnerID == ownerID && l.Symbol == symbol && !l.Closed {
			out = append(out, l)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (t *memTx) UpdateLot(_ context.Context, lot *model.Lot) error {
	for i := range t.s.lots {
		if t.s.lots[i].ID == lot.ID {
			t.s.lots[i].Quantity = lot.Quantity
			t.s.lots[i].Closed = lot.Closed
			return nil
		}
	}
	return fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
}

func (t *memTx) InsertTrade(_ context.Context, trade *model.Trade) error {
	t.s.trades = append(t.s.trades, *trade)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, ownerID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[ownerID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", ownerID, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) HoldingLots(_ context.Context, ownerID string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Lot
	for _, l := range s.lots {
		if l.OwnerID == ownerID && !l.Closed {
			out = append(out, l)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *MemoryStore) LotHistory(_ context.Context, ownerID, symbol string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Lot
	for _, l := range s.lots {
		if l.OwnerID == ownerID && l.Symbol == symbol {
			out = append(out, l)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *MemoryStore) TradesByOwner(_ context.Context, ownerID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, tr := range s.trades {
		if tr.OwnerID == ownerID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// sortFIFO orders lots by open time, then insertion sequence.
func sortFIFO(lots []model.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].OpenedAt.Equal(lots[j].OpenedAt) {
			return lots[i].OpenedAt.Before(lots[j].OpenedAt)
		}
		return lots[i].Seq < lots[j].Seq
	})
}
