package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

// WithTx records which owners the transaction touched and drops their
// cached entries once it commits.
func (s *CachedStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	touched := make(map[string]bool)
	err := s.primary.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &trackingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}
	for owner := range touched {
		s.rdb.Del(ctx, accountKey(owner), holdingsKey(owner))
	}
	return nil
}

type trackingTx struct {
	Tx
	touched map[string]bool
}

func (t *trackingTx) GetOrCreateAccount(ctx context.Context, ownerID string, initial decimal.Decimal) (*model.Account, error) {
	t.touched[ownerID] = true
	return t.Tx.GetOrCreateAccount(ctx, ownerID, initial)
}

func (t *trackingTx) SetCash(ctx context.Context, ownerID string, balance decimal.Decimal) error {
	t.touched[ownerID] = true
	return t.Tx.SetCash(ctx, ownerID, balance)
}

func (t *trackingTx) InsertLot(ctx context.Context, lot *model.Lot) error {
	t.touched[lot.OwnerID] = true
	return t.Tx.InsertLot(ctx, lot)
}

func (t *trackingTx) UpdateLot(ctx context.Context, lot *model.Lot) error {
	t.touched[lot.OwnerID] = true
	return t.Tx.UpdateLot(ctx, lot)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, ownerID string) (*model.Account, error) {
	var a model.Account
	if s.fromCache(ctx, accountKey(ownerID), &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	acct, err := s.primary.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, accountKey(ownerID), acct)
	return acct, nil
}

func (s *CachedStore) HoldingLots(ctx context.Context, ownerID string) ([]model.Lot, error) {
	var lots []model.Lot
	if s.fromCache(ctx, holdingsKey(ownerID), &lots) {
		return lots, nil
	}

	lots, err := s.primary.HoldingLots(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, holdingsKey(ownerID), lots)
	return lots, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) LotHistory(ctx context.Context, ownerID, symbol string) ([]model.Lot, error) {
	return s.primary.LotHistory(ctx, ownerID, symbol)
}

func (s *CachedStore) TradesByOwner(ctx context.Context, ownerID string) ([]model.Trade, error) {
	return s.primary.TradesByOwner(ctx, ownerID)
}

// --- Cache helpers ---

func (s *CachedStore) fromCache(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) toCache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(owner string) string  { return fmt.Sprintf("account:%s", owner) }
func holdingsKey(owner string) string { return fmt.Sprintf("holdings:%s", owner) }
