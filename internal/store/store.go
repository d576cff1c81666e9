// Package store defines the persistence interface for the virtual ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("store: not found")

// Tx is a unit of work over one consistent snapshot. Rows read through a
// Tx are locked until it ends, so a multi-statement ledger operation is
// serialized against concurrent operations on the same owner.
type Tx interface {
	// GetOrCreateAccount returns the owner's account, creating it with
	// initial cash on first use.
	GetOrCreateAccount(ctx context.Context, ownerID string, initial decimal.Decimal) (*model.Account, error)

	// SetCash overwrites the owner's cash balance.
	SetCash(ctx context.Context, ownerID string, balance decimal.Decimal) error

	// InsertLot appends a new lot and fills in its Seq.
	InsertLot(ctx context.Context, lot *model.Lot) error

	// OpenLots returns the owner's open lots for symbol, oldest first
	// (opened_at, then seq).
	OpenLots(ctx context.Context, ownerID, symbol string) ([]model.Lot, error)

	// UpdateLot persists a lot's quantity and closed flag by ID.
	UpdateLot(ctx context.Context, lot *model.Lot) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// WithTx runs fn in a transaction. A non-nil error from fn rolls back
	// every change fn made.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// --- Reads ---

	// GetAccount returns ErrNotFound for an owner that never traded.
	GetAccount(ctx context.Context, ownerID string) (*model.Account, error)

	// HoldingLots returns all open lots of an owner across symbols, oldest first.
	HoldingLots(ctx context.Context, ownerID string) ([]model.Lot, error)

	// LotHistory returns every lot, open and closed, for (owner, symbol).
	LotHistory(ctx context.Context, ownerID, symbol string) ([]model.Lot, error)

	// TradesByOwner returns the owner's trade journal, oldest first.
	TradesByOwner(ctx context.Context, ownerID string) ([]model.Trade, error)
}
