package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// pgTx locks the account row first so that every operation on one owner is
// serialized for the rest of the transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetOrCreateAccount(ctx context.Context, ownerID string, initial decimal.Decimal) (*model.Account, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (owner_id, cash_balance, created_at)
		 VALUES ($1, $2::NUMERIC, now())
		 ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, initial.String(),
	); err != nil {
		return nil, fmt.Errorf("create account %s: %w", ownerID, err)
	}

	var a model.Account
	var cash string
	err := t.tx.QueryRow(ctx,
		`SELECT owner_id, cash_balance::TEXT, created_at
		 FROM accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).
		Scan(&a.OwnerID, &cash, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", ownerID, err)
	}
	a.CashBalance, _ = decimal.NewFromString(cash)
	return &a, nil
}

func (t *pgTx) SetCash(ctx context.Context, ownerID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash_balance = $2::NUMERIC WHERE owner_id = $1`,
		ownerID, balance.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", ownerID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertLot(ctx context.Context, lot *model.Lot) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO lots (id, owner_id, symbol, quantity, unit_cost, opened_at, closed)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)
		 RETURNING seq`,
		lot.ID, lot.OwnerID, lot.Symbol, lot.Quantity, lot.UnitCost.String(), lot.OpenedAt, lot.Closed,
	).Scan(&lot.Seq)
}

func (t *pgTx) OpenLots(ctx context.Context, ownerID, symbol string) ([]model.Lot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, seq, owner_id, symbol, quantity, unit_cost::TEXT, opened_at, closed
		 FROM lots
		 WHERE owner_id = $1 AND symbol = $2 AND NOT closed
		 ORDER BY opened_at, seq
		 FOR UPDATE`, ownerID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (t *pgTx) UpdateLot(ctx context.Context, lot *model.Lot) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE lots SET quantity = $2, closed = $3 WHERE id = $1`,
		lot.ID, lot.Quantity, lot.Closed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, owner_id, symbol, side, quantity, price, amount, cost_basis, profit, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		tr.ID, tr.OwnerID, tr.Symbol, tr.Side, tr.Quantity,
		tr.Price.String(), tr.Amount.String(), tr.CostBasis.String(), tr.Profit.String(),
		tr.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, ownerID string) (*model.Account, error) {
	var a model.Account
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, cash_balance::TEXT, created_at
		 FROM accounts WHERE owner_id = $1`, ownerID).
		Scan(&a.OwnerID, &cash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", ownerID, err)
	}
	a.CashBalance, _ = decimal.NewFromString(cash)
	return &a, nil
}

func (s *PostgresStore) HoldingLots(ctx context.Context, ownerID string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, owner_id, symbol, quantity, unit_cost::TEXT, opened_at, closed
		 FROM lots WHERE owner_id = $1 AND NOT closed
		 ORDER BY opened_at, seq`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (s *PostgresStore) LotHistory(ctx context.Context, ownerID, symbol string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, owner_id, symbol, quantity, unit_cost::TEXT, opened_at, closed
		 FROM lots WHERE owner_id = $1 AND symbol = $2
		 ORDER BY opened_at, seq`, ownerID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (s *PostgresStore) TradesByOwner(ctx context.Context, ownerID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, symbol, side, quantity,
		        price::TEXT, amount::TEXT, cost_basis::TEXT, profit::TEXT, timestamp
		 FROM trades WHERE owner_id = $1 ORDER BY timestamp`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var tr model.Trade
		var price, amount, cost, profit string
		if err := rows.Scan(&tr.ID, &tr.OwnerID, &tr.Symbol, &tr.Side, &tr.Quantity,
			&price, &amount, &cost, &profit, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.Price, _ = decimal.NewFromString(price)
		tr.Amount, _ = decimal.NewFromString(amount)
		tr.CostBasis, _ = decimal.NewFromString(cost)
		tr.Profit, _ = decimal.NewFromString(profit)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLots(rows pgxRows) ([]model.Lot, error) {
	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var cost string
		if err := rows.Scan(&l.ID, &l.Seq, &l.OwnerID, &l.Symbol, &l.Quantity,
			&cost, &l.OpenedAt, &l.Closed); err != nil {
			return nil, err
		}
		l.UnitCost, _ = decimal.NewFromString(cost)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}
