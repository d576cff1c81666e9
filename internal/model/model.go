// Package model defines the core domain types shared across the portfolio engine.
// Cash and cost basis use shopspring/decimal; analytics work on float64 series.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// PricePoint is one daily observation. Date is an integer YYYYMMDD and is the
// natural key per symbol.
type PricePoint struct {
	Date   int     `json:"date"`
	Price  float64 `json:"price"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Open   float64 `json:"open,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Prices extracts the closing prices of a series.
func Prices(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// Lot is a discrete purchase of shares at one cost basis. Lots are consumed
// FIFO on sale; a fully consumed lot keeps quantity 0 and Closed=true.
type Lot struct {
	ID       uuid.UUID       `json:"id" db:"id"`
	Seq      int64           `json:"seq" db:"seq"` // insertion order, tie-break for equal OpenedAt
	OwnerID  string          `json:"owner_id" db:"owner_id"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity int64           `json:"quantity" db:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	OpenedAt time.Time       `json:"opened_at" db:"opened_at"`
	Closed   bool            `json:"closed" db:"closed"`
}

// Account holds the virtual cash balance of one owner.
type Account struct {
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Trade is an immutable record of an executed buy or sell.
// Once created, these are never modified or deleted.
type Trade struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      string          `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`       // price × quantity
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"` // realized cost, sells only
	Profit    decimal.Decimal `json:"profit" db:"profit"`         // sells only
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// BasketOrder is one participant's pending order in a shared basket.
// Aggregation key is (Symbol, Action).
type BasketOrder struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// Correlation bands.
const (
	BandHigh     = "high"
	BandModerate = "moderate"
	BandLow      = "low"
	BandNegative = "negative"
)

// CorrelationPair is the Pearson correlation of two return series.
type CorrelationPair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
	Category    string  `json:"category"`
}

// RiskMetrics is the composite risk report for one price series.
type RiskMetrics struct {
	Volatility  float64            `json:"volatility"`
	Beta        float64            `json:"beta"`
	SharpeRatio float64            `json:"sharpe_ratio"`
	MaxDrawdown float64            `json:"max_drawdown"`
	VaR95       float64            `json:"var95"`
	CVaR95      float64            `json:"cvar95"`
	ATR         float64            `json:"atr"`
	RiskScore   float64            `json:"risk_score"`
	Components  map[string]float64 `json:"components"`
}
