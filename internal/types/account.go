package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Mode controls what an agent run is allowed to look for: Trading seeks new
// positions, Rebalancing only reviews what the book already holds.
type Mode string

const (
	ModeTrading     Mode = "trading"
	ModeRebalancing Mode = "rebalancing"
)

// Flip returns the mode the account moves to after a completed run.
func (m Mode) Flip() Mode {
	if m == ModeRebalancing {
		return ModeTrading
	}
	return ModeRebalancing
}

// AccountSnapshot is a read-only copy of an account's state. Mutation goes
// through the ledger service only.
type AccountSnapshot struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Strategy    string           `json:"strategy"`
	Balance     decimal.Decimal  `json:"balance"`
	Holdings    map[string]int64 `json:"holdings"`
	Mode        Mode             `json:"mode"`
	Active      bool             `json:"active"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Holding returns the quantity held for symbol, zero when absent.
func (s AccountSnapshot) Holding(symbol string) int64 {
	return s.Holdings[symbol]
}

// Transaction is an immutable ledger record. Records are append-only and
// removed only by an explicit account reset.
type Transaction struct {
	ID           uint            `json:"id"`
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Total        decimal.Decimal `json:"total"`
	Rationale    string          `json:"rationale"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Intent is one trade request produced by the reasoning component. The core
// treats it as opaque: it validates and applies, it never second-guesses.
type Intent struct {
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	Quantity  int64  `json:"quantity"`
	Rationale string `json:"rationale"`
}
