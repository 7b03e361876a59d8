package tools

import (
	"context"
	"fmt"

	"tradefloor/internal/gateway/serper"
	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/text"
	"tradefloor/internal/types"

	"github.com/shopspring/decimal"
)

const defaultMemoryKey = "notes"

// LedgerAPI is the slice of the ledger the toolset needs.
type LedgerAPI interface {
	GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error)
	Buy(ctx context.Context, name, symbol string, quantity int64, quotedPrice float64, spread decimal.Decimal, rationale string) (types.Transaction, error)
	Sell(ctx context.Context, name, symbol string, quantity int64, quotedPrice float64, spread decimal.Decimal, rationale string) (types.Transaction, error)
	UpdateStrategy(ctx context.Context, name, strategy string) error
}

// MarketAPI resolves quoted prices for trades and lookups.
type MarketAPI interface {
	GetPrice(ctx context.Context, symbol string) (types.PriceQuote, error)
}

// MemoryAPI is the per-account KV surface.
type MemoryAPI interface {
	GetMemory(ctx context.Context, account, key string) (string, bool, error)
	PutMemory(ctx context.Context, account, key, value string) error
}

// TextNotifier matches the notifier gateway interface.
type TextNotifier interface {
	SendText(text string) error
}

// SearchAPI is the web research surface.
type SearchAPI interface {
	Enabled() bool
	Search(ctx context.Context, query string, limit int) ([]serper.Result, error)
}

// Deps binds the standard toolset to the floor's services.
type Deps struct {
	Ledger   LedgerAPI
	Market   MarketAPI
	Memory   MemoryAPI
	Notifier TextNotifier
	Search   SearchAPI
	Spread   decimal.Decimal
}

// NewStandardRegistry builds the capability set every trader runs with.
// Trades quote through the market service so the ledger always executes at
// quoted price plus spread; the reasoning layer never supplies a price.
func NewStandardRegistry(deps Deps) (*Registry, error) {
	r := NewRegistry()

	register := func(t Tool) error { return r.Register(t) }
	all := []Tool{
		{
			Name:        "buy_shares",
			Description: "Buy a quantity of shares at the current market price.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":    map[string]any{"type": "string", "minLength": 1},
					"quantity":  map[string]any{"type": "integer", "minimum": 1},
					"rationale": map[string]any{"type": "string"},
				},
				"required": []any{"symbol", "quantity"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				return deps.trade(ctx, types.SideBuy, account, args)
			},
		},
		{
			Name:        "sell_shares",
			Description: "Sell a quantity of held shares at the current market price.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":    map[string]any{"type": "string", "minLength": 1},
					"quantity":  map[string]any{"type": "integer", "minimum": 1},
					"rationale": map[string]any{"type": "string"},
				},
				"required": []any{"symbol", "quantity"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				return deps.trade(ctx, types.SideSell, account, args)
			},
		},
		{
			Name:        "get_balance",
			Description: "Get the account's cash balance.",
			ReadOnly:    true,
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				acct, err := deps.Ledger.GetAccount(ctx, account)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"balance":  acct.Balance,
					"currency": "USD",
					"mode":     acct.Mode,
				}, nil
			},
		},
		{
			Name:        "get_holdings",
			Description: "Get the account's current holdings as symbol to quantity.",
			ReadOnly:    true,
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				acct, err := deps.Ledger.GetAccount(ctx, account)
				if err != nil {
					return nil, err
				}
				return map[string]any{"holdings": acct.Holdings}, nil
			},
		},
		{
			Name:        "lookup_share_price",
			Description: "Look up the current price of a symbol.",
			ReadOnly:    true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []any{"symbol"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				quote, err := deps.Market.GetPrice(ctx, stringArg(args, "symbol"))
				if err != nil {
					return nil, err
				}
				return quote, nil
			},
		},
		{
			Name:        "push_notification",
			Description: "Send a short push notification to the operator.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []any{"message"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				msg := stringArg(args, "message")
				if deps.Notifier == nil {
					logger.Infof("notification from %s: %s", account, text.Truncate(msg, 200))
					return map[string]any{"sent": false, "logged": true}, nil
				}
				if err := deps.Notifier.SendText(msg); err != nil {
					return nil, types.Faultf(types.FaultUpstreamUnavailable, "push failed: %v", err)
				}
				return map[string]any{"sent": true}, nil
			},
		},
		{
			Name:        "memory_read",
			Description: "Read a note from the account's persistent memory.",
			ReadOnly:    true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{"type": "string"},
				},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				key := stringArg(args, "key")
				if key == "" {
					key = defaultMemoryKey
				}
				value, found, err := deps.Memory.GetMemory(ctx, account, key)
				if err != nil {
					return nil, err
				}
				return map[string]any{"key": key, "value": value, "found": found}, nil
			},
		},
		{
			Name:        "memory_write",
			Description: "Write a note to the account's persistent memory.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
				},
				"required": []any{"value"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				key := stringArg(args, "key")
				if key == "" {
					key = defaultMemoryKey
				}
				if err := deps.Memory.PutMemory(ctx, account, key, stringArg(args, "value")); err != nil {
					return nil, err
				}
				return map[string]any{"key": key, "saved": true}, nil
			},
		},
		{
			Name:        "web_search",
			Description: "Search the web for recent news and context.",
			ReadOnly:    true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":       map[string]any{"type": "string", "minLength": 1},
					"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
				},
				"required": []any{"query"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				if deps.Search == nil || !deps.Search.Enabled() {
					return nil, types.Faultf(types.FaultUpstreamUnavailable, "web search not configured")
				}
				results, err := deps.Search.Search(ctx, stringArg(args, "query"), int(intArg(args, "max_results")))
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results}, nil
			},
		},
		{
			Name:        "change_strategy",
			Description: "Replace the account's own strategy text.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"strategy": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []any{"strategy"},
			},
			Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
				if err := deps.Ledger.UpdateStrategy(ctx, account, stringArg(args, "strategy")); err != nil {
					return nil, err
				}
				return map[string]any{"updated": true}, nil
			},
		},
	}
	for _, tool := range all {
		if err := register(tool); err != nil {
			return nil, fmt.Errorf("register toolset: %w", err)
		}
	}
	return r, nil
}

func (d Deps) trade(ctx context.Context, side types.Side, account string, args map[string]any) (any, error) {
	symbol := stringArg(args, "symbol")
	quantity := intArg(args, "quantity")
	quote, err := d.Market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	rationale := stringArg(args, "rationale")
	var txn types.Transaction
	if side == types.SideBuy {
		txn, err = d.Ledger.Buy(ctx, account, symbol, quantity, quote.Price, d.Spread, rationale)
	} else {
		txn, err = d.Ledger.Sell(ctx, account, symbol, quantity, quote.Price, d.Spread, rationale)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"transaction": txn,
		"quote_tier":  quote.Tier,
		"balance":     txn.BalanceAfter,
	}, nil
}
