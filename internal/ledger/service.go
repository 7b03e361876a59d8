package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"tradefloor/internal/logger"
	"tradefloor/internal/store/gormstore"
	"tradefloor/internal/types"

	"github.com/shopspring/decimal"
)

// How many portfolio history points an account keeps.
const snapshotHistoryKeep = 1000

var one = decimal.NewFromInt(1)

// Store is the persistence surface the ledger needs. *gormstore.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetAccount(ctx context.Context, name string) (types.AccountSnapshot, bool, error)
	ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error)
	SeedAccount(ctx context.Context, acct types.AccountSnapshot) (bool, error)
	ApplyTrade(ctx context.Context, acct types.AccountSnapshot, txn types.Transaction) (types.Transaction, error)
	ResetAccount(ctx context.Context, name string, balance decimal.Decimal) error
	ListTransactions(ctx context.Context, account string) ([]types.Transaction, error)
	SetAccountActive(ctx context.Context, name string, active bool) error
	UpdateAccountStrategy(ctx context.Context, name, strategy string) error
	UpdateAccountMode(ctx context.Context, name string, mode types.Mode) error
	AppendSnapshot(ctx context.Context, account string, value, balance float64) error
	TrimSnapshots(ctx context.Context, account string, keep int) error
	ListSnapshots(ctx context.Context, account string, limit int) ([]gormstore.SnapshotPoint, error)
}

// PriceSource resolves prices for valuation. Satisfied by the market data
// service; valuation treats prices as best-effort, never authoritative.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (types.PriceQuote, error)
}

// TracePurger drops an account's run traces on reset.
type TracePurger interface {
	PurgeAccount(ctx context.Context, account string) error
}

type Params struct {
	Store       Store
	Prices      PriceSource
	Traces      TracePurger
	Spread      float64
	SeedBalance float64
}

// Service owns all account and transaction mutation. Every mutating
// operation validates its preconditions against a consistent prior state and
// applies its effect as one unit; the per-account locks in LockTable make
// read-validate-write sequences indivisible.
type Service struct {
	store       Store
	prices      PriceSource
	traces      TracePurger
	locks       *LockTable
	spread      decimal.Decimal
	seedBalance decimal.Decimal
}

func NewService(p Params) *Service {
	spread := decimal.NewFromFloat(p.Spread)
	if spread.IsNegative() {
		spread = decimal.Zero
	}
	seed := decimal.NewFromFloat(p.SeedBalance)
	if seed.IsNegative() {
		seed = decimal.Zero
	}
	return &Service{
		store:       p.Store,
		prices:      p.Prices,
		traces:      p.Traces,
		locks:       NewLockTable(),
		spread:      spread,
		seedBalance: seed,
	}
}

// Spread returns the configured execution spread as a fraction (0.002 = 20 bps).
func (s *Service) Spread() decimal.Decimal { return s.spread }

// SeedBalance returns the configured starting cash for new accounts.
func (s *Service) SeedBalance() decimal.Decimal { return s.seedBalance }

// AcquireRunLock takes the account's execution lease for the duration of an
// agent run. Operator resets take the same lease, so they wait for any
// in-flight run instead of interleaving with it.
func (s *Service) AcquireRunLock(ctx context.Context, name string) (func(), error) {
	return s.locks.AcquireRun(ctx, name)
}

// Seed creates any missing roster accounts. Existing accounts are untouched.
func (s *Service) Seed(ctx context.Context, accounts []types.AccountSnapshot) error {
	for _, acct := range accounts {
		created, err := s.store.SeedAccount(ctx, acct)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", acct.Name, err)
		}
		if created {
			logger.Infof("ledger: seeded account %s with balance %s", acct.Name, acct.Balance.String())
		}
	}
	return nil
}

func (s *Service) GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error) {
	name = normalizeName(name)
	acct, found, err := s.store.GetAccount(ctx, name)
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("get account %s: %w", name, err)
	}
	if !found {
		return types.AccountSnapshot{}, types.Faultf(types.FaultNotFound, "account %s not found", name)
	}
	return acct, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error) {
	return s.store.ListAccounts(ctx)
}

func (s *Service) ListTransactions(ctx context.Context, name string) ([]types.Transaction, error) {
	name = normalizeName(name)
	if _, err := s.GetAccount(ctx, name); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, name)
}

// Buy executes a purchase at quoted × (1 + spread), rounded half-even to the
// cent. It rejects with InsufficientFunds before any state changes.
func (s *Service) Buy(ctx context.Context, name, symbol string, quantity int64, quotedPrice float64, spread decimal.Decimal, rationale string) (types.Transaction, error) {
	return s.trade(ctx, types.SideBuy, name, symbol, quantity, quotedPrice, spread, rationale)
}

// Sell executes a sale at quoted × (1 − spread), rounded half-even to the
// cent. It rejects with InsufficientHoldings before any state changes.
func (s *Service) Sell(ctx context.Context, name, symbol string, quantity int64, quotedPrice float64, spread decimal.Decimal, rationale string) (types.Transaction, error) {
	return s.trade(ctx, types.SideSell, name, symbol, quantity, quotedPrice, spread, rationale)
}

func (s *Service) trade(ctx context.Context, side types.Side, name, symbol string, quantity int64, quotedPrice float64, spread decimal.Decimal, rationale string) (types.Transaction, error) {
	name = normalizeName(name)
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return types.Transaction{}, types.Faultf(types.FaultInternal, "empty symbol")
	}
	if quantity <= 0 {
		return types.Transaction{}, types.Faultf(types.FaultInternal, "quantity must be positive, got %d", quantity)
	}
	quoted, err := decimalPrice(quotedPrice)
	if err != nil {
		return types.Transaction{}, err
	}
	if spread.IsNegative() {
		return types.Transaction{}, types.Faultf(types.FaultInternal, "negative spread %s", spread.String())
	}

	defer s.locks.lockOp(name)()

	acct, err := s.GetAccount(ctx, name)
	if err != nil {
		return types.Transaction{}, err
	}
	if acct.Holdings == nil {
		acct.Holdings = map[string]int64{}
	}

	var executed decimal.Decimal
	if side == types.SideBuy {
		executed = quoted.Mul(one.Add(spread)).RoundBank(2)
	} else {
		executed = quoted.Mul(one.Sub(spread)).RoundBank(2)
	}
	qty := decimal.NewFromInt(quantity)
	total := executed.Mul(qty).RoundBank(2)

	switch side {
	case types.SideBuy:
		if total.GreaterThan(acct.Balance) {
			return types.Transaction{}, types.Faultf(types.FaultInsufficientFunds,
				"account %s: need %s, balance %s", name, total.String(), acct.Balance.String())
		}
		acct.Balance = acct.Balance.Sub(total)
		acct.Holdings[symbol] += quantity
	case types.SideSell:
		held := acct.Holding(symbol)
		if quantity > held {
			return types.Transaction{}, types.Faultf(types.FaultInsufficientHoldings,
				"account %s: selling %d %s, holding %d", name, quantity, symbol, held)
		}
		acct.Balance = acct.Balance.Add(total)
		if held == quantity {
			delete(acct.Holdings, symbol)
		} else {
			acct.Holdings[symbol] = held - quantity
		}
	default:
		return types.Transaction{}, types.Faultf(types.FaultInternal, "unknown side %q", side)
	}
	if acct.Balance.IsNegative() {
		return types.Transaction{}, types.Faultf(types.FaultInternal,
			"account %s: balance would go negative (%s)", name, acct.Balance.String())
	}

	txn := types.Transaction{
		Account:      name,
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Price:        executed,
		Total:        total,
		Rationale:    strings.TrimSpace(rationale),
		BalanceAfter: acct.Balance,
	}
	applied, err := s.store.ApplyTrade(ctx, acct, txn)
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			return types.Transaction{}, types.Faultf(types.FaultNotFound, "account %s not found", name)
		}
		return types.Transaction{}, fmt.Errorf("apply %s for %s: %w", side, name, err)
	}
	logger.Infof("ledger: %s %s %d %s @ %s (total %s, balance %s)",
		name, side, quantity, symbol, executed.String(), total.String(), applied.BalanceAfter.String())
	return applied, nil
}

// Reset restores the seed balance, clears holdings, transactions, snapshots
// and traces, and returns the account to Trading mode. It waits for any
// in-flight run on the account before touching anything.
func (s *Service) Reset(ctx context.Context, name string, seedBalance decimal.Decimal) error {
	name = normalizeName(name)
	if seedBalance.IsNegative() {
		return types.Faultf(types.FaultInternal, "negative seed balance %s", seedBalance.String())
	}
	release, err := s.locks.AcquireRun(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	defer s.locks.lockOp(name)()

	if _, err := s.GetAccount(ctx, name); err != nil {
		return err
	}
	if err := s.store.ResetAccount(ctx, name, seedBalance); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			return types.Faultf(types.FaultNotFound, "account %s not found", name)
		}
		return fmt.Errorf("reset account %s: %w", name, err)
	}
	if s.traces != nil {
		if err := s.traces.PurgeAccount(ctx, name); err != nil {
			logger.Warnf("ledger: purge traces for %s: %v", name, err)
		}
	}
	logger.Infof("ledger: account %s reset to %s", name, seedBalance.String())
	return nil
}

// FlipMode alternates Trading and Rebalancing. Called by the runtime's
// Persist step only, under the account's execution lease.
func (s *Service) FlipMode(ctx context.Context, name string) (types.Mode, error) {
	name = normalizeName(name)
	defer s.locks.lockOp(name)()
	acct, err := s.GetAccount(ctx, name)
	if err != nil {
		return "", err
	}
	next := acct.Mode.Flip()
	if err := s.store.UpdateAccountMode(ctx, name, next); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			return "", types.Faultf(types.FaultNotFound, "account %s not found", name)
		}
		return "", fmt.Errorf("flip mode for %s: %w", name, err)
	}
	return next, nil
}

// UpdateStrategy replaces the account's strategy text.
func (s *Service) UpdateStrategy(ctx context.Context, name, strategy string) error {
	name = normalizeName(name)
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return types.Faultf(types.FaultInternal, "strategy text is empty")
	}
	defer s.locks.lockOp(name)()
	if err := s.store.UpdateAccountStrategy(ctx, name, strategy); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			return types.Faultf(types.FaultNotFound, "account %s not found", name)
		}
		return fmt.Errorf("update strategy for %s: %w", name, err)
	}
	return nil
}

// SetActive toggles whether the floor schedules runs for this account.
func (s *Service) SetActive(ctx context.Context, name string, active bool) error {
	name = normalizeName(name)
	defer s.locks.lockOp(name)()
	if err := s.store.SetAccountActive(ctx, name, active); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			return types.Faultf(types.FaultNotFound, "account %s not found", name)
		}
		return fmt.Errorf("set active for %s: %w", name, err)
	}
	return nil
}

// Valuation is the derived view of an account: cash plus market value of
// holdings at the last known prices. Recomputed on demand, never stored as
// ground truth.
type Valuation struct {
	Account     string                      `json:"account"`
	Cash        decimal.Decimal             `json:"cash"`
	MarketValue decimal.Decimal             `json:"market_value"`
	TotalValue  decimal.Decimal             `json:"total_value"`
	PnL         decimal.Decimal             `json:"pnl"`
	PnLPercent  float64                     `json:"pnl_percent"`
	Prices      map[string]types.PriceQuote `json:"prices"`
}

func (s *Service) Valuation(ctx context.Context, name string) (Valuation, error) {
	acct, err := s.GetAccount(ctx, name)
	if err != nil {
		return Valuation{}, err
	}
	val := Valuation{
		Account: acct.Name,
		Cash:    acct.Balance,
		Prices:  make(map[string]types.PriceQuote, len(acct.Holdings)),
	}
	market := decimal.Zero
	for symbol, qty := range acct.Holdings {
		quote, err := s.prices.GetPrice(ctx, symbol)
		if err != nil {
			return Valuation{}, fmt.Errorf("price %s: %w", symbol, err)
		}
		val.Prices[symbol] = quote
		price, err := decimalPrice(quote.Price)
		if err != nil {
			continue
		}
		market = market.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	val.MarketValue = market.RoundBank(2)
	val.TotalValue = val.Cash.Add(val.MarketValue)
	val.PnL = val.TotalValue.Sub(s.seedBalance)
	if s.seedBalance.IsPositive() {
		val.PnLPercent, _ = val.PnL.Div(s.seedBalance).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	}
	return val, nil
}

// RecordSnapshot appends the current portfolio value to the account's
// history and trims it to the newest entries.
func (s *Service) RecordSnapshot(ctx context.Context, name string) error {
	val, err := s.Valuation(ctx, name)
	if err != nil {
		return err
	}
	total, _ := val.TotalValue.Float64()
	cash, _ := val.Cash.Float64()
	if err := s.store.AppendSnapshot(ctx, val.Account, total, cash); err != nil {
		return fmt.Errorf("append snapshot for %s: %w", val.Account, err)
	}
	if err := s.store.TrimSnapshots(ctx, val.Account, snapshotHistoryKeep); err != nil {
		return fmt.Errorf("trim snapshots for %s: %w", val.Account, err)
	}
	return nil
}

func (s *Service) SnapshotHistory(ctx context.Context, name string, limit int) ([]gormstore.SnapshotPoint, error) {
	name = normalizeName(name)
	if _, err := s.GetAccount(ctx, name); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, name, limit)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func decimalPrice(p float64) (decimal.Decimal, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return decimal.Decimal{}, types.Faultf(types.FaultInternal, "invalid price %v", p)
	}
	return decimal.NewFromFloat(p), nil
}
