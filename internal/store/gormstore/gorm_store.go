package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradefloor/internal/store/model"
	"tradefloor/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound reports that a targeted row does not exist.
var ErrNotFound = errors.New("gorm store: record not found")

// Store owns the authoritative tables: accounts, transactions, the market
// price cache, agent memory and portfolio snapshots. The run trace lives in
// its own file (see store/runlog) so diagnostic writes never contend here.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.AccountModel{},
		&model.TransactionModel{},
		&model.PriceModel{},
		&model.MemoryModel{},
		&model.SnapshotModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for dashboard reads while keeping
	// writer lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	return s.db.DB()
}

// GormDB exposes the underlying *gorm.DB (read-only reference).
func (s *Store) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// --------------------------- Accounts ------------------------------

// SeedAccount creates the account if it does not exist yet. Returns true
// when a row was actually inserted, false when the name was already taken.
func (s *Store) SeedAccount(ctx context.Context, acct types.AccountSnapshot) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store not initialized")
	}
	m, err := accountToModel(acct)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()
	m.CreatedAtUnix = now
	m.UpdatedAtUnix = now
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetAccount(ctx context.Context, name string) (types.AccountSnapshot, bool, error) {
	if s == nil || s.db == nil {
		return types.AccountSnapshot{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m model.AccountModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.AccountSnapshot{}, false, nil
	}
	if err != nil {
		return types.AccountSnapshot{}, false, err
	}
	acct, err := accountFromModel(m)
	if err != nil {
		return types.AccountSnapshot{}, false, err
	}
	return acct, true, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []model.AccountModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.AccountSnapshot, 0, len(models))
	for _, m := range models {
		acct, err := accountFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *Store) SetAccountActive(ctx context.Context, name string, active bool) error {
	return s.updateAccountFields(ctx, name, map[string]interface{}{"active": active})
}

func (s *Store) UpdateAccountStrategy(ctx context.Context, name, strategy string) error {
	return s.updateAccountFields(ctx, name, map[string]interface{}{"strategy": strategy})
}

func (s *Store) UpdateAccountMode(ctx context.Context, name string, mode types.Mode) error {
	return s.updateAccountFields(ctx, name, map[string]interface{}{"mode": string(mode)})
}

func (s *Store) updateAccountFields(ctx context.Context, name string, fields map[string]interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	fields["updated_at"] = time.Now().Unix()
	res := s.db.WithContext(ctx).Model(&model.AccountModel{}).Where("name = ?", name).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyTrade writes the post-trade account state and appends the transaction
// in one database transaction. Validation happened before this call; here the
// two writes either both land or neither does.
func (s *Store) ApplyTrade(ctx context.Context, acct types.AccountSnapshot, txn types.Transaction) (types.Transaction, error) {
	if s == nil || s.db == nil {
		return types.Transaction{}, fmt.Errorf("gorm store not initialized")
	}
	am, err := accountToModel(acct)
	if err != nil {
		return types.Transaction{}, err
	}
	tm := transactionToModel(txn)
	now := time.Now().Unix()
	tm.CreatedAtUnix = now
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AccountModel{}).Where("name = ?", acct.Name).Updates(map[string]interface{}{
			"balance":    am.Balance,
			"holdings":   am.Holdings,
			"updated_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(&tm).Error
	})
	if err != nil {
		return types.Transaction{}, err
	}
	txn.ID = uint(tm.ID)
	txn.Timestamp = time.Unix(tm.CreatedAtUnix, 0)
	return txn, nil
}

// ResetAccount restores the seed balance, empties holdings and drops the
// account's transactions, snapshots and memory.
func (s *Store) ResetAccount(ctx context.Context, name string, balance decimal.Decimal) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AccountModel{}).Where("name = ?", name).Updates(map[string]interface{}{
			"balance":    balance.String(),
			"holdings":   datatypes.JSON([]byte("{}")),
			"mode":       string(types.ModeTrading),
			"updated_at": time.Now().Unix(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("account = ?", name).Delete(&model.TransactionModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account = ?", name).Delete(&model.SnapshotModel{}).Error; err != nil {
			return err
		}
		return tx.Where("account = ?", name).Delete(&model.MemoryModel{}).Error
	})
}

// --------------------------- Transactions ------------------------------

// ListTransactions returns the account's trades in insertion order.
func (s *Store) ListTransactions(ctx context.Context, account string) ([]types.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []model.TransactionModel
	if err := s.db.WithContext(ctx).Where("account = ?", account).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Transaction, 0, len(models))
	for _, m := range models {
		txn, err := transactionFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, nil
}

// --------------------------- Market prices ------------------------------

// UpsertPrices stores quotes keyed by (symbol, date), overwriting price,
// tier and fetch time on conflict. A grouped end-of-day fetch can carry
// thousands of rows, hence the batching.
func (s *Store) UpsertPrices(ctx context.Context, quotes []types.PriceQuote) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if len(quotes) == 0 {
		return nil
	}
	models := make([]model.PriceModel, 0, len(quotes))
	for _, q := range quotes {
		models = append(models, model.PriceModel{
			Symbol:        q.Symbol,
			Date:          q.AsOf,
			Price:         q.Price,
			Tier:          string(q.Tier),
			FetchedAtUnix: q.FetchedAt.Unix(),
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "tier", "fetched_at"}),
		}).
		CreateInBatches(&models, 100).Error
}

func (s *Store) GetPrice(ctx context.Context, symbol, date string) (types.PriceQuote, bool, error) {
	if s == nil || s.db == nil {
		return types.PriceQuote{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m model.PriceModel
	err := s.db.WithContext(ctx).Where("symbol = ? AND date = ?", symbol, date).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PriceQuote{}, false, nil
	}
	if err != nil {
		return types.PriceQuote{}, false, err
	}
	return priceFromModel(m), true, nil
}

// LatestPrice returns the newest cached entry for symbol dated on or after
// minDate (the staleness lookback cut-off).
func (s *Store) LatestPrice(ctx context.Context, symbol, minDate string) (types.PriceQuote, bool, error) {
	if s == nil || s.db == nil {
		return types.PriceQuote{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m model.PriceModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date >= ?", symbol, minDate).
		Order("date DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PriceQuote{}, false, nil
	}
	if err != nil {
		return types.PriceQuote{}, false, err
	}
	return priceFromModel(m), true, nil
}

// LatestPrices returns the newest cached entry per requested symbol.
func (s *Store) LatestPrices(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	out := make(map[string]types.PriceQuote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	var models []model.PriceModel
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&model.PriceModel{}).
			Select("MAX(id)").
			Where("symbol IN ?", symbols).
			Group("symbol")).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.Symbol] = priceFromModel(m)
	}
	return out, nil
}

// DailyHistory returns up to limit end-of-day entries for symbol, oldest
// first, for indicator computation.
func (s *Store) DailyHistory(ctx context.Context, symbol string, limit int) ([]types.PriceQuote, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	var models []model.PriceModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.PriceQuote, len(models))
	for i, m := range models {
		out[len(models)-1-i] = priceFromModel(m)
	}
	return out, nil
}

// SaveIndicators attaches a computed indicator payload to a cached price row.
func (s *Store) SaveIndicators(ctx context.Context, symbol, date string, payload []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	res := s.db.WithContext(ctx).Model(&model.PriceModel{}).
		Where("symbol = ? AND date = ?", symbol, date).
		Update("indicators", datatypes.JSON(payload))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------------------- Agent memory ------------------------------

func (s *Store) GetMemory(ctx context.Context, account, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("gorm store not initialized")
	}
	var m model.MemoryModel
	err := s.db.WithContext(ctx).Where("account = ? AND key = ?", account, key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Value, true, nil
}

func (s *Store) PutMemory(ctx context.Context, account, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	m := model.MemoryModel{
		Account:       account,
		Key:           key,
		Value:         value,
		UpdatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&m).Error
}

func (s *Store) ListMemory(ctx context.Context, account string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []model.MemoryModel
	if err := s.db.WithContext(ctx).Where("account = ?", account).Order("key ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(models))
	for _, m := range models {
		out[m.Key] = m.Value
	}
	return out, nil
}

// --------------------------- Portfolio snapshots ------------------------------

// SnapshotPoint is one point of an account's portfolio value history.
type SnapshotPoint struct {
	At      time.Time `json:"at"`
	Value   float64   `json:"value"`
	Balance float64   `json:"balance"`
}

func (s *Store) AppendSnapshot(ctx context.Context, account string, value, balance float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	m := model.SnapshotModel{
		Account:       account,
		Value:         value,
		Balance:       balance,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// TrimSnapshots keeps only the newest keep rows for account.
func (s *Store) TrimSnapshots(ctx context.Context, account string, keep int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if keep <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM portfolio_snapshots WHERE account = ? AND id NOT IN (
			SELECT id FROM portfolio_snapshots WHERE account = ? ORDER BY id DESC LIMIT ?)`,
		account, account, keep,
	).Error
}

func (s *Store) ListSnapshots(ctx context.Context, account string, limit int) ([]SnapshotPoint, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 {
		limit = 1000
	}
	var models []model.SnapshotModel
	err := s.db.WithContext(ctx).
		Where("account = ?", account).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotPoint, len(models))
	for i, m := range models {
		out[len(models)-1-i] = SnapshotPoint{
			At:      time.Unix(m.CreatedAtUnix, 0),
			Value:   m.Value,
			Balance: m.Balance,
		}
	}
	return out, nil
}

// --------------------------- Converters ------------------------------

func accountToModel(a types.AccountSnapshot) (model.AccountModel, error) {
	holdings := a.Holdings
	if holdings == nil {
		holdings = map[string]int64{}
	}
	hb, err := json.Marshal(holdings)
	if err != nil {
		return model.AccountModel{}, fmt.Errorf("marshal holdings: %w", err)
	}
	return model.AccountModel{
		Name:          a.Name,
		DisplayName:   a.DisplayName,
		Strategy:      a.Strategy,
		Balance:       a.Balance.String(),
		Holdings:      datatypes.JSON(hb),
		Mode:          string(a.Mode),
		Active:        a.Active,
		UpdatedAtUnix: a.UpdatedAt.Unix(),
	}, nil
}

func accountFromModel(m model.AccountModel) (types.AccountSnapshot, error) {
	balance, err := decimal.NewFromString(strings.TrimSpace(m.Balance))
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("account %s: bad balance %q: %w", m.Name, m.Balance, err)
	}
	holdings := map[string]int64{}
	if len(m.Holdings) > 0 {
		if err := json.Unmarshal(m.Holdings, &holdings); err != nil {
			return types.AccountSnapshot{}, fmt.Errorf("account %s: bad holdings: %w", m.Name, err)
		}
	}
	mode := types.Mode(m.Mode)
	if mode != types.ModeTrading && mode != types.ModeRebalancing {
		mode = types.ModeTrading
	}
	return types.AccountSnapshot{
		Name:        m.Name,
		DisplayName: m.DisplayName,
		Strategy:    m.Strategy,
		Balance:     balance,
		Holdings:    holdings,
		Mode:        mode,
		Active:      m.Active,
		UpdatedAt:   time.Unix(m.UpdatedAtUnix, 0),
	}, nil
}

func transactionToModel(t types.Transaction) model.TransactionModel {
	return model.TransactionModel{
		Account:      t.Account,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Quantity:     t.Quantity,
		Price:        t.Price.String(),
		Total:        t.Total.String(),
		Rationale:    t.Rationale,
		BalanceAfter: t.BalanceAfter.String(),
	}
}

func transactionFromModel(m model.TransactionModel) (types.Transaction, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction %d: bad price %q: %w", m.ID, m.Price, err)
	}
	total, err := decimal.NewFromString(m.Total)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction %d: bad total %q: %w", m.ID, m.Total, err)
	}
	after, err := decimal.NewFromString(m.BalanceAfter)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction %d: bad balance %q: %w", m.ID, m.BalanceAfter, err)
	}
	return types.Transaction{
		ID:           uint(m.ID),
		Account:      m.Account,
		Symbol:       m.Symbol,
		Side:         types.Side(m.Side),
		Quantity:     m.Quantity,
		Price:        price,
		Total:        total,
		Rationale:    m.Rationale,
		BalanceAfter: after,
		Timestamp:    time.Unix(m.CreatedAtUnix, 0),
	}, nil
}

func priceFromModel(m model.PriceModel) types.PriceQuote {
	return types.PriceQuote{
		Symbol:    m.Symbol,
		Price:     m.Price,
		Tier:      types.SourceTier(m.Tier),
		AsOf:      m.Date,
		FetchedAt: time.Unix(m.FetchedAtUnix, 0),
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
