package model

import (
	"gorm.io/datatypes"
)

type AccountModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Name          string         `gorm:"column:name;uniqueIndex"`
	DisplayName   string         `gorm:"column:display_name"`
	Strategy      string         `gorm:"column:strategy;type:TEXT"`
	Balance       string         `gorm:"column:balance"`
	Holdings      datatypes.JSON `gorm:"column:holdings;type:TEXT"`
	Mode          string         `gorm:"column:mode"`
	Active        bool           `gorm:"column:active"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "accounts" }

type TransactionModel struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Account       string `gorm:"column:account;index"`
	Symbol        string `gorm:"column:symbol"`
	Side          string `gorm:"column:side"`
	Quantity      int64  `gorm:"column:quantity"`
	Price         string `gorm:"column:price"`
	Total         string `gorm:"column:total"`
	Rationale     string `gorm:"column:rationale;type:TEXT"`
	BalanceAfter  string `gorm:"column:balance_after"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (TransactionModel) TableName() string { return "transactions" }

type PriceModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_price_symbol_date,priority:1"`
	Date          string         `gorm:"column:date;uniqueIndex:idx_price_symbol_date,priority:2"`
	Price         float64        `gorm:"column:price"`
	Tier          string         `gorm:"column:tier"`
	Indicators    datatypes.JSON `gorm:"column:indicators;type:TEXT"`
	FetchedAtUnix int64          `gorm:"column:fetched_at"`
}

func (PriceModel) TableName() string { return "market_prices" }

type MemoryModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Account       string `gorm:"column:account;uniqueIndex:idx_memory_account_key,priority:1"`
	Key           string `gorm:"column:key;uniqueIndex:idx_memory_account_key,priority:2"`
	Value         string `gorm:"column:value;type:TEXT"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (MemoryModel) TableName() string { return "agent_memory" }

type SnapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Account       string  `gorm:"column:account;index"`
	Value         float64 `gorm:"column:value"`
	Balance       float64 `gorm:"column:balance"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (SnapshotModel) TableName() string { return "portfolio_snapshots" }
