package repositories

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured store and migrates every table.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.DBName)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// a second connection to ":memory:" would see an empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Candle{},
		&models.HAState{},
		&models.Position{},
		&models.Trade{},
		&models.Cooldown{},
		&models.Balance{},
		&models.Transaction{},
	)
}

// Repositories bundles every repository over one connection or transaction.
type Repositories struct {
	db *gorm.DB

	Candles      *CandleRepository
	HAStates     *HAStateRepository
	Positions    *PositionRepository
	Trades       *TradeRepository
	Cooldowns    *CooldownRepository
	Balances     *BalanceRepository
	Transactions *TransactionRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		db:           db,
		Candles:      NewCandleRepository(db),
		HAStates:     NewHAStateRepository(db),
		Positions:    NewPositionRepository(db),
		Trades:       NewTradeRepository(db),
		Cooldowns:    NewCooldownRepository(db),
		Balances:     NewBalanceRepository(db),
		Transactions: NewTransactionRepository(db),
	}
}

// Transaction runs fn against repositories bound to a single database
// transaction. fn must not use repositories from outside the closure.
func (r *Repositories) Transaction(fn func(tx *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}
