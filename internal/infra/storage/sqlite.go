package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"mango_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultRecentLimit = 100

// Storage keeps the history of published trades in SQLite.
type Storage struct {
	db *gorm.DB
}

var _ domain.TradeRepository = (*Storage)(nil)

// NewStorage opens (or creates) the trade database.
// An empty path resolves to the user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go driver, no cgo
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "MangoGo", "data", "trades.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTrade appends a trade record.
func (s *Storage) SaveTrade(record *domain.TradeRecord) error {
	if record == nil {
		return errors.New("nil trade record")
	}
	return s.db.Create(record).Error
}

// LatestTrade returns the most recently stored trade of a market, or nil if none.
func (s *Storage) LatestTrade(market string) (*domain.TradeRecord, error) {
	var rec domain.TradeRecord
	err := s.db.Where("market = ?", market).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecentTrades returns up to limit trades of a market, newest first.
func (s *Storage) RecentTrades(market string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var recs []domain.TradeRecord
	err := s.db.Where("market = ?", market).Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// CountTrades returns how many trades of a market are stored.
func (s *Storage) CountTrades(market string) (int64, error) {
	var n int64
	err := s.db.Model(&domain.TradeRecord{}).Where("market = ?", market).Count(&n).Error
	return n, err
}
