package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PerpMarket holds the unit conversion parameters of a perp market.
type PerpMarket struct {
	Name          string `yaml:"name" json:"name"`
	BaseDecimals  int32  `yaml:"base_decimals" json:"base_decimals"`
	QuoteDecimals int32  `yaml:"quote_decimals" json:"quote_decimals"`
	BaseLotSize   int64  `yaml:"base_lot_size" json:"base_lot_size"`
	QuoteLotSize  int64  `yaml:"quote_lot_size" json:"quote_lot_size"`
}

// Validate checks that the lot sizes can be used as divisors.
func (m *PerpMarket) Validate() error {
	if m.Name == "" {
		return &ConfigError{Field: "market.name", Err: errors.New("must not be empty")}
	}
	if m.BaseLotSize <= 0 {
		return &ConfigError{Field: "market.base_lot_size", Err: errors.New("must be positive")}
	}
	if m.QuoteLotSize <= 0 {
		return &ConfigError{Field: "market.quote_lot_size", Err: errors.New("must be positive")}
	}
	return nil
}

// UIPrice converts a price in lots to quote units per base unit:
// lots * quoteLotSize * 10^baseDecimals / (baseLotSize * 10^quoteDecimals)
func (m *PerpMarket) UIPrice(lots uint64) decimal.Decimal {
	if m.BaseLotSize == 0 {
		return decimal.Zero
	}
	num := decimal.NewFromUint64(lots).
		Mul(decimal.NewFromInt(m.QuoteLotSize)).
		Shift(m.BaseDecimals)
	den := decimal.NewFromInt(m.BaseLotSize).Shift(m.QuoteDecimals)
	return num.Div(den)
}

// UIQuantity converts a quantity in base lots to base units.
func (m *PerpMarket) UIQuantity(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).
		Mul(decimal.NewFromInt(m.BaseLotSize)).
		Shift(-m.BaseDecimals)
}
