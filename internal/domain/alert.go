package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AlertDirection tells which side of the target price fires an alert.
type AlertDirection string

const (
	AlertAbove AlertDirection = "ABOVE"
	AlertBelow AlertDirection = "BELOW"
)

// AlertSpec is the config form of a price alert.
type AlertSpec struct {
	Price      string `yaml:"price" json:"price"`
	Direction  string `yaml:"direction" json:"direction"`   // "above" or "below"; empty = decided from the first price
	Persistent bool   `yaml:"persistent" json:"persistent"` // re-arms after the price moves back
}

// PriceAlert watches published trade prices of one market.
// It is evaluated from the single goroutine that publishes trades.
type PriceAlert struct {
	Market     string
	Target     decimal.Decimal
	Direction  AlertDirection
	Persistent bool

	active bool
	armed  bool
}

// NewPriceAlert builds an alert from its config form.
func NewPriceAlert(market string, spec AlertSpec) (*PriceAlert, error) {
	target, err := decimal.NewFromString(spec.Price)
	if err != nil {
		return nil, &ConfigError{Field: "alerts.price", Err: err}
	}

	var dir AlertDirection
	switch strings.ToUpper(spec.Direction) {
	case "":
	case string(AlertAbove):
		dir = AlertAbove
	case string(AlertBelow):
		dir = AlertBelow
	default:
		return nil, &ConfigError{Field: "alerts.direction", Err: fmt.Errorf("unknown direction %q", spec.Direction)}
	}

	return &PriceAlert{
		Market:     market,
		Target:     target,
		Direction:  dir,
		Persistent: spec.Persistent,
		active:     true,
		armed:      true,
	}, nil
}

// IsActive returns whether the alert can still fire.
func (a *PriceAlert) IsActive() bool {
	return a.active
}

// Observe feeds a trade price and reports whether the alert fired.
// An alert without a direction takes it from the first price it sees:
// a target above that price waits for the price to rise, otherwise to fall.
// A one-shot alert deactivates after firing. A persistent one fires again
// only after the price has been back on the other side of the target.
func (a *PriceAlert) Observe(price decimal.Decimal) bool {
	if !a.active {
		return false
	}
	if a.Direction == "" {
		a.Direction = AlertBelow
		if a.Target.GreaterThanOrEqual(price) {
			a.Direction = AlertAbove
		}
	}

	hit := false
	switch a.Direction {
	case AlertAbove:
		hit = price.GreaterThanOrEqual(a.Target)
	case AlertBelow:
		hit = price.LessThanOrEqual(a.Target)
	}

	if !hit {
		a.armed = true
		return false
	}
	if !a.armed {
		return false
	}

	a.armed = false
	if !a.Persistent {
		a.active = false
	}
	return true
}
