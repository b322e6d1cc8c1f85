package alert

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates which side of the threshold triggers the alert.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Status reflects whether an alert participates in evaluation.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// ChannelPush is the only delivery channel the engine dispatches itself;
// other channels are recorded but handed off elsewhere.
const ChannelPush = "push"

// Alert is the read-only evaluation input owned by the CRUD layer.
type Alert struct {
	ID        string
	Symbol    string
	Direction Direction
	Threshold decimal.Decimal
	Status    Status
	Channel   string
	Target    string
}

// Active reports whether the alert should be evaluated at all.
func (a Alert) Active() bool {
	return a.Status == StatusActive
}

// NormalizeSymbol uppercases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// StateSnapshot is the per-alert evaluation memory carried between runs.
// LastNotifiedAt and LastNotifiedPrice are always set together; both
// describe the most recent notification that actually went out.
type StateSnapshot struct {
	LastConditionMet  bool             `json:"lastConditionMet"`
	LastPrice         *decimal.Decimal `json:"lastPrice,omitempty"`
	LastTriggeredAt   *time.Time       `json:"lastTriggeredAt,omitempty"`
	LastNotifiedPrice *decimal.Decimal `json:"lastNotifiedPrice,omitempty"`
	LastNotifiedAt    *time.Time       `json:"lastNotifiedAt,omitempty"`
}

// Equal compares snapshots field by field.
func (s StateSnapshot) Equal(other StateSnapshot) bool {
	return s.LastConditionMet == other.LastConditionMet &&
		decimalPtrEqual(s.LastPrice, other.LastPrice) &&
		timePtrEqual(s.LastTriggeredAt, other.LastTriggeredAt) &&
		decimalPtrEqual(s.LastNotifiedPrice, other.LastNotifiedPrice) &&
		timePtrEqual(s.LastNotifiedAt, other.LastNotifiedAt)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
