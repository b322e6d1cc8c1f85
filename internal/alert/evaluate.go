package alert

import (
	"time"

	"github.com/shopspring/decimal"
)

// Skip reasons returned by EvaluateAll.
const (
	SkipInactive     = "inactive"
	SkipMissingPrice = "missing-price"
)

var dec100 = decimal.NewFromInt(100)

// Params tune the re-notification gate for sustained conditions.
type Params struct {
	// ChangeThresholdPct is the minimum percentage move away from the last
	// notified price before an already-triggered alert fires again.
	ChangeThresholdPct decimal.Decimal
	// RenotifyCooldown is the minimum elapsed time between two
	// notifications for the same sustained condition.
	RenotifyCooldown time.Duration
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{
		ChangeThresholdPct: decimal.NewFromFloat(2.0),
		RenotifyCooldown:   15 * time.Minute,
	}
}

// Notification describes a single push the pipeline must deliver.
type Notification struct {
	Alert Alert
	Price decimal.Decimal
	At    time.Time
}

// StateUpdate carries a mutated snapshot back to the cache.
type StateUpdate struct {
	AlertID string
	State   StateSnapshot
}

// Skip records an alert that was not evaluated this run.
type Skip struct {
	AlertID string
	Reason  string
}

// BatchResult partitions an EvaluateAll pass.
type BatchResult struct {
	Notifications []Notification
	Updates       []StateUpdate
	Skipped       []Skip
}

// Evaluate decides whether one alert fires at the given price. It is pure:
// the returned snapshot is the only state change, and prev is never mutated.
func Evaluate(a Alert, price decimal.Decimal, prev *StateSnapshot, now time.Time, p Params) (bool, StateSnapshot) {
	conditionMet := conditionHolds(a, price)

	priceCopy := price
	next := StateSnapshot{
		LastConditionMet: conditionMet,
		LastPrice:        &priceCopy,
	}
	if prev != nil {
		// Trigger/notify history survives falling edges so a later
		// re-crossing is a fresh rising edge.
		next.LastTriggeredAt = prev.LastTriggeredAt
		next.LastNotifiedPrice = prev.LastNotifiedPrice
		next.LastNotifiedAt = prev.LastNotifiedAt
	}

	alreadyReported := prev != nil && prev.LastConditionMet

	switch {
	case conditionMet && !alreadyReported:
		// Rising edge: always notify.
		at := now
		notified := price
		next.LastTriggeredAt = &at
		next.LastNotifiedPrice = &notified
		next.LastNotifiedAt = &at
		return true, next

	case conditionMet && alreadyReported && prev.LastNotifiedPrice != nil:
		if !renotifyDue(price, prev, now, p) {
			return false, next
		}
		at := now
		notified := price
		next.LastNotifiedPrice = &notified
		next.LastNotifiedAt = &at
		return true, next
	}

	return false, next
}

func conditionHolds(a Alert, price decimal.Decimal) bool {
	if a.Direction == DirectionBelow {
		return price.LessThanOrEqual(a.Threshold)
	}
	return price.GreaterThanOrEqual(a.Threshold)
}

// renotifyDue gates repeat notifications for a sustained condition on both a
// minimum price move and a cooldown. A missing LastNotifiedAt counts as an
// infinite elapsed time.
func renotifyDue(price decimal.Decimal, prev *StateSnapshot, now time.Time, p Params) bool {
	base := *prev.LastNotifiedPrice
	if base.IsZero() {
		return false
	}
	pctChange := price.Sub(base).Abs().Div(base).Mul(dec100)
	if pctChange.LessThan(p.ChangeThresholdPct) {
		return false
	}
	if prev.LastNotifiedAt != nil && now.Sub(*prev.LastNotifiedAt) < p.RenotifyCooldown {
		return false
	}
	return true
}

// EvaluateAll runs Evaluate over a batch. Inactive alerts and alerts whose
// symbol has no price are skipped with a reason; state updates are emitted
// only when the computed snapshot differs from the previous one.
func EvaluateAll(alerts []Alert, prices map[string]decimal.Decimal, states map[string]StateSnapshot, now time.Time, p Params) BatchResult {
	result := BatchResult{}

	for _, a := range alerts {
		if !a.Active() {
			result.Skipped = append(result.Skipped, Skip{AlertID: a.ID, Reason: SkipInactive})
			continue
		}

		price, ok := prices[NormalizeSymbol(a.Symbol)]
		if !ok {
			result.Skipped = append(result.Skipped, Skip{AlertID: a.ID, Reason: SkipMissingPrice})
			continue
		}

		var prev *StateSnapshot
		if snapshot, found := states[a.ID]; found {
			s := snapshot
			prev = &s
		}

		notify, next := Evaluate(a, price, prev, now, p)
		if notify {
			result.Notifications = append(result.Notifications, Notification{Alert: a, Price: price, At: now})
		}
		if prev == nil || !prev.Equal(next) {
			result.Updates = append(result.Updates, StateUpdate{AlertID: a.ID, State: next})
		}
	}

	return result
}
