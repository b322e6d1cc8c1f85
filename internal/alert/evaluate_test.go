package alert

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testAlert(direction Direction, threshold int64) Alert {
	return Alert{
		ID:        "a1",
		Symbol:    "AAPL",
		Direction: direction,
		Threshold: decimal.NewFromInt(threshold),
		Status:    StatusActive,
		Channel:   ChannelPush,
		Target:    "ExponentPushToken[test]",
	}
}

func TestEvaluateRisingEdge(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	now := time.Unix(1000, 0)

	notify, next := Evaluate(a, decimal.NewFromInt(205), nil, now, DefaultParams())
	if !notify {
		t.Fatal("first satisfying price must notify")
	}
	if !next.LastConditionMet {
		t.Fatal("lastConditionMet should be true after rising edge")
	}
	if next.LastNotifiedPrice == nil || !next.LastNotifiedPrice.Equal(decimal.NewFromInt(205)) {
		t.Fatalf("lastNotifiedPrice = %v, want 205", next.LastNotifiedPrice)
	}
	if next.LastNotifiedAt == nil || !next.LastNotifiedAt.Equal(now) {
		t.Fatalf("lastNotifiedAt = %v, want %v", next.LastNotifiedAt, now)
	}
	if next.LastTriggeredAt == nil || !next.LastTriggeredAt.Equal(now) {
		t.Fatalf("lastTriggeredAt = %v, want %v", next.LastTriggeredAt, now)
	}
}

func TestEvaluateNoDoubleFire(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	now := time.Unix(1000, 0)
	price := decimal.NewFromInt(205)

	_, state := Evaluate(a, price, nil, now, DefaultParams())

	notify, _ := Evaluate(a, price, &state, now.Add(time.Minute), DefaultParams())
	if notify {
		t.Fatal("same satisfying price with carried state must not fire again")
	}
}

func TestEvaluateFallingThenRising(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	params := DefaultParams()
	t0 := time.Unix(1000, 0)

	notify1, s1 := Evaluate(a, decimal.NewFromInt(205), nil, t0, params)
	if !notify1 {
		t.Fatal("tick 1 should notify")
	}

	notify2, s2 := Evaluate(a, decimal.NewFromInt(195), &s1, t0.Add(time.Minute), params)
	if notify2 {
		t.Fatal("falling tick must not notify")
	}
	if s2.LastConditionMet {
		t.Fatal("falling edge must clear lastConditionMet")
	}
	if s2.LastNotifiedPrice == nil || s2.LastTriggeredAt == nil {
		t.Fatal("falling edge must preserve notify history")
	}

	// Re-crossing is a brand-new rising edge and is not subject to the
	// cooldown even though the last notification was only minutes ago.
	notify3, s3 := Evaluate(a, decimal.NewFromInt(206), &s2, t0.Add(2*time.Minute), params)
	if !notify3 {
		t.Fatal("re-crossing should notify as a fresh rising edge")
	}
	if !s3.LastConditionMet {
		t.Fatal("lastConditionMet should be true after re-crossing")
	}
}

func TestEvaluateCooldownGate(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	params := DefaultParams()
	t0 := time.Unix(1000, 0)

	_, s1 := Evaluate(a, decimal.NewFromInt(205), nil, t0, params)

	// Price moved 2.4% but only a minute elapsed.
	moved := decimal.NewFromInt(210)
	notify, s2 := Evaluate(a, moved, &s1, t0.Add(time.Minute), params)
	if notify {
		t.Fatal("price move inside cooldown must not notify")
	}
	if s2.LastNotifiedPrice == nil || !s2.LastNotifiedPrice.Equal(decimal.NewFromInt(205)) {
		t.Fatal("non-notifying tick must not touch lastNotifiedPrice")
	}

	// Same move after the cooldown elapses.
	notify, s3 := Evaluate(a, moved, &s2, t0.Add(16*time.Minute), params)
	if !notify {
		t.Fatal("price move past cooldown must notify")
	}
	if s3.LastNotifiedPrice == nil || !s3.LastNotifiedPrice.Equal(moved) {
		t.Fatalf("lastNotifiedPrice = %v, want 210", s3.LastNotifiedPrice)
	}
	if !s3.LastTriggeredAt.Equal(*s1.LastTriggeredAt) {
		t.Fatal("re-notify must leave lastTriggeredAt unchanged")
	}
}

func TestEvaluateSmallMovePastCooldown(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	params := DefaultParams()
	t0 := time.Unix(1000, 0)

	_, s1 := Evaluate(a, decimal.NewFromInt(205), nil, t0, params)

	// 1% move, well past the cooldown: still below the change threshold.
	notify, _ := Evaluate(a, decimal.NewFromInt(207), &s1, t0.Add(time.Hour), params)
	if notify {
		t.Fatal("move below change threshold must not notify regardless of elapsed time")
	}
}

func TestEvaluateMissingNotifiedAtCountsAsInfinite(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	prevPrice := decimal.NewFromInt(205)
	prev := StateSnapshot{
		LastConditionMet:  true,
		LastPrice:         &prevPrice,
		LastNotifiedPrice: &prevPrice,
		// LastNotifiedAt deliberately absent.
	}

	notify, _ := Evaluate(a, decimal.NewFromInt(215), &prev, time.Unix(1000, 0), DefaultParams())
	if !notify {
		t.Fatal("missing lastNotifiedAt must not block re-notification")
	}
}

func TestEvaluateBelowDirection(t *testing.T) {
	a := testAlert(DirectionBelow, 100)

	notify, _ := Evaluate(a, decimal.NewFromInt(99), nil, time.Unix(1, 0), DefaultParams())
	if !notify {
		t.Fatal("price under a below-threshold must notify")
	}

	notify, _ = Evaluate(a, decimal.NewFromInt(101), nil, time.Unix(1, 0), DefaultParams())
	if notify {
		t.Fatal("price over a below-threshold must not notify")
	}
}

func TestEvaluateExampleScenario(t *testing.T) {
	a := Alert{ID: "a1", Symbol: "AAPL", Direction: DirectionAbove, Threshold: decimal.NewFromInt(200), Status: StatusActive}
	params := DefaultParams()

	t1 := time.UnixMilli(1)
	notify, s := Evaluate(a, decimal.NewFromInt(205), nil, t1, params)
	if !notify {
		t.Fatal("tick 1 should notify")
	}
	if !s.LastNotifiedPrice.Equal(decimal.NewFromInt(205)) {
		t.Fatalf("tick 1 lastNotifiedPrice = %s, want 205", s.LastNotifiedPrice)
	}

	t2 := time.UnixMilli(2)
	notify, s = Evaluate(a, decimal.NewFromInt(210), &s, t2, params)
	if notify {
		t.Fatal("tick 2 should not notify: 1ms elapsed is inside the cooldown")
	}

	t3 := time.UnixMilli(900003)
	notify, s = Evaluate(a, decimal.NewFromInt(215), &s, t3, params)
	if !notify {
		t.Fatal("tick 3 should notify: past cooldown, ~4.9% away from 205")
	}
	if !s.LastNotifiedPrice.Equal(decimal.NewFromInt(215)) {
		t.Fatalf("tick 3 lastNotifiedPrice = %s, want 215", s.LastNotifiedPrice)
	}
}

func TestEvaluateAllPartitions(t *testing.T) {
	active := testAlert(DirectionAbove, 200)
	paused := testAlert(DirectionAbove, 200)
	paused.ID = "a2"
	paused.Status = StatusPaused
	missing := testAlert(DirectionAbove, 200)
	missing.ID = "a3"
	missing.Symbol = "MSFT"

	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(205)}
	now := time.Unix(1000, 0)

	result := EvaluateAll([]Alert{active, paused, missing}, prices, nil, now, DefaultParams())

	if len(result.Notifications) != 1 || result.Notifications[0].Alert.ID != "a1" {
		t.Fatalf("notifications = %+v, want one for a1", result.Notifications)
	}
	if len(result.Updates) != 1 || result.Updates[0].AlertID != "a1" {
		t.Fatalf("updates = %+v, want one for a1", result.Updates)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("skipped = %+v, want two entries", result.Skipped)
	}
	reasons := map[string]string{}
	for _, s := range result.Skipped {
		reasons[s.AlertID] = s.Reason
	}
	if reasons["a2"] != SkipInactive {
		t.Fatalf("a2 skip reason = %q, want %q", reasons["a2"], SkipInactive)
	}
	if reasons["a3"] != SkipMissingPrice {
		t.Fatalf("a3 skip reason = %q, want %q", reasons["a3"], SkipMissingPrice)
	}
}

func TestEvaluateAllSuppressesUnchangedState(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	now := time.Unix(1000, 0)
	price := decimal.NewFromInt(195)

	first := EvaluateAll([]Alert{a}, map[string]decimal.Decimal{"AAPL": price}, nil, now, DefaultParams())
	if len(first.Updates) != 1 {
		t.Fatalf("first run should produce a state update, got %d", len(first.Updates))
	}

	states := map[string]StateSnapshot{a.ID: first.Updates[0].State}
	second := EvaluateAll([]Alert{a}, map[string]decimal.Decimal{"AAPL": price}, states, now.Add(time.Minute), DefaultParams())
	if len(second.Updates) != 0 {
		t.Fatalf("identical state must not be re-emitted, got %+v", second.Updates)
	}
}

func TestEvaluateAllNormalizesSymbols(t *testing.T) {
	a := testAlert(DirectionAbove, 200)
	a.Symbol = " aapl "

	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(205)}
	result := EvaluateAll([]Alert{a}, prices, nil, time.Unix(1, 0), DefaultParams())
	if len(result.Notifications) != 1 {
		t.Fatal("symbol lookup should normalize case and whitespace")
	}
}
