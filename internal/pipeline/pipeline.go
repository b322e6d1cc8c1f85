// Package pipeline runs one alert evaluation pass: load active alerts, fetch
// prices, evaluate against cached state, queue state updates, and dispatch
// push notifications for every alert that fired.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/alert"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/dispatch"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/pricesource"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/statecache"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/storage"
)

// Config tunes one pipeline instance.
type Config struct {
	Params             alert.Params
	FlushInterval      time.Duration
	MaxConcurrentSends int64
	AdvisoryLockKey    int64
}

// Stats summarises a completed run.
type Stats struct {
	RunID      string
	Alerts     int
	Priced     int
	Notified   int
	Dispatched int
	Updated    int
	Skipped    int
	Flushed    int
	Aborted    bool
}

// Pipeline wires the evaluation engine to its collaborators.
type Pipeline struct {
	alerts     storage.AlertStore
	prices     pricesource.Source
	cache      *statecache.Cache
	dispatcher *dispatch.Dispatcher
	deliveries storage.DeliveryLog
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger
	cfg        Config

	now func() time.Time
}

// New constructs a pipeline. deliveries and locker may be nil; delivery
// logging and the cross-instance run guard are then disabled.
func New(alerts storage.AlertStore, prices pricesource.Source, cache *statecache.Cache, dispatcher *dispatch.Dispatcher, deliveries storage.DeliveryLog, locker storage.AdvisoryLocker, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = 16
	}
	if cfg.Params.ChangeThresholdPct.IsZero() && cfg.Params.RenotifyCooldown == 0 {
		cfg.Params = alert.DefaultParams()
	}
	return &Pipeline{
		alerts:     alerts,
		prices:     prices,
		cache:      cache,
		dispatcher: dispatcher,
		deliveries: deliveries,
		locker:     locker,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run executes one scheduled invocation end to end.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	stats := Stats{RunID: uuid.NewString()}
	logger := p.logger.With().Str("run_id", stats.RunID).Logger()

	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return stats, err
	}
	if !proceed {
		logger.Debug().Msg("skip run because advisory lock held elsewhere")
		stats.Aborted = true
		return stats, nil
	}
	if unlock != nil {
		defer unlock()
	}

	alerts, err := p.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active alerts: %w", err)
	}
	stats.Alerts = len(alerts)
	if len(alerts) == 0 {
		// Still drain any state queued by a previous run.
		stats.Flushed = p.cache.Flush(ctx, p.cfg.FlushInterval)
		logger.Info().Msg("no active alerts; nothing to evaluate")
		return stats, nil
	}

	prices, err := p.prices.FetchPrices(ctx, distinctSymbols(alerts))
	if err != nil {
		return stats, fmt.Errorf("fetch prices: %w", err)
	}
	stats.Priced = len(prices)
	if len(prices) == 0 {
		// Total provider outage: abort without mutating any state, so the
		// next successful run still sees correct priors for edge detection.
		logger.Warn().Int("alerts", len(alerts)).Msg("price source returned nothing; aborting run without state changes")
		stats.Aborted = true
		return stats, nil
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	states, err := p.cache.LoadAll(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("load alert states: %w", err)
	}

	result := alert.EvaluateAll(alerts, prices, states, p.now().UTC(), p.cfg.Params)
	stats.Notified = len(result.Notifications)
	stats.Updated = len(result.Updates)
	stats.Skipped = len(result.Skipped)

	for _, update := range result.Updates {
		p.cache.Put(update.AlertID, update.State)
	}
	// State mutates even on non-notifying ticks, so flush regardless.
	stats.Flushed = p.cache.Flush(ctx, p.cfg.FlushInterval)

	stats.Dispatched = p.dispatchAll(ctx, logger, stats.RunID, result.Notifications)

	logger.Info().
		Int("alerts", stats.Alerts).
		Int("priced", stats.Priced).
		Int("notified", stats.Notified).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("flushed", stats.Flushed).
		Msg("evaluation run complete")
	return stats, nil
}

// dispatchAll fans sends out across tokens with a concurrency cap. Retries
// for one token stay sequential inside the dispatcher.
func (p *Pipeline) dispatchAll(ctx context.Context, logger zerolog.Logger, runID string, notifications []alert.Notification) int {
	if len(notifications) == 0 {
		return 0
	}

	sem := semaphore.NewWeighted(p.cfg.MaxConcurrentSends)
	var wg sync.WaitGroup
	var dispatchedMu sync.Mutex
	dispatched := 0

	for _, n := range notifications {
		n := n
		if err := sem.Acquire(ctx, 1); err != nil {
			logger.Warn().Err(err).Msg("dispatch fan-out cancelled")
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			p.deliverOne(ctx, logger, runID, n)
			dispatchedMu.Lock()
			dispatched++
			dispatchedMu.Unlock()
		}()
	}
	wg.Wait()
	return dispatched
}

func (p *Pipeline) deliverOne(ctx context.Context, logger zerolog.Logger, runID string, n alert.Notification) {
	attempt := storage.DeliveryAttempt{
		ID:        uuid.New(),
		AlertID:   n.Alert.ID,
		Symbol:    n.Alert.Symbol,
		Direction: string(n.Alert.Direction),
		Threshold: n.Alert.Threshold,
		Price:     n.Price,
		Target:    n.Alert.Target,
		Title:     renderTitle(n),
		Body:      renderBody(n),
		RunID:     runID,
	}

	if n.Alert.Channel != alert.ChannelPush {
		// Recorded for auditing; delivery on other channels is owned
		// elsewhere.
		msg := fmt.Sprintf("unsupported channel %q", n.Alert.Channel)
		attempt.Status = storage.DeliveryError
		attempt.Error = &msg
		p.recordAttempt(ctx, logger, attempt)
		return
	}

	outcome := p.dispatcher.Send(ctx, n.Alert.Target, attempt.Title, attempt.Body, pushData(n))
	attempt.Attempts = outcome.Attempts
	if outcome.Success {
		attempt.Status = storage.DeliverySuccess
	} else {
		attempt.Status = storage.DeliveryFailed
		if outcome.FinalError != "" {
			finalErr := outcome.FinalError
			attempt.Error = &finalErr
		}
		if outcome.ErrorKind != "" {
			kind := string(outcome.ErrorKind)
			attempt.ErrorKind = &kind
		}
	}

	p.recordAttempt(ctx, logger, attempt)

	if outcome.CleanupToken {
		if err := p.alerts.MarkTargetDefunct(ctx, n.Alert.ID); err != nil {
			logger.Error().Err(err).Str("alert_id", n.Alert.ID).Msg("failed to mark push target defunct")
		} else {
			logger.Info().Str("alert_id", n.Alert.ID).Msg("push target marked defunct")
		}
	}
}

// recordAttempt is fire-and-forget: a delivery log failure never fails the
// dispatch itself.
func (p *Pipeline) recordAttempt(ctx context.Context, logger zerolog.Logger, attempt storage.DeliveryAttempt) {
	if p.deliveries == nil {
		return
	}
	if err := p.deliveries.InsertDeliveryAttempt(ctx, attempt); err != nil {
		logger.Error().Err(err).Str("alert_id", attempt.AlertID).Msg("failed to record delivery attempt")
	}
}

// Replay re-sends a previously recorded delivery through the same dispatcher
// and appends a fresh attempt for the result.
func (p *Pipeline) Replay(ctx context.Context, attemptID uuid.UUID) (dispatch.Outcome, error) {
	if p.deliveries == nil {
		return dispatch.Outcome{}, storage.ErrNotConfigured
	}

	original, err := p.deliveries.GetDeliveryAttempt(ctx, attemptID)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	logger := p.logger.With().Str("replay_of", attemptID.String()).Logger()
	data := map[string]string{
		"alertId":   original.AlertID,
		"symbol":    original.Symbol,
		"price":     original.Price.String(),
		"threshold": original.Threshold.String(),
		"direction": original.Direction,
	}
	outcome := p.dispatcher.Send(ctx, original.Target, original.Title, original.Body, data)

	replay := original
	replay.ID = uuid.New()
	replay.RunID = "manual:" + attemptID.String()
	replay.Attempts = outcome.Attempts
	replay.Error = nil
	replay.ErrorKind = nil
	if outcome.Success {
		replay.Status = storage.DeliverySuccess
	} else {
		replay.Status = storage.DeliveryFailed
		if outcome.FinalError != "" {
			finalErr := outcome.FinalError
			replay.Error = &finalErr
		}
		if outcome.ErrorKind != "" {
			kind := string(outcome.ErrorKind)
			replay.ErrorKind = &kind
		}
	}
	p.recordAttempt(ctx, logger, replay)

	return outcome, nil
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.cfg.AdvisoryLockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.cfg.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func distinctSymbols(alerts []alert.Alert) []string {
	seen := make(map[string]struct{}, len(alerts))
	symbols := make([]string, 0, len(alerts))
	for _, a := range alerts {
		symbol := alert.NormalizeSymbol(a.Symbol)
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}
	return symbols
}

func renderTitle(n alert.Notification) string {
	return fmt.Sprintf("%s price alert", n.Alert.Symbol)
}

func renderBody(n alert.Notification) string {
	verb := "crossed above"
	if n.Alert.Direction == alert.DirectionBelow {
		verb = "dropped below"
	}
	return fmt.Sprintf("%s is %s, %s your %s threshold",
		n.Alert.Symbol,
		formatPrice(n.Price),
		verb,
		formatPrice(n.Alert.Threshold),
	)
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func pushData(n alert.Notification) map[string]string {
	return map[string]string{
		"alertId":   n.Alert.ID,
		"symbol":    n.Alert.Symbol,
		"price":     n.Price.String(),
		"threshold": n.Alert.Threshold.String(),
		"direction": string(n.Alert.Direction),
	}
}
