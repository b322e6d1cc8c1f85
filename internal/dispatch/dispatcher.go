// Package dispatch delivers push notifications to device tokens with bounded
// retries and permanent/transient error classification. Persistence of
// outcomes stays with the caller so ad-hoc replays can reuse the same path
// without double-logging.
package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Provider abstracts the concrete push service. Adapters map their error
// vocabulary into PushResult so classification stays provider-agnostic.
type Provider interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) (PushResult, error)
}

// PushResult is the normalized provider response for one attempt.
type PushResult struct {
	OK           bool
	ID           string
	ErrorMessage string
	HTTPStatus   int
}

// Outcome reports a completed Send, including the full diagnostic trail so
// callers (e.g. a manual admin retry) can show why a send failed without
// re-running it.
type Outcome struct {
	Success      bool
	Attempts     int
	Logs         []string
	FinalError   string
	ErrorKind    ErrorKind
	CleanupToken bool
}

// Options tune the retry state machine.
type Options struct {
	// MaxAttempts bounds delivery attempts per token. Defaults to 3.
	MaxAttempts int
	// RetryDelays is the fixed wait schedule between attempts; the last
	// entry repeats if attempts exceed it. Defaults to 200ms/500ms/1s.
	RetryDelays []time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if len(o.RetryDelays) == 0 {
		o.RetryDelays = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second}
	}
	return o
}

// Expo-style tokens, or a bare provider token of a reasonable length.
var (
	expoTokenRe = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\[\]\s]+\]$`)
	bareTokenRe = regexp.MustCompile(`^[A-Za-z0-9_:\-\.]{16,512}$`)
)

// ValidTokenFormat reports whether a token is worth a network call at all.
func ValidTokenFormat(token string) bool {
	if token == "" {
		return false
	}
	return expoTokenRe.MatchString(token) || bareTokenRe.MatchString(token)
}

// Dispatcher drives sequential, classified retries for a single token.
// Attempts for one token are never issued in parallel with each other;
// fan-out across tokens is the caller's concern.
type Dispatcher struct {
	provider Provider
	opts     Options
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a dispatcher over the given provider.
func New(provider Provider, opts Options, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Send attempts delivery of one message to one device token.
func (d *Dispatcher) Send(ctx context.Context, token, title, body string, data map[string]string) Outcome {
	outcome := Outcome{}

	if !ValidTokenFormat(token) {
		// No network call for a token that can never work.
		perr := &PushError{Kind: KindInvalidToken, Message: "malformed push token", Permanent: true, CleanupToken: true}
		outcome.FinalError = perr.Message
		outcome.ErrorKind = perr.Kind
		outcome.CleanupToken = true
		d.trail(&outcome, "token rejected before send: malformed format")
		d.logger.Warn().Str("error_kind", string(perr.Kind)).Msg("push token rejected without network call")
		return outcome
	}

	var lastErr *PushError
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		d.trail(&outcome, fmt.Sprintf("attempt %d/%d: sending", attempt, d.opts.MaxAttempts))

		result, err := d.provider.SendPush(ctx, token, title, body, data)
		switch {
		case err != nil:
			lastErr = Classify(err.Error(), 0)
		case result.OK:
			d.trail(&outcome, fmt.Sprintf("attempt %d/%d: delivered (ticket %s)", attempt, d.opts.MaxAttempts, result.ID))
			outcome.Success = true
			return outcome
		default:
			lastErr = Classify(result.ErrorMessage, result.HTTPStatus)
		}

		d.trail(&outcome, fmt.Sprintf("attempt %d/%d: failed (%s): %s", attempt, d.opts.MaxAttempts, lastErr.Kind, lastErr.Message))

		if lastErr.Permanent {
			// Retrying cannot help; stop regardless of remaining attempts.
			d.trail(&outcome, "permanent failure; giving up")
			break
		}
		if attempt == d.opts.MaxAttempts {
			d.trail(&outcome, "retry budget exhausted")
			break
		}

		delay := d.delayFor(attempt)
		d.trail(&outcome, fmt.Sprintf("waiting %s before retry", delay))
		if err := d.sleep(ctx, delay); err != nil {
			lastErr = &PushError{Kind: KindNetworkError, Message: fmt.Sprintf("retry wait cancelled: %v", err)}
			d.trail(&outcome, "retry wait cancelled; giving up")
			break
		}
	}

	if lastErr != nil {
		outcome.FinalError = lastErr.Message
		outcome.ErrorKind = lastErr.Kind
		outcome.CleanupToken = lastErr.CleanupToken
	}

	d.logger.Warn().
		Str("error_kind", string(outcome.ErrorKind)).
		Int("attempts", outcome.Attempts).
		Bool("cleanup_token", outcome.CleanupToken).
		Msg("push delivery failed")
	return outcome
}

func (d *Dispatcher) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(d.opts.RetryDelays) {
		idx = len(d.opts.RetryDelays) - 1
	}
	return d.opts.RetryDelays[idx]
}

func (d *Dispatcher) trail(outcome *Outcome, message string) {
	outcome.Logs = append(outcome.Logs, fmt.Sprintf("%s %s", d.now().UTC().Format(time.RFC3339Nano), message))
}

// sleepContext waits without busy-looping and aborts promptly on shutdown.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
