// Package humanizer paces outbound sends to imitate human typing
// cadence. Every outbound text in both the live-reply and campaign
// paths goes through SimulateTyping so pacing has one implementation.
package humanizer

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/atendezap/atendezap/internal/wbot"
)

const (
	minTypingTime = 2 * time.Second
	perCharTime   = 50 * time.Millisecond
)

// Humanizer computes randomized delays and presence-simulation
// sequences around outbound sends.
type Humanizer struct {
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Humanizer.
type Option func(*Humanizer)

// WithSleep replaces the suspension primitive. Tests use an instant
// sleep to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Humanizer) { h.sleep = fn }
}

// WithSendRate caps outbound sends per minute across this humanizer.
func WithSendRate(perMinute int) Option {
	return func(h *Humanizer) {
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// New creates a Humanizer with real timers and no rate cap.
func New(opts ...Option) *Humanizer {
	h := &Humanizer{
		limiter: rate.NewLimiter(rate.Inf, 0),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay suspends for a uniformly-random duration in [min, max]. A max
// at or below min degenerates to min.
func (h *Humanizer) Delay(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int64N(int64(max-min)+1))
	}
	return h.sleep(ctx, d)
}

// TypingDuration is how long composing a text of the given length
// should appear to take: at least 2s, 50ms per character beyond that.
func TypingDuration(textLen int) time.Duration {
	d := time.Duration(textLen) * perCharTime
	if d < minTypingTime {
		return minTypingTime
	}
	return d
}

// SimulateTyping emits a composing presence, suspends for the typing
// duration, sends the text, then emits a paused presence. Presence
// failures are ignored; the send error is returned.
func (h *Humanizer) SimulateTyping(ctx context.Context, sess *wbot.Session, to, text string) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	_ = sess.SendPresence(ctx, to, wbot.PresenceComposing)

	if err := h.sleep(ctx, TypingDuration(len(text))); err != nil {
		return err
	}

	if err := sess.SendText(ctx, to, text); err != nil {
		return err
	}

	_ = sess.SendPresence(ctx, to, wbot.PresencePaused)
	return nil
}
