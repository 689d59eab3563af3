// Package campaign walks scheduled bulk-send campaigns and feeds
// pending recipients through the outbound humanizer. Campaigns are
// processed one at a time, recipients strictly sequentially, so the
// humanized pacing is preserved.
package campaign

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atendezap/atendezap/internal/events"
	"github.com/atendezap/atendezap/internal/humanizer"
	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
	"github.com/atendezap/atendezap/internal/wbot"
)

const (
	defaultBatchLimit = 50
	defaultInterval   = 20 * time.Second

	// randomized pause between two recipients of the same campaign
	recipientDelayMin = 3 * time.Second
	recipientDelayMax = 12 * time.Second
)

// variantWeights is the weighted-random distribution over the campaign's
// non-empty message variants.
var variantWeights = []int{60, 25, 15}

// Dispatcher runs the periodic campaign batch job.
type Dispatcher struct {
	stores     *store.Stores
	registry   *wbot.Registry
	human      *humanizer.Humanizer
	bus        events.Publisher
	gron       *gronx.Gronx
	tracer     trace.Tracer
	batchLimit int
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchLimit caps recipients per campaign per pass.
func WithBatchLimit(n int) Option {
	return func(d *Dispatcher) { d.batchLimit = n }
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher wires a campaign dispatcher.
func NewDispatcher(stores *store.Stores, registry *wbot.Registry, human *humanizer.Humanizer, bus events.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		stores:     stores,
		registry:   registry,
		human:      human,
		bus:        bus,
		gron:       gronx.New(),
		tracer:     otel.Tracer("campaign"),
		batchLimit: defaultBatchLimit,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start runs Run on a ticker until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				slog.Error("campaign pass failed", "error", err)
			}
		}
	}
}

// Run executes one dispatcher pass: select due campaigns, mark them
// PROCESSING, deliver up to batchLimit pending recipients each. A
// failure inside one campaign never aborts its siblings.
func (d *Dispatcher) Run(ctx context.Context) error {
	now := d.now()

	ctx, span := d.tracer.Start(ctx, "campaign.Run")
	defer span.End()

	due, err := d.stores.Campaigns.Due(ctx, now)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("campaigns.due", len(due)))

	for _, c := range due {
		// Entry into a recurring campaign is cron-gated; continuing a
		// partially delivered batch is not.
		if c.Status == model.CampaignScheduled && c.CronExpr != "" {
			// Five-field expressions are matched at second zero, so the
			// reference is floored to the minute; otherwise a pass that
			// ticks mid-minute would skip a due campaign.
			if ok, err := d.gron.IsDue(c.CronExpr, now.Truncate(time.Minute)); err != nil || !ok {
				continue
			}
		}
		if err := d.runCampaign(ctx, c); err != nil {
			slog.Error("campaign dispatch failed", "campaign", c.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) runCampaign(ctx context.Context, c *model.Campaign) error {
	claimed, err := d.stores.Campaigns.BeginProcessing(ctx, c.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Canceled (or finished) between selection and dispatch.
		slog.Info("campaign no longer dispatchable", "campaign", c.ID)
		return nil
	}

	pending, err := d.stores.Campaigns.PendingShippings(ctx, c.ID, d.batchLimit)
	if err != nil {
		return err
	}

	variants := c.Variants()
	if len(variants) == 0 {
		slog.Warn("campaign has no message variants, finishing", "campaign", c.ID)
		return d.stores.Campaigns.SetStatus(ctx, c.ID, model.CampaignFinished)
	}

	sent := 0
	for i, shipping := range pending {
		// Cancellation is polled before every send; an in-flight
		// humanized send is never interrupted.
		status, err := d.stores.Campaigns.Status(ctx, c.ID)
		if err != nil {
			return err
		}
		if status == model.CampaignCanceled {
			slog.Info("campaign canceled mid-batch", "campaign", c.ID, "sent", sent)
			return nil
		}

		if i > 0 {
			if err := d.human.Delay(ctx, recipientDelayMin, recipientDelayMax); err != nil {
				return err
			}
		}

		if err := d.deliver(ctx, c, shipping, variants); err != nil {
			slog.Warn("campaign send failed",
				"campaign", c.ID, "shipping", shipping.ID, "to", shipping.Address, "error", err)
			if err := d.stores.Campaigns.MarkFailed(ctx, shipping.ID); err != nil {
				return err
			}
		} else {
			if err := d.stores.Campaigns.MarkDelivered(ctx, shipping.ID, d.now()); err != nil {
				return err
			}
			sent++
		}

		d.broadcast(events.CampaignProgress, map[string]any{
			"campaign_id": c.ID, "shipping_id": shipping.ID,
		})
	}

	remaining, err := d.stores.Campaigns.PendingCount(ctx, c.ID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		final := model.CampaignFinished
		if c.CronExpr != "" {
			// recurring campaigns go back to the scheduler
			final = model.CampaignScheduled
		}
		if err := d.stores.Campaigns.SetStatus(ctx, c.ID, final); err != nil {
			return err
		}
		d.broadcast(events.CampaignFinished, map[string]any{"campaign_id": c.ID})
	}

	slog.Info("campaign pass complete", "campaign", c.ID, "sent", sent, "remaining", remaining)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, s *model.CampaignShipping, variants []string) error {
	sess, err := d.registry.Get(c.ConnectionID)
	if err != nil {
		return err
	}

	text := substitute(pickVariant(variants), s, d.now())
	return d.human.SimulateTyping(ctx, sess, s.Address, text)
}

// pickVariant chooses one of up to three variants with 60/25/15
// weighting, renormalized over however many are present.
func pickVariant(variants []string) string {
	weights := variantWeights[:len(variants)]
	total := 0
	for _, w := range weights {
		total += w
	}
	r := rand.IntN(total)
	for i, w := range weights {
		if r < w {
			return variants[i]
		}
		r -= w
	}
	return variants[0]
}

// substitute fills recipient and time variables into a variant.
func substitute(text string, s *model.CampaignShipping, now time.Time) string {
	out := strings.ReplaceAll(text, "{{name}}", s.ContactName)
	out = strings.ReplaceAll(out, "{{greeting}}", greeting(now))
	return out
}

func greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Bom dia"
	case h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

func (d *Dispatcher) broadcast(name string, payload any) {
	if d.bus != nil {
		d.bus.Broadcast(events.Event{Name: name, Payload: payload})
	}
}
