package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/humanizer"
	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
	"github.com/atendezap/atendezap/internal/store/memory"
	"github.com/atendezap/atendezap/internal/wbot"
)

type campaignSender struct {
	texts  []string
	onSend func(n int) // called after each successful send
}

func (c *campaignSender) SendText(_ context.Context, _, text string) error {
	c.texts = append(c.texts, text)
	if c.onSend != nil {
		c.onSend(len(c.texts))
	}
	return nil
}

func (c *campaignSender) SendPresence(context.Context, string, string) error { return nil }

type campEnv struct {
	stores    *store.Stores
	campaigns *memory.CampaignStore
	registry  *wbot.Registry
	sender    *campaignSender
	conn      uuid.UUID
}

func newCampEnv(t *testing.T) *campEnv {
	t.Helper()
	stores := memory.NewStores()
	connID := uuid.Must(uuid.NewV7())
	sender := &campaignSender{}
	registry := wbot.NewRegistry()
	registry.Put(connID, wbot.NewSession(connID, uuid.Nil, sender))
	return &campEnv{
		stores:    stores,
		campaigns: stores.Campaigns.(*memory.CampaignStore),
		registry:  registry,
		sender:    sender,
		conn:      connID,
	}
}

func (e *campEnv) newDispatcher(opts ...Option) *Dispatcher {
	human := humanizer.New(humanizer.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return NewDispatcher(e.stores, e.registry, human, nil, opts...)
}

func (e *campEnv) seedCampaign(t *testing.T, c *model.Campaign, recipients int) []*model.CampaignShipping {
	t.Helper()
	c.ConnectionID = e.conn
	if c.Status == "" {
		c.Status = model.CampaignScheduled
	}
	if c.ScheduledAt == nil && c.CronExpr == "" {
		past := time.Now().Add(-time.Minute)
		c.ScheduledAt = &past
	}
	e.campaigns.AddCampaign(c)

	out := make([]*model.CampaignShipping, 0, recipients)
	for i := 0; i < recipients; i++ {
		sh := &model.CampaignShipping{
			CampaignID:  c.ID,
			Address:     uuid.Must(uuid.NewV7()).String() + "@c.us",
			ContactName: "Cliente",
			Created:     time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		e.campaigns.AddShipping(sh)
		out = append(out, sh)
	}
	return out
}

func TestRunDeliversAllAndFinishes(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "promo", Message1: "Oferta para {{name}}!"}
	shippings := e.seedCampaign(t, c, 3)

	d := e.newDispatcher()
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(e.sender.texts) != 3 {
		t.Fatalf("sent %d, want 3", len(e.sender.texts))
	}
	for _, text := range e.sender.texts {
		if text != "Oferta para Cliente!" {
			t.Errorf("text = %q", text)
		}
	}
	for _, sh := range shippings {
		got, ok := e.campaigns.Shipping(sh.ID)
		if !ok || got.DeliveredAt == nil || got.Failed {
			t.Errorf("shipping %s not stamped delivered: %+v", sh.ID, got)
		}
	}

	status, err := e.stores.Campaigns.Status(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.CampaignFinished {
		t.Errorf("status = %s, want FINISHED", status)
	}
}

func TestBatchLimitLeavesRemainderProcessing(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "grande", Message1: "oi"}
	e.seedCampaign(t, c, 5)

	d := e.newDispatcher(WithBatchLimit(2))
	ctx := context.Background()
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(e.sender.texts) != 2 {
		t.Fatalf("sent %d, want 2", len(e.sender.texts))
	}
	status, _ := e.stores.Campaigns.Status(ctx, c.ID)
	if status != model.CampaignProcessing {
		t.Errorf("status = %s, want PROCESSING", status)
	}
	remaining, _ := e.stores.Campaigns.PendingCount(ctx, c.ID)
	if remaining != 3 {
		t.Errorf("pending = %d, want 3", remaining)
	}

	// Subsequent passes drain the rest and finish.
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(e.sender.texts) != 5 {
		t.Errorf("sent %d total, want 5", len(e.sender.texts))
	}
	status, _ = e.stores.Campaigns.Status(ctx, c.ID)
	if status != model.CampaignFinished {
		t.Errorf("final status = %s, want FINISHED", status)
	}
}

func TestCancelMidBatchStopsSending(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "cancelada", Message1: "oi"}
	e.seedCampaign(t, c, 3)

	ctx := context.Background()
	e.sender.onSend = func(n int) {
		if n == 1 {
			if err := e.stores.Campaigns.SetStatus(ctx, c.ID, model.CampaignCanceled); err != nil {
				t.Error(err)
			}
		}
	}

	d := e.newDispatcher()
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(e.sender.texts) != 1 {
		t.Errorf("sent %d after cancel, want 1", len(e.sender.texts))
	}
	status, _ := e.stores.Campaigns.Status(ctx, c.ID)
	if status != model.CampaignCanceled {
		t.Errorf("status = %s, want CANCELED", status)
	}
	remaining, _ := e.stores.Campaigns.PendingCount(ctx, c.ID)
	if remaining != 2 {
		t.Errorf("pending = %d, want 2", remaining)
	}
}

func TestDeadSessionMarksFailed(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "sem-sessao", Message1: "oi"}
	shippings := e.seedCampaign(t, c, 2)
	e.registry.Remove(e.conn)

	d := e.newDispatcher()
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, sh := range shippings {
		got, _ := e.campaigns.Shipping(sh.ID)
		if !got.Failed || got.DeliveredAt != nil {
			t.Errorf("shipping %s = %+v, want failed without stamp", sh.ID, got)
		}
	}
	// Failed recipients are not pending; the campaign completes.
	status, _ := e.stores.Campaigns.Status(context.Background(), c.ID)
	if status != model.CampaignFinished {
		t.Errorf("status = %s, want FINISHED", status)
	}
}

func TestRecurringCampaignReturnsToScheduled(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "semanal", Message1: "oi", CronExpr: "* * * * *"}
	e.seedCampaign(t, c, 1)

	// A pass that ticks mid-minute must still match a five-field
	// expression.
	midMinute := time.Date(2026, time.August, 28, 10, 30, 37, 0, time.UTC)
	d := e.newDispatcher(WithClock(func() time.Time { return midMinute }))
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(e.sender.texts) != 1 {
		t.Fatalf("sent %d, want 1", len(e.sender.texts))
	}
	status, _ := e.stores.Campaigns.Status(context.Background(), c.ID)
	if status != model.CampaignScheduled {
		t.Errorf("status = %s, want SCHEDULED for recurring campaign", status)
	}
}

func TestCancelBeforeDispatchSendsNothing(t *testing.T) {
	e := newCampEnv(t)
	c := &model.Campaign{Name: "promo", Message1: "oi"}
	e.seedCampaign(t, c, 3)

	// Canceled after selection but before the campaign is claimed.
	if err := e.stores.Campaigns.SetStatus(context.Background(), c.ID, model.CampaignCanceled); err != nil {
		t.Fatal(err)
	}

	d := e.newDispatcher()
	if err := d.runCampaign(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	if len(e.sender.texts) != 0 {
		t.Errorf("sent %d messages to a canceled campaign, want 0", len(e.sender.texts))
	}
	status, _ := e.stores.Campaigns.Status(context.Background(), c.ID)
	if status != model.CampaignCanceled {
		t.Errorf("status = %s, want CANCELED preserved", status)
	}
}

func TestPickVariantRenormalizes(t *testing.T) {
	one := []string{"a"}
	for i := 0; i < 50; i++ {
		if got := pickVariant(one); got != "a" {
			t.Fatalf("single variant = %q", got)
		}
	}

	two := []string{"a", "b"}
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[pickVariant(two)] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("variants seen = %v, want both", seen)
	}
}

func TestSubstitute(t *testing.T) {
	sh := &model.CampaignShipping{ContactName: "Ana"}
	morning := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	if got := substitute("{{greeting}}, {{name}}!", sh, morning); got != "Bom dia, Ana!" {
		t.Errorf("morning = %q", got)
	}
	if got := substitute("{{greeting}}!", sh, evening); got != "Boa noite!" {
		t.Errorf("evening = %q", got)
	}
	if got := substitute("sem variáveis", sh, morning); got != "sem variáveis" {
		t.Errorf("plain = %q", got)
	}
}

func TestGreetingBoundaries(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Bom dia"},
		{11, "Bom dia"},
		{12, "Boa tarde"},
		{17, "Boa tarde"},
		{18, "Boa noite"},
		{23, "Boa noite"},
	}
	for _, tt := range tests {
		now := time.Date(2026, 1, 1, tt.hour, 0, 0, 0, time.UTC)
		if got := greeting(now); got != tt.want {
			t.Errorf("greeting(%02dh) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}
