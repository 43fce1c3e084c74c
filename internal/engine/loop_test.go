package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/model"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the fake time instead of blocking.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type fakeCampaigns struct {
	mu            sync.Mutex
	campaign      *model.Campaign
	deleted       bool
	statusHistory []string
}

func (f *fakeCampaigns) GetByID(id string) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted || f.campaign == nil || f.campaign.ID != id {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *f.campaign
	return &cp, nil
}

func (f *fakeCampaigns) UpdateStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaign.Status = status
	f.statusHistory = append(f.statusHistory, status)
	return nil
}

func (f *fakeCampaigns) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaign.Status = status
}

func (f *fakeCampaigns) remove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
}

func (f *fakeCampaigns) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusHistory...)
}

type fakeRecipients struct {
	mu    sync.Mutex
	rows  map[string]*model.Recipient
	order []string
}

func newFakeRecipients(recs ...model.Recipient) *fakeRecipients {
	f := &fakeRecipients{rows: make(map[string]*model.Recipient)}
	for i := range recs {
		cp := recs[i]
		f.rows[cp.ID] = &cp
		f.order = append(f.order, cp.ID)
	}
	return f
}

func (f *fakeRecipients) GetByID(id string) (*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, appErrors.NewRecipientNotFound(id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecipients) ListByCampaign(campaignID string) ([]model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Recipient{}
	for _, id := range f.order {
		if f.rows[id].CampaignID == campaignID {
			out = append(out, *f.rows[id])
		}
	}
	return out, nil
}

func (f *fakeRecipients) MarkProcessing(id string) error {
	return f.set(id, func(r *model.Recipient) { r.Status = model.RecipientProcessing })
}

func (f *fakeRecipients) MarkSent(id string, at time.Time) error {
	return f.set(id, func(r *model.Recipient) {
		r.Status = model.RecipientSent
		sentAt := at
		r.SentAt = &sentAt
	})
}

func (f *fakeRecipients) MarkFailed(id, reason string) error {
	return f.set(id, func(r *model.Recipient) {
		r.Status = model.RecipientFailed
		rs := reason
		r.FailureReason = &rs
	})
}

func (f *fakeRecipients) SetMessage(id, text string) error {
	return f.set(id, func(r *model.Recipient) {
		msg := text
		r.Message = &msg
	})
}

func (f *fakeRecipients) set(id string, mut func(*model.Recipient)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	mut(r)
	return nil
}

func (f *fakeRecipients) get(t *testing.T, id string) model.Recipient {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		t.Fatalf("recipient %s missing", id)
	}
	return *r
}

type fakeTransport struct {
	mu     sync.Mutex
	errors map[string]error // by destination
	sent   []string         // destinations in send order
	texts  map[string]string
	onSend func(destination string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{errors: make(map[string]error), texts: make(map[string]string)}
}

func (f *fakeTransport) Send(ctx context.Context, connectionID, destination, text string) error {
	f.mu.Lock()
	hook := f.onSend
	err := f.errors[destination]
	if err == nil {
		f.sent = append(f.sent, destination)
		f.texts[destination] = text
	}
	f.mu.Unlock()
	if hook != nil {
		hook(destination)
	}
	return err
}

func (f *fakeTransport) Status(ctx context.Context, connectionID string) (bool, error) {
	return true, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type countingPersonalizer struct {
	mu    sync.Mutex
	calls int
	out   string
	err   error
}

func (p *countingPersonalizer) Personalize(_ context.Context, rendered, _, _ string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.out != "" {
		return p.out, nil
	}
	return rendered, nil
}

// --- helpers ---

func testCampaign(mut ...func(*model.Campaign)) *model.Campaign {
	conn := "conn-1"
	c := &model.Campaign{
		ID:              "camp-1",
		UserID:          "user-1",
		MessageTemplate: "Hi {name}!",
		MinDelaySeconds: 1,
		MaxDelaySeconds: 1,
		Status:          model.CampaignInProgress,
		ConnectionID:    &conn,
	}
	for _, m := range mut {
		m(c)
	}
	return c
}

func pendingRecipient(id, name, address string) model.Recipient {
	return model.Recipient{
		ID:         id,
		CampaignID: "camp-1",
		Name:       name,
		Address:    address,
		Status:     model.RecipientPending,
	}
}

func newLoop(c *model.Campaign, campaigns *fakeCampaigns, recipients *fakeRecipients, tr *fakeTransport, clock *fakeClock) *Loop {
	gate, err := NewRateGate(c, clock.Now(), rand.New(rand.NewSource(7)))
	if err != nil {
		panic(err)
	}
	subset, _ := recipients.ListByCampaign(c.ID)
	return &Loop{
		Campaign:     c,
		Subset:       subset,
		Campaigns:    campaigns,
		Recipients:   recipients,
		Transport:    tr,
		Personalizer: &countingPersonalizer{},
		Gate:         gate,
		Clock:        clock,
		Log:          zerolog.Nop(),
	}
}

// --- tests ---

func TestLoopSendsAllAndCompletes(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
		pendingRecipient("r3", "Cara", "+300"),
	)
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	for _, id := range []string{"r1", "r2", "r3"} {
		rec := recipients.get(t, id)
		if rec.Status != model.RecipientSent {
			t.Fatalf("recipient %s: expected sent, got %s", id, rec.Status)
		}
		if rec.SentAt == nil {
			t.Fatalf("recipient %s: sent_at not set", id)
		}
		if rec.Message == nil || !strings.Contains(*rec.Message, "Hi ") {
			t.Fatalf("recipient %s: message not persisted", id)
		}
	}
	if c := campaigns.campaign.Status; c != model.CampaignCompleted {
		t.Fatalf("expected campaign completed, got %s", c)
	}
	if got := tr.texts["+100"]; got != "Hi Alice!" {
		t.Fatalf("expected rendered text for Alice, got %q", got)
	}
}

func TestLoopRecordsFailureAndContinues(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
	)
	tr := newFakeTransport()
	tr.errors["+100"] = fmt.Errorf("busy")
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	a := recipients.get(t, "r1")
	if a.Status != model.RecipientFailed {
		t.Fatalf("expected r1 failed, got %s", a.Status)
	}
	if a.FailureReason == nil || *a.FailureReason != "busy" {
		t.Fatalf("expected failure reason busy, got %v", a.FailureReason)
	}
	b := recipients.get(t, "r2")
	if b.Status != model.RecipientSent {
		t.Fatalf("expected r2 sent, got %s", b.Status)
	}
	// A per-recipient failure is not a run-level error.
	if campaigns.campaign.Status != model.CampaignCompleted {
		t.Fatalf("expected campaign completed, got %s", campaigns.campaign.Status)
	}
}

func TestLoopStopsOnExternalPause(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
		pendingRecipient("r3", "Cara", "+300"),
	)
	tr := newFakeTransport()
	// An external actor pauses the campaign while the first send is in flight.
	tr.onSend = func(string) { campaigns.setStatus(model.CampaignPaused) }
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	if tr.sentCount() != 1 {
		t.Fatalf("expected exactly one send before the pause was observed, got %d", tr.sentCount())
	}
	if got := recipients.get(t, "r2").Status; got != model.RecipientPending {
		t.Fatalf("expected r2 untouched after pause, got %s", got)
	}
	// The loop must not overwrite the externally set status.
	if campaigns.campaign.Status != model.CampaignPaused {
		t.Fatalf("expected campaign to stay paused, got %s", campaigns.campaign.Status)
	}
}

func TestLoopExitsCleanlyWhenCampaignDeleted(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
	)
	tr := newFakeTransport()
	tr.onSend = func(string) { campaigns.remove() }
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	// Must not panic and must not write after the delete is observed.
	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	if tr.sentCount() != 1 {
		t.Fatalf("expected one send, got %d", tr.sentCount())
	}
	if got := recipients.get(t, "r2").Status; got != model.RecipientPending {
		t.Fatalf("expected r2 untouched after delete, got %s", got)
	}
}

func TestLoopSkipsSettledRecipients(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	already := pendingRecipient("r1", "Alice", "+100")
	already.Status = model.RecipientSent
	skipped := pendingRecipient("r2", "Bob", "+200")
	skipped.Status = model.RecipientSkipped
	recipients := newFakeRecipients(already, skipped, pendingRecipient("r3", "Cara", "+300"))
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	if tr.sentCount() != 1 {
		t.Fatalf("expected only the pending recipient to be sent, got %d sends", tr.sentCount())
	}
	if got := recipients.get(t, "r2").Status; got != model.RecipientSkipped {
		t.Fatalf("skipped recipient must stay skipped, got %s", got)
	}
}

func TestLoopReusesStoredMessage(t *testing.T) {
	prompt := "make it friendly"
	c := testCampaign(func(c *model.Campaign) {
		c.PersonalizationEnabled = true
		c.PersonalizationPrompt = &prompt
	})
	campaigns := &fakeCampaigns{campaign: c}
	rec := pendingRecipient("r1", "Alice", "+100")
	stored := "Previously generated text"
	rec.Message = &stored
	recipients := newFakeRecipients(rec)
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	loop := newLoop(c, campaigns, recipients, tr, clock)
	p := &countingPersonalizer{out: "SHOULD NOT APPEAR"}
	loop.Personalizer = p
	loop.Run(context.Background())

	if p.calls != 0 {
		t.Fatalf("personalization must not run for an already-resolved recipient, got %d calls", p.calls)
	}
	if got := tr.texts["+100"]; got != stored {
		t.Fatalf("expected stored message to be sent verbatim, got %q", got)
	}
}

func TestLoopPersonalizationFailureFallsBack(t *testing.T) {
	prompt := "make it friendly"
	c := testCampaign(func(c *model.Campaign) {
		c.PersonalizationEnabled = true
		c.PersonalizationPrompt = &prompt
	})
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(pendingRecipient("r1", "Alice", "+100"))
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	loop := newLoop(c, campaigns, recipients, tr, clock)
	loop.Personalizer = &countingPersonalizer{err: fmt.Errorf("model unavailable")}
	loop.Run(context.Background())

	rec := recipients.get(t, "r1")
	if rec.Status != model.RecipientSent {
		t.Fatalf("personalization failure must not fail the send, got %s", rec.Status)
	}
	if got := tr.texts["+100"]; got != "Hi Alice!" {
		t.Fatalf("expected template fallback, got %q", got)
	}
}

func TestLoopDailyLimitPausesUntilNextDay(t *testing.T) {
	c := testCampaign(func(c *model.Campaign) {
		c.MinDelaySeconds = 0
		c.MaxDelaySeconds = 0
		c.DailyLimit = 1
	})
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
	)
	tr := newFakeTransport()
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local)
	clock := newFakeClock(start)

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	r1 := recipients.get(t, "r1")
	r2 := recipients.get(t, "r2")
	if r1.Status != model.RecipientSent || r2.Status != model.RecipientSent {
		t.Fatalf("expected both sent, got %s / %s", r1.Status, r2.Status)
	}
	if r1.SentAt.YearDay() == r2.SentAt.YearDay() {
		t.Fatalf("second send must wait for the next calendar day, got %v and %v", r1.SentAt, r2.SentAt)
	}
	if !clock.Now().After(NextMidnight(start)) && !clock.Now().Equal(NextMidnight(start)) {
		t.Fatalf("clock should have advanced past midnight, at %v", clock.Now())
	}

	history := campaigns.history()
	if !containsSequence(history, model.CampaignPaused, model.CampaignInProgress) {
		t.Fatalf("expected paused then in_progress in history, got %v", history)
	}
	if campaigns.campaign.Status != model.CampaignCompleted {
		t.Fatalf("expected campaign completed, got %s", campaigns.campaign.Status)
	}
}

func TestLoopWaitsForWindowToOpen(t *testing.T) {
	c := testCampaign(func(c *model.Campaign) {
		c.MinDelaySeconds = 0
		c.MaxDelaySeconds = 0
		ws, we := "09:00", "17:00"
		c.WindowStart = &ws
		c.WindowEnd = &we
	})
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(pendingRecipient("r1", "Alice", "+100"))
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 18, 30, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	rec := recipients.get(t, "r1")
	if rec.Status != model.RecipientSent {
		t.Fatalf("expected sent after window opened, got %s", rec.Status)
	}
	if h := rec.SentAt.Hour(); h < 9 || h > 17 {
		t.Fatalf("send must land inside the window, got %v", rec.SentAt)
	}
	if !containsSequence(campaigns.history(), model.CampaignPaused, model.CampaignInProgress) {
		t.Fatalf("expected paused/in_progress cycle, got %v", campaigns.history())
	}
}

func TestLoopFailsRunWithoutConnection(t *testing.T) {
	c := testCampaign(func(c *model.Campaign) { c.ConnectionID = nil })
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(pendingRecipient("r1", "Alice", "+100"))
	tr := newFakeTransport()
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	if campaigns.campaign.Status != model.CampaignFailed {
		t.Fatalf("expected campaign failed, got %s", campaigns.campaign.Status)
	}
	if tr.sentCount() != 0 {
		t.Fatalf("nothing should be sent without a connection")
	}
}

func TestLoopRecoversFromPanicPerRecipient(t *testing.T) {
	c := testCampaign()
	campaigns := &fakeCampaigns{campaign: c}
	recipients := newFakeRecipients(
		pendingRecipient("r1", "Alice", "+100"),
		pendingRecipient("r2", "Bob", "+200"),
	)
	tr := newFakeTransport()
	tr.onSend = func(dest string) {
		if dest == "+100" {
			panic("transport blew up")
		}
	}
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local))

	newLoop(c, campaigns, recipients, tr, clock).Run(context.Background())

	r1 := recipients.get(t, "r1")
	if r1.Status != model.RecipientFailed {
		t.Fatalf("expected panicking recipient marked failed, got %s", r1.Status)
	}
	if r1.FailureReason == nil || !strings.Contains(*r1.FailureReason, "panic") {
		t.Fatalf("expected panic reason, got %v", r1.FailureReason)
	}
	if got := recipients.get(t, "r2").Status; got != model.RecipientSent {
		t.Fatalf("run must continue after a recipient panic, got %s", got)
	}
}

func containsSequence(history []string, first, second string) bool {
	for i, s := range history {
		if s != first {
			continue
		}
		for _, s2 := range history[i+1:] {
			if s2 == second {
				return true
			}
		}
	}
	return false
}
