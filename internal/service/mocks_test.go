package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/events"
	"github.com/unclebandit/chatblast-backend/internal/model"
)

// In-memory repository mocks. All of them are mutex-guarded because the
// dispatch loop touches them from its own goroutine.

type mockCampaignRepo struct {
	mu            sync.Mutex
	rows          map[string]*model.Campaign
	statusHistory map[string][]string
	stats         map[string]int
}

func newMockCampaignRepo() *mockCampaignRepo {
	return &mockCampaignRepo{
		rows:          make(map[string]*model.Campaign),
		statusHistory: make(map[string][]string),
		stats:         make(map[string]int),
	}
}

func (m *mockCampaignRepo) put(c model.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID] = &c
}

func (m *mockCampaignRepo) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("camp-%d", len(m.rows)+1)
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *mockCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCampaignRepo) Update(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *mockCampaignRepo) UpdateStatus(campaignID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	c.Status = status
	m.statusHistory[campaignID] = append(m.statusHistory[campaignID], status)
	return nil
}

func (m *mockCampaignRepo) BindConnection(campaignID, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	c.ConnectionID = &connectionID
	return nil
}

func (m *mockCampaignRepo) ListCampaigns(offset, limit int, userID, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Campaign
	for _, c := range m.rows {
		if userID != "" && c.UserID != userID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockCampaignRepo) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.Campaign
	for _, c := range m.rows {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (m *mockCampaignRepo) Delete(campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[campaignID]; !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	delete(m.rows, campaignID)
	return nil
}

func (m *mockCampaignRepo) GetCampaignStats(campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out, nil
}

func (m *mockCampaignRepo) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		return c.Status
	}
	return ""
}

func (m *mockCampaignRepo) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

type mockRecipientRepo struct {
	mu    sync.Mutex
	rows  map[string]*model.Recipient
	order []string
}

func newMockRecipientRepo() *mockRecipientRepo {
	return &mockRecipientRepo{rows: make(map[string]*model.Recipient)}
}

func (m *mockRecipientRepo) put(r model.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rows[r.ID] = &r
}

func (m *mockRecipientRepo) Create(rec *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rcpt-%d", len(m.rows)+1)
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.rows[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *mockRecipientRepo) GetByID(id string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewRecipientNotFound(id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecipientRepo) ListByCampaign(campaignID string) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Recipient
	for _, id := range m.order {
		if r, ok := m.rows[id]; ok && r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRecipientRepo) ListByCampaignAndStatus(campaignID string, statuses ...string) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []model.Recipient
	for _, id := range m.order {
		if r, ok := m.rows[id]; ok && r.CampaignID == campaignID && want[r.Status] {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRecipientRepo) MarkProcessing(id string) error {
	return m.setStatus(id, model.RecipientProcessing)
}

func (m *mockRecipientRepo) MarkSent(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Status = model.RecipientSent
	r.SentAt = &at
	r.FailureReason = nil
	return nil
}

func (m *mockRecipientRepo) MarkDelivered(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Status = model.RecipientDelivered
	r.DeliveredAt = &at
	return nil
}

func (m *mockRecipientRepo) MarkFailed(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Status = model.RecipientFailed
	r.FailureReason = &reason
	return nil
}

func (m *mockRecipientRepo) MarkSkipped(id string) error {
	return m.setStatus(id, model.RecipientSkipped)
}

func (m *mockRecipientRepo) ResetToPending(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Status = model.RecipientPending
	r.FailureReason = nil
	return nil
}

func (m *mockRecipientRepo) SetMessage(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Message = &text
	return nil
}

func (m *mockRecipientRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	delete(m.rows, id)
	return nil
}

func (m *mockRecipientRepo) DeleteByCampaign(campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rows {
		if r.CampaignID == campaignID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *mockRecipientRepo) setStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return appErrors.NewRecipientNotFound(id)
	}
	r.Status = status
	return nil
}

func (m *mockRecipientRepo) get(id string) model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return *r
	}
	return model.Recipient{}
}

type mockConnectionRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Connection
}

func newMockConnectionRepo() *mockConnectionRepo {
	return &mockConnectionRepo{rows: make(map[string]*model.Connection)}
}

func (m *mockConnectionRepo) put(c model.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID] = &c
}

func (m *mockConnectionRepo) Create(c *model.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("conn-%d", len(m.rows)+1)
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *mockConnectionRepo) GetByID(id string) (*model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewConnectionNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockConnectionRepo) SetAuthenticated(id string, authenticated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return appErrors.NewConnectionNotFound(id)
	}
	c.Authenticated = authenticated
	return nil
}

func (m *mockConnectionRepo) ListByUser(userID string) ([]model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Connection
	for _, c := range m.rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// stubTransport implements transport.Transport with scripted behavior.
type stubTransport struct {
	mu        sync.Mutex
	statusOK  bool
	sendErrs  map[string]error // by destination
	sent      []string
	texts     map[string]string
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		statusOK: true,
		sendErrs: make(map[string]error),
		texts:    make(map[string]string),
	}
}

func (t *stubTransport) Send(ctx context.Context, connectionID, destination, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.sendErrs[destination]; ok {
		return err
	}
	t.sent = append(t.sent, destination)
	t.texts[destination] = text
	return nil
}

func (t *stubTransport) Status(ctx context.Context, connectionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusOK, nil
}

func (t *stubTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *stubTransport) textFor(destination string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.texts[destination]
}

// recordingEvents collects published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingEvents) Publish(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingEvents) Close() error { return nil }

func (p *recordingEvents) statuses(campaignID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Type == events.TypeCampaignStatus && e.CampaignID == campaignID {
			out = append(out, e.Status)
		}
	}
	return out
}
