package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"JobMailer/internal/db/dbtest"
	"JobMailer/internal/email"
	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, ReferenceZone)

type fakeFactory struct {
	mu     sync.Mutex
	sent   []string
	fail   map[string]error
	onSend func(ctx context.Context, msg *email.Message)
}

func (f *fakeFactory) Transport(models.Settings) email.Transport { return f }

func (f *fakeFactory) Send(ctx context.Context, msg *email.Message) error {
	if f.onSend != nil {
		f.onSend(ctx, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, msg.To)
	return nil
}

func (f *fakeFactory) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type harness struct {
	store   store.Store
	factory *fakeFactory
	engine  *Engine
	sleeps  []time.Duration
	now     time.Time
}

func newHarness(t *testing.T, active bool, emails ...string) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{store: dbtest.NewSQLite(t), factory: &fakeFactory{}, now: noon}

	_, err := h.store.Update(ctx, models.SettingsPatch{
		SMTPUser: ptr("me@example.com"),
		DelayMin: ptr(1),
		DelayMax: ptr(1),
		IsActive: ptr(active),
	})
	require.NoError(t, err)

	for _, e := range emails {
		_, _, err := h.store.Create(ctx, models.NewContact{Name: "HR", Email: e, Source: models.SourceManual})
		require.NoError(t, err)
	}

	h.rebuild(t, h.store)
	return h
}

func (h *harness) rebuild(t *testing.T, s store.Store) {
	h.engine = New(s, s, h.factory, Options{
		Hours: DefaultWorkingHours(),
		Log:   zaptest.NewLogger(t),
		Now:   func() time.Time { return h.now },
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
}

func (h *harness) statuses(t *testing.T) map[string]models.ContactStatus {
	t.Helper()
	list, _, err := h.store.List(context.Background(), models.ListFilter{Limit: 100})
	require.NoError(t, err)

	out := make(map[string]models.ContactStatus, len(list))
	for _, c := range list {
		out[c.Email] = c.Status
	}
	return out
}

func (h *harness) active(t *testing.T) bool {
	t.Helper()
	s, err := h.store.Get(context.Background())
	require.NoError(t, err)
	return s.IsActive
}

func ptr[T any](v T) *T { return &v }

func TestTickDrainsQueueAndAutoStops(t *testing.T) {
	h := newHarness(t, true, "a@example.com", "b@example.com", "c@example.com")

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeAutoStopped, res.Outcome)
	assert.Equal(t, 3, res.Sent)
	assert.Zero(t, res.Failed)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, h.factory.recipients())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeps, "no pause after the last contact")

	for e, st := range h.statuses(t) {
		assert.Equal(t, models.StatusSent, st, e)
	}
	assert.False(t, h.active(t))
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestTickRecordsFailureAndContinues(t *testing.T) {
	h := newHarness(t, true, "a@example.com", "b@example.com", "c@example.com")
	h.factory.fail = map[string]error{"b@example.com": errors.New("535 authentication failed")}

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeAutoStopped, res.Outcome)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	c, err := h.store.GetByEmail(context.Background(), "b@example.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.StatusFailed, c.Status)
	require.NotNil(t, c.FailureReason)
	assert.Equal(t, "535 authentication failed", *c.FailureReason)
	assert.Nil(t, c.SentAt)

	assert.Equal(t, models.StatusSent, h.statuses(t)["c@example.com"])
}

func TestTickPausesWhenDeactivatedMidDrain(t *testing.T) {
	h := newHarness(t, true, "a@example.com", "b@example.com", "c@example.com")
	h.factory.onSend = func(ctx context.Context, msg *email.Message) {
		if msg.To == "a@example.com" {
			_, err := h.store.Update(ctx, models.SettingsPatch{IsActive: ptr(false)})
			require.NoError(t, err)
		}
	}

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomePaused, res.Outcome)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, StatePaused, h.engine.State())
	assert.Equal(t, map[string]models.ContactStatus{
		"a@example.com": models.StatusSent,
		"b@example.com": models.StatusPending,
		"c@example.com": models.StatusPending,
	}, h.statuses(t))
}

func TestTickSkipsContactsSettledMidDrain(t *testing.T) {
	tests := []struct {
		name   string
		status models.ContactStatus
	}{
		{name: "delivered by quick-send", status: models.StatusSent},
		{name: "skipped by the operator", status: models.StatusSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, "a@example.com", "b@example.com", "c@example.com")
			h.factory.onSend = func(ctx context.Context, msg *email.Message) {
				if msg.To != "a@example.com" {
					return
				}
				b, err := h.store.GetByEmail(ctx, "b@example.com")
				require.NoError(t, err)
				require.NotNil(t, b)
				_, err = h.store.SetStatus(ctx, b.ID, tt.status, "")
				require.NoError(t, err)
			}

			res := h.engine.Tick(context.Background())

			assert.Equal(t, OutcomeAutoStopped, res.Outcome)
			assert.Equal(t, 2, res.Sent)
			assert.Equal(t, []string{"a@example.com", "c@example.com"}, h.factory.recipients())
			assert.Equal(t, []time.Duration{time.Second}, h.sleeps, "a skipped contact costs no pause")
			assert.Equal(t, map[string]models.ContactStatus{
				"a@example.com": models.StatusSent,
				"b@example.com": tt.status,
				"c@example.com": models.StatusSent,
			}, h.statuses(t))
		})
	}
}

func TestTickBadTemplateLeavesQueuePending(t *testing.T) {
	h := newHarness(t, true, "a@example.com", "b@example.com")
	_, err := h.store.Update(context.Background(), models.SettingsPatch{EmailBody: ptr("Hi {{ not a template")})
	require.NoError(t, err)

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, email.ErrRenderFailed)
	assert.Empty(t, h.factory.recipients())
	assert.Equal(t, map[string]models.ContactStatus{
		"a@example.com": models.StatusPending,
		"b@example.com": models.StatusPending,
	}, h.statuses(t))
}

func TestTickOutsideWorkingHoursDoesNothing(t *testing.T) {
	h := newHarness(t, true, "a@example.com")
	h.now = time.Date(2026, 3, 2, 22, 0, 0, 0, ReferenceZone)

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeOutsideHours, res.Outcome)
	assert.Empty(t, h.factory.recipients())
	assert.Equal(t, models.StatusPending, h.statuses(t)["a@example.com"])
	assert.True(t, h.active(t))
	assert.Equal(t, StateGated, h.engine.State())
}

func TestTickInactiveDoesNothing(t *testing.T) {
	h := newHarness(t, false, "a@example.com")

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeInactive, res.Outcome)
	assert.Empty(t, h.factory.recipients())
	assert.Equal(t, models.StatusPending, h.statuses(t)["a@example.com"])
}

func TestTickEmptyQueueAutoStops(t *testing.T) {
	h := newHarness(t, true)

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeAutoStopped, res.Outcome)
	assert.Zero(t, res.Sent)
	assert.False(t, h.active(t))
}

func TestTickIsNotReentrant(t *testing.T) {
	h := newHarness(t, true, "a@example.com")

	started := make(chan struct{})
	release := make(chan struct{})
	h.factory.onSend = func(context.Context, *email.Message) {
		close(started)
		<-release
	}

	done := make(chan Result, 1)
	go func() { done <- h.engine.Tick(context.Background()) }()

	<-started
	assert.Equal(t, StateDraining, h.engine.State())
	assert.Equal(t, OutcomeBusy, h.engine.Tick(context.Background()).Outcome)

	close(release)
	res := <-done
	assert.Equal(t, OutcomeAutoStopped, res.Outcome)
	assert.Equal(t, []string{"a@example.com"}, h.factory.recipients())
}

func TestTickCancelledSendLeavesContactPending(t *testing.T) {
	h := newHarness(t, true, "a@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	h.factory.onSend = func(context.Context, *email.Message) { cancel() }
	h.factory.fail = map[string]error{"a@example.com": context.Canceled}

	res := h.engine.Tick(ctx)

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, models.StatusPending, h.statuses(t)["a@example.com"])
}

type brokenStatusStore struct {
	store.Store
}

func (brokenStatusStore) SetStatus(context.Context, int64, models.ContactStatus, string) (models.Contact, error) {
	return models.Contact{}, models.ErrStorage
}

func TestTickAbortsOnStorageFailure(t *testing.T) {
	h := newHarness(t, true, "a@example.com", "b@example.com")
	h.rebuild(t, brokenStatusStore{h.store})

	res := h.engine.Tick(context.Background())

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, models.ErrStorage)
	assert.Equal(t, []string{"a@example.com"}, h.factory.recipients(), "drain stops at the first storage error")
	assert.Equal(t, models.StatusPending, h.statuses(t)["b@example.com"])
	assert.True(t, h.active(t))
	assert.Equal(t, StateIdle, h.engine.State())
}
