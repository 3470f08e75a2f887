// Package engine drains the pending contact queue: one send at a time,
// gated by the active flag and working hours, with jittered pauses.
package engine

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"JobMailer/internal/email"
	"JobMailer/internal/metrics"
	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

type State int32

const (
	StateIdle State = iota
	StateGated
	StateDraining
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGated:
		return "gated"
	case StateDraining:
		return "draining"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

type Outcome string

const (
	OutcomeBusy         Outcome = "busy"
	OutcomeOutsideHours Outcome = "outside_hours"
	OutcomeInactive     Outcome = "inactive"
	OutcomeAutoStopped  Outcome = "auto_stopped"
	OutcomeCompleted    Outcome = "completed"
	OutcomePaused       Outcome = "paused"
	OutcomeAborted      Outcome = "aborted"
)

// Result describes what one Tick did.
type Result struct {
	Outcome Outcome
	Sent    int
	Failed  int
	Err     error
}

type Options struct {
	// Hours without a Location falls back to DefaultWorkingHours.
	Hours WorkingHours
	Log   *zap.Logger

	// Test seams; zero values use the wall clock, a context-aware sleep and
	// a uniform draw from math/rand.
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(min, max int) int
}

type Engine struct {
	contacts   store.ContactStore
	settings   store.SettingsStore
	transports email.Factory

	hours  WorkingHours
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max int) int
	log    *zap.Logger

	state    atomic.Int32
	draining atomic.Bool
}

func New(contacts store.ContactStore, settings store.SettingsStore, transports email.Factory, opts Options) *Engine {
	e := &Engine{
		contacts:   contacts,
		settings:   settings,
		transports: transports,
		hours:      opts.Hours,
		now:        opts.Now,
		sleep:      opts.Sleep,
		jitter:     opts.Jitter,
		log:        opts.Log,
	}
	if e.hours.Location == nil {
		e.hours = DefaultWorkingHours()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.jitter == nil {
		e.jitter = UniformSeconds
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.EngineState.Set(float64(s))
}

// Tick runs one scheduling pass. At most one pass drains at a time; an
// overlapping call returns OutcomeBusy without touching anything.
func (e *Engine) Tick(ctx context.Context) Result {
	if !e.draining.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeBusy}
	}
	defer e.draining.Store(false)

	res := e.run(ctx)
	metrics.DrainOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (e *Engine) run(ctx context.Context) Result {
	if !e.hours.Contains(e.now()) {
		e.setState(StateGated)
		return Result{Outcome: OutcomeOutsideHours}
	}

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return e.abort(Result{}, "failed to read settings", err)
	}
	if !settings.IsActive {
		e.setState(StateGated)
		return Result{Outcome: OutcomeInactive}
	}

	pending, err := e.contacts.ListPending(ctx)
	if err != nil {
		return e.abort(Result{}, "failed to load pending contacts", err)
	}
	if len(pending) == 0 {
		return e.autoStop(ctx, Result{Outcome: OutcomeAutoStopped})
	}

	e.setState(StateDraining)
	e.log.Info("drain started", zap.Int("pending", len(pending)))

	res := Result{Outcome: OutcomeCompleted}
	// wait holds the delay owed since the last send; it is paid before the
	// next attempt so the final send is never followed by a sleep.
	var wait time.Duration
	for i, contact := range pending {
		if wait > 0 {
			e.log.Info("waiting before next email", zap.Duration("delay", wait))
			if err := e.sleep(ctx, wait); err != nil {
				return e.abort(res, "drain interrupted while waiting", err)
			}
			wait = 0
		}

		current, err := e.settings.Get(ctx)
		if err != nil {
			return e.abort(res, "failed to re-read settings", err)
		}
		if !current.IsActive {
			e.setState(StatePaused)
			e.log.Info("stop signal received, pausing drain",
				zap.Int("sent", res.Sent),
				zap.Int("failed", res.Failed),
				zap.Int("remaining", len(pending)-i),
			)
			res.Outcome = OutcomePaused
			return res
		}

		// The snapshot is stale by up to a full drain; quick-send or an
		// operator may have settled the contact since.
		fresh, err := e.contacts.GetByID(ctx, contact.ID)
		if err != nil {
			return e.abort(res, "failed to re-read contact", err)
		}
		if fresh == nil || fresh.Status != models.StatusPending {
			e.log.Debug("contact no longer pending, skipping", zap.Int64("contact_id", contact.ID))
			continue
		}

		sent, err := e.deliver(ctx, current, *fresh)
		if err != nil {
			return e.abort(res, "drain interrupted", err)
		}
		if sent {
			res.Sent++
		} else {
			res.Failed++
		}
		wait = time.Duration(e.jitter(current.DelayMin, current.DelayMax)) * time.Second
	}

	remaining, err := e.contacts.ListPending(ctx)
	if err != nil {
		return e.abort(res, "failed to re-check pending contacts", err)
	}
	if len(remaining) == 0 {
		return e.autoStop(ctx, res)
	}

	e.setState(StateIdle)
	e.log.Info("drain finished", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res
}

// deliver sends to one contact and records the outcome. A send failure is
// recorded and reported as sent=false. Storage failures and cancellation
// come back as errors, as do settings that cannot compose any message; the
// contact stays pending in those cases.
func (e *Engine) deliver(ctx context.Context, s models.Settings, c models.Contact) (bool, error) {
	log := e.log.With(zap.Int64("contact_id", c.ID), zap.String("to", c.Email))

	msg, err := email.Compose(s, c)
	if err != nil {
		return false, err
	}

	log.Info("sending email")
	if err := e.transports.Transport(s).Send(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Error("email send failed", zap.Error(err))
		metrics.EmailFailures.Inc()
		if _, serr := e.contacts.SetStatus(ctx, c.ID, models.StatusFailed, err.Error()); serr != nil {
			return false, serr
		}
		return false, nil
	}

	if _, err := e.contacts.SetStatus(ctx, c.ID, models.StatusSent, ""); err != nil {
		return false, err
	}
	log.Info("email sent successfully")
	metrics.EmailsSent.Inc()
	return true, nil
}

func (e *Engine) autoStop(ctx context.Context, res Result) Result {
	inactive := false
	if _, err := e.settings.Update(ctx, models.SettingsPatch{IsActive: &inactive}); err != nil {
		return e.abort(res, "failed to auto-stop engine", err)
	}
	e.setState(StateIdle)
	e.log.Info("queue empty, engine stopped", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	res.Outcome = OutcomeAutoStopped
	return res
}

func (e *Engine) abort(res Result, msg string, err error) Result {
	e.setState(StateIdle)
	e.log.Error(msg, zap.Error(err))
	res.Outcome = OutcomeAborted
	res.Err = err
	return res
}

// UniformSeconds draws an integer uniformly from [min, max]. Inverted
// bounds collapse to min.
func UniformSeconds(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
