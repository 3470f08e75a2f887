package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Ticker interface {
	Tick(ctx context.Context) Result
}

// Scheduler feeds ticks to the engine from a cron entry and from Kick.
// Requests coalesce: while a tick is queued further requests are dropped,
// and a single consumer runs them one at a time.
type Scheduler struct {
	engine   Ticker
	interval time.Duration
	log      *zap.Logger

	kicks  chan struct{}
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(engine Ticker, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
		kicks:    make(chan struct{}, 1),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid tick interval %s", s.interval)
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.log))))
	if _, err := c.AddFunc("@every "+s.interval.String(), s.Kick); err != nil {
		return fmt.Errorf("failed to schedule engine tick: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.cron = c

	s.wg.Add(1)
	go s.loop(ctx)

	c.Start()
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Kick requests a tick as soon as the consumer is free.
func (s *Scheduler) Kick() {
	select {
	case s.kicks <- struct{}{}:
	default:
	}
}

// Stop halts the cron entry, cancels any drain in progress and waits for the
// consumer to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kicks:
			res := s.engine.Tick(ctx)
			if res.Sent+res.Failed > 0 || res.Err != nil {
				s.log.Info("tick finished",
					zap.String("outcome", string(res.Outcome)),
					zap.Int("sent", res.Sent),
					zap.Int("failed", res.Failed),
					zap.Error(res.Err),
				)
			} else {
				s.log.Debug("tick finished", zap.String("outcome", string(res.Outcome)))
			}
		}
	}
}
