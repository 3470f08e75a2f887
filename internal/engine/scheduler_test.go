package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingTicker struct {
	ticks   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (c *countingTicker) Tick(ctx context.Context) Result {
	c.ticks.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Result{Outcome: OutcomeAborted, Err: ctx.Err()}
		}
	}
	return Result{Outcome: OutcomeInactive}
}

func TestSchedulerKickRunsTick(t *testing.T) {
	ticker := &countingTicker{}
	s := NewScheduler(ticker, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.Kick()
	assert.Eventually(t, func() bool { return ticker.ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerCoalescesKicks(t *testing.T) {
	ticker := &countingTicker{entered: make(chan struct{}, 8), release: make(chan struct{})}
	s := NewScheduler(ticker, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.Kick()
	<-ticker.entered

	for range 5 {
		s.Kick()
	}
	ticker.release <- struct{}{}

	<-ticker.entered
	ticker.release <- struct{}{}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), ticker.ticks.Load(), "kicks during a tick queue a single follow-up")
}

func TestSchedulerCronTicks(t *testing.T) {
	ticker := &countingTicker{}
	s := NewScheduler(ticker, time.Second, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return ticker.ticks.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestSchedulerStopCancelsRunningTick(t *testing.T) {
	ticker := &countingTicker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(ticker, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))

	s.Kick()
	<-ticker.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	s.Kick()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ticker.ticks.Load())
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	s := NewScheduler(&countingTicker{}, 0, zaptest.NewLogger(t))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}
