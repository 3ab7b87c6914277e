package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"draftr/internal/platform/config"
)

type countingSweeper struct {
	calls int32
}

func (s *countingSweeper) Cleanup(time.Duration) { atomic.AddInt32(&s.calls, 1) }

type blockingPoller struct {
	concurrency int
}

func (p *blockingPoller) Poll(ctx context.Context, concurrency int, _ time.Duration) {
	p.concurrency = concurrency
	<-ctx.Done()
}

func TestSweepIdle(t *testing.T) {
	s := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		SweepIdle(ctx, s, 5*time.Millisecond, time.Minute)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&s.calls) < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper was not called")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SweepIdle did not return after cancel")
	}
}

func TestProcessWorkflowRuns_StopsOnCancel(t *testing.T) {
	p := &blockingPoller{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ProcessWorkflowRuns(ctx, p, config.WorkflowsConfig{Concurrency: 3, PollInterval: time.Second})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ProcessWorkflowRuns did not return after cancel")
	}
	if p.concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", p.concurrency)
	}
}
