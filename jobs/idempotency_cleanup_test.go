package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePurger struct {
	calls int32
	n     int64
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.n, f.err
}

func TestRunOnce(t *testing.T) {
	assert.EqualValues(t, 4, NewIdempotencyCleanup(&fakePurger{n: 4}, time.Minute).RunOnce(context.Background()))
	assert.Zero(t, NewIdempotencyCleanup(&fakePurger{err: errors.New("db down")}, time.Minute).RunOnce(context.Background()))
}

func TestRunStopsWithContext(t *testing.T) {
	p := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewIdempotencyCleanup(p, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&p.calls) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup job did not stop")
	}
}
