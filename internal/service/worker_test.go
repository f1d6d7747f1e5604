package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcovabio/annex/internal/core"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Action
	}{
		{name: "validation drops", err: apperrors.Validation("bad field"), want: ActionDrop},
		{name: "conflict drops", err: apperrors.Conflict("already there"), want: ActionDrop},
		{name: "not found drops", err: apperrors.NotFound("gone"), want: ActionDrop},
		{name: "internal retries", err: apperrors.Internal("db down"), want: ActionRetry},
		{name: "timeout retries", err: context.DeadlineExceeded, want: ActionRetry},
		{name: "unknown retries", err: assert.AnError, want: ActionRetry},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			disp := Classify(tc.err)
			assert.Equal(t, tc.want, disp.Action)
			assert.Equal(t, tc.err, disp.Err)
		})
	}
}

func newTestPoller(t *testing.T, q *testutil.FakeQueue, handler MessageHandler) *Poller {
	t.Helper()
	p, err := NewPoller(PollerOptions{
		Name:    "test_worker",
		Queue:   q,
		Handler: handler,
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	return p
}

func TestPollerAckDeletesMessage(t *testing.T) {
	q := testutil.NewFakeQueue()
	token := q.Push([]byte("payload"))

	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Ack()
	})

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	p.process(context.Background(), msgs[0])

	assert.True(t, q.Deleted(token))
}

func TestPollerDropDeletesMessage(t *testing.T) {
	q := testutil.NewFakeQueue()
	token := q.Push([]byte("garbage"))

	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Drop(apperrors.Validation("garbage"))
	})

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	p.process(context.Background(), msgs[0])

	assert.True(t, q.Deleted(token), "unprocessable messages are deleted, not retried")
}

func TestPollerRetryLeavesMessage(t *testing.T) {
	q := testutil.NewFakeQueue()
	token := q.Push([]byte("payload"))

	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Retry(apperrors.Internal("transient"))
	})

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	p.process(context.Background(), msgs[0])

	assert.False(t, q.Deleted(token), "infrastructure failures leave the message in place")
}

func TestPollerDeferReschedules(t *testing.T) {
	q := testutil.NewFakeQueue()
	token := q.Push([]byte("early"))

	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Defer(30 * time.Minute)
	})

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	p.process(context.Background(), msgs[0])

	assert.False(t, q.Deleted(token))
	delay, ok := q.DeferredDelay(token)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, delay)
	assert.Equal(t, 1, q.ReadyLen(), "deferred delivery comes back")
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	q := testutil.NewFakeQueue()
	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Ack()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a graceful shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func TestPollerSurvivesReceiveError(t *testing.T) {
	q := testutil.NewFakeQueue()
	q.ReceiveErr = assert.AnError
	token := q.Push([]byte("payload"))

	p := newTestPoller(t, q, func(context.Context, core.Message) Disposition {
		return Ack()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return q.Deleted(token)
	}, 5*time.Second, 10*time.Millisecond, "poller keeps polling after a receive failure")

	cancel()
	require.NoError(t, <-done)
}
