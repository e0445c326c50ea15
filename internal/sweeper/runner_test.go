package sweeper

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ms-ticketing-engine/internal/lock"
	"ms-ticketing-engine/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) ExpireStaleHolds(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockOrders) ExpireAbandonedOrders(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func newLocks(t *testing.T) *lock.Redis {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewRedis(client, logger.NewDiscard())
}

func TestReservationSweepRunsBothPasses(t *testing.T) {
	orders := new(MockOrders)
	orders.On("ExpireStaleHolds").Return(0, errors.New("db hiccup"))
	orders.On("ExpireAbandonedOrders").Return(2, nil)

	job := ReservationSweep(orders, logger.NewDiscard(), time.Minute)
	err := job.Run(context.Background())

	assert.Error(t, err)
	orders.AssertExpectations(t)
}

func TestRunOnceSkipsWhenAnotherReplicaHoldsTheLock(t *testing.T) {
	locks := newLocks(t)
	var runs int32
	job := Job{Name: "test-job", Interval: time.Minute, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}
	var out bytes.Buffer
	r := NewRunner(locks, logger.NewWithWriter(&out), job)

	ok, err := locks.Acquire(context.Background(), lock.SweepKey("test-job"), "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r.RunOnce(context.Background(), job)
	assert.Zero(t, atomic.LoadInt32(&runs))
	assert.Contains(t, out.String(), "running on another replica")

	require.NoError(t, locks.Release(context.Background(), lock.SweepKey("test-job"), "other-replica"))
	r.RunOnce(context.Background(), job)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRunOnceRunsUnlockedWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	locks := lock.NewRedis(client, logger.NewDiscard())
	mr.Close()

	var runs int32
	job := Job{Name: "test-job", Interval: time.Minute, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}
	var out bytes.Buffer
	NewRunner(locks, logger.NewWithWriter(&out), job).RunOnce(context.Background(), job)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Contains(t, out.String(), "running unlocked")
}

func TestStartKeepsRunningAfterFailures(t *testing.T) {
	var runs int32
	job := Job{Name: "flaky", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("always fails")
	}}
	r := NewRunner(newLocks(t), logger.NewDiscard(), job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
