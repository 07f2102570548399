package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
)

func job(seq int64) Job {
	return Job{
		Document: flexible.Document{"id": "noop"},
		Identity: flexible.Identity{Writer: "w", Sequence: seq},
	}
}

func TestDispatcher_OrderedSingleLane(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int64
	)
	done := make(chan struct{})

	d, err := NewDispatcher(func(j Job) error {
		mu.Lock()
		seen = append(seen, j.Identity.Sequence)
		n := len(seen)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)
	defer d.Stop(time.Second)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, d.Submit(context.Background(), job(i)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not executed")
	}

	mu.Lock()
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
	mu.Unlock()
}

func TestDispatcher_PanicDoesNotKillWorker(t *testing.T) {
	var ran atomic.Int32
	done := make(chan struct{})

	d, err := NewDispatcher(func(j Job) error {
		if j.Identity.Sequence == 1 {
			panic("handler bug")
		}
		ran.Add(1)
		close(done)
		return nil
	})
	require.NoError(t, err)
	defer d.Stop(time.Second)

	require.NoError(t, d.Submit(context.Background(), job(1)))
	require.NoError(t, d.Submit(context.Background(), job(2)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}

	require.NoError(t, d.Stop(time.Second))
	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int32(1), ran.Load())
}

func TestDispatcher_BlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	d, err := NewDispatcher(func(Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, WithQueueSize(2))
	require.NoError(t, err)

	// One job in flight, two queued: the queue is now full.
	require.NoError(t, d.Submit(context.Background(), job(1)))
	<-started
	require.NoError(t, d.Submit(context.Background(), job(2)))
	require.NoError(t, d.Submit(context.Background(), job(3)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = d.Submit(ctx, job(4))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A blocked submitter resumes as soon as space frees.
	submitted := make(chan error, 1)
	go func() { submitted <- d.Submit(context.Background(), job(5)) }()

	close(release)
	select {
	case err := <-submitted:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submit never resumed")
	}

	require.NoError(t, d.Stop(time.Second))
}

func TestDispatcher_StopDropsQueuedAndWaitsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool

	d, err := NewDispatcher(func(j Job) error {
		if j.Identity.Sequence == 1 {
			close(started)
			<-release
			finished.Store(true)
		}
		return nil
	}, WithQueueSize(5))
	require.NoError(t, err)

	require.NoError(t, d.Submit(context.Background(), job(1)))
	<-started
	for i := int64(2); i <= 4; i++ {
		require.NoError(t, d.Submit(context.Background(), job(i)))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop(2 * time.Second) }()

	// The in-flight job is still allowed to finish.
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(3), stats.Dropped)

	assert.ErrorIs(t, d.Submit(context.Background(), job(9)), ErrDispatcherStopped)
	assert.NoError(t, d.Stop(time.Second), "second stop is a no-op")
}

func TestDispatcher_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	d, err := NewDispatcher(func(Job) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Submit(context.Background(), job(1)))
	<-started

	err = d.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
}

func TestDispatcher_StopReleasesBlockedSubmitter(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	d, err := NewDispatcher(func(Job) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return nil
	}, WithQueueSize(1))
	require.NoError(t, err)

	require.NoError(t, d.Submit(context.Background(), job(1)))
	<-started
	require.NoError(t, d.Submit(context.Background(), job(2)))

	blocked := make(chan error, 1)
	go func() { blocked <- d.Submit(context.Background(), job(3)) }()

	time.Sleep(20 * time.Millisecond)
	_ = d.Stop(10 * time.Millisecond)

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrDispatcherStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("submitter still blocked after stop")
	}
}

func TestDispatcher_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	done := make(chan struct{})

	d, err := NewDispatcher(func(j Job) error {
		defer func() {
			if j.Identity.Sequence == 2 {
				close(done)
			}
		}()
		if j.Identity.Sequence == 2 {
			return errors.New("error reply")
		}
		return nil
	}, WithMetrics(reg, "devserver_control"))
	require.NoError(t, err)

	require.NoError(t, d.Submit(context.Background(), job(1)))
	require.NoError(t, d.Submit(context.Background(), job(2)))
	<-done
	require.NoError(t, d.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.processed))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.failed))

	// A second dispatcher on the same registry reuses the collectors.
	d2, err := NewDispatcher(func(Job) error { return nil }, WithMetrics(reg, "devserver_control"))
	require.NoError(t, err)
	assert.Same(t, d.metrics.submitted, d2.metrics.submitted)
	require.NoError(t, d2.Stop(time.Second))
}

func TestDispatcher_Options(t *testing.T) {
	d, err := NewDispatcher(func(Job) error { return nil }, WithWorkers(3), WithQueueSize(0))
	require.NoError(t, err)
	defer d.Stop(time.Second)

	stats := d.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, DefaultQueueSize, stats.QueueSize)

	_, err = NewDispatcher(nil)
	assert.Error(t, err)
}
