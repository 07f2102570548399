package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
)

// Dispatcher defaults.
const (
	DefaultWorkers   = 1
	DefaultQueueSize = 10
)

// Job is one queued control request.
type Job struct {
	Document flexible.Document
	Identity flexible.Identity
}

// ExecFunc executes a job. A returned error (or a panic) counts the job as
// failed; the worker keeps running either way.
type ExecFunc func(Job) error

// Dispatcher runs control jobs on a small fixed set of workers fed by a
// bounded queue. With the default single worker, jobs run one at a time in
// arrival order.
//
// When the queue is full, Submit blocks until space frees, the dispatcher
// stops or the caller's context ends. The transport's delivery goroutine is
// therefore throttled instead of requests being dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Dispatcher struct {
	workers   int
	queueSize int
	exec      ExecFunc
	logger    Logger

	queue    chan Job
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// lifecycleMu orders Submit against Stop: once stopped is set no new
	// job can enter the queue.
	lifecycleMu sync.RWMutex
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegisterer prometheus.Registerer
	metricsPrefix     string
	metrics           *dispatcherMetrics
}

// dispatcherMetrics holds Prometheus metrics for dispatcher monitoring.
type dispatcherMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of workers. Values below 1 are ignored.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the queue depth. Values below 1 are ignored.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithMetrics registers dispatcher metrics named prefix_* with reg.
func WithMetrics(reg prometheus.Registerer, prefix string) DispatcherOption {
	return func(d *Dispatcher) {
		d.metricsRegisterer = reg
		d.metricsPrefix = prefix
	}
}

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher and starts its workers.
//
// Returns an error only if metrics cannot be registered.
func NewDispatcher(exec ExecFunc, opts ...DispatcherOption) (*Dispatcher, error) {
	if exec == nil {
		return nil, errors.New("control: nil exec function")
	}

	d := &Dispatcher{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		exec:      exec,
		logger:    noopLogger{},
		stopping:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Job, d.queueSize)

	if d.metricsRegisterer != nil && d.metricsPrefix != "" {
		m, err := newDispatcherMetrics(d.metricsRegisterer, d.metricsPrefix)
		if err != nil {
			return nil, err
		}
		d.metrics = m
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

func newDispatcherMetrics(reg prometheus.Registerer, prefix string) (*dispatcherMetrics, error) {
	m := &dispatcherMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current control queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total control requests queued",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total control requests executed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total control requests that produced an error reply",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total queued control requests dropped at shutdown",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent executing control requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	var err error
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	if m.submitted, err = register(reg, m.submitted); err != nil {
		return nil, err
	}
	if m.processed, err = register(reg, m.processed); err != nil {
		return nil, err
	}
	if m.failed, err = register(reg, m.failed); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.processingTime, err = register(reg, m.processingTime); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, reusing an identical collector registered earlier
// (a restarted server in the same process).
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("registering dispatcher metrics: %w", err)
	}
	return c, nil
}

// Submit queues a job, blocking while the queue is full.
//
// Returns:
//   - ErrDispatcherStopped once Stop has been called
//   - ctx.Err() if ctx ends while waiting for space
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.lifecycleMu.RLock()
	defer d.lifecycleMu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- job:
	case <-d.stopping:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	d.submitted.Add(1)
	if d.metrics != nil {
		d.metrics.submitted.Inc()
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}
	return nil
}

// Stop stops intake, drops queued jobs that have not started and waits up
// to timeout for in-flight jobs to finish.
//
// Returns ErrStopTimeout if in-flight jobs are still running at the
// deadline; they are left to complete in the background. Calling Stop again
// is a no-op.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	first := false
	d.stopOnce.Do(func() {
		first = true
		close(d.stopping)
	})
	if !first {
		return nil
	}

	// Blocked submitters have observed stopping and released the read lock.
	d.lifecycleMu.Lock()
	d.stopped = true
	d.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.drain()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:    d.workers,
		QueueSize:  d.queueSize,
		QueueDepth: len(d.queue),
		Submitted:  d.submitted.Load(),
		Processed:  d.processed.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
	}
}

// Stats are dispatcher counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopping:
			return
		case job := <-d.queue:
			// Stop may have raced with the receive; a job that has not
			// started yet is dropped like any other queued job.
			select {
			case <-d.stopping:
				d.drop(1)
				return
			default:
			}
			d.run(job)
		}
	}
}

func (d *Dispatcher) run(job Job) {
	if d.metrics != nil {
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}

	start := time.Now()
	err := d.safeExec(job)
	duration := time.Since(start)

	d.processed.Add(1)
	if err != nil {
		d.failed.Add(1)
	}

	if d.metrics != nil {
		d.metrics.processed.Inc()
		status := "success"
		if err != nil {
			d.metrics.failed.Inc()
			status = "error"
		}
		d.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

func (d *Dispatcher) safeExec(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("control job panic recovered",
				"id", job.Document["id"],
				"panic", r,
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.exec(job)
}

// drain discards every job left in the queue. Called once all workers
// have exited.
func (d *Dispatcher) drain() {
	n := 0
	for {
		select {
		case <-d.queue:
			n++
		default:
			d.drop(n)
			return
		}
	}
}

func (d *Dispatcher) drop(n int) {
	if n == 0 {
		return
	}
	d.dropped.Add(int64(n))
	if d.metrics != nil {
		d.metrics.dropped.Add(float64(n))
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}
	d.logger.Warn("dropped queued control requests", "count", n)
}
