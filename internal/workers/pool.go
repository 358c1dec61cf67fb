package workers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"imgcat/internal/logging"
	"imgcat/internal/metrics"
)

var (
	// ErrPoolShuttingDown is returned for tasks submitted after Shutdown
	// began and for tasks still queued when it did.
	ErrPoolShuttingDown = errors.New("workers: pool shutting down")

	// ErrTaskTimeout resolves a task that exceeded its time budget.
	ErrTaskTimeout = errors.New("workers: task timed out")
)

// WorkerCrashError resolves a task whose function panicked. Only the task
// that panicked sees it; the worker running it is dropped.
type WorkerCrashError struct {
	TaskID   string
	WorkerID int64
	Value    any
	Stack    []byte
}

func (e *WorkerCrashError) Error() string {
	return fmt.Sprintf("workers: worker %d crashed running %q: %v", e.WorkerID, e.TaskID, e.Value)
}

// LoadSampler reports host resource usage as fractions in [0, 1].
type LoadSampler interface {
	CPUUsage() float64
	MemoryUsage() float64
}

// Config bounds and tunes a Pool.
type Config struct {
	MinWorkers    int
	MaxWorkers    int
	QueueCapacity int
	// TaskTimeout applies to tasks that do not set their own. 0 disables.
	TaskTimeout time.Duration
	// IdleTimeout reaps workers above MinWorkers that sat idle this long.
	IdleTimeout time.Duration
	// ScaleInterval is the autoscale tick. 0 disables autoscaling.
	ScaleInterval time.Duration
	// ShutdownGrace bounds how long Shutdown waits for in-flight tasks.
	ShutdownGrace time.Duration
	// RecycleGrace is how long a worker keeps waiting on a timed-out task
	// before abandoning it and being replaced.
	RecycleGrace time.Duration
	// LoadThreshold is the composite load above which the pool grows.
	LoadThreshold float64
	// CPUThreshold is the CPU fraction above which the pool grows.
	CPUThreshold float64
	// MemoryCeiling blocks growth while memory usage is at or above it.
	MemoryCeiling float64
}

// DefaultConfig sizes the pool for CPU-bound fingerprint extraction.
func DefaultConfig() Config {
	return Config{
		MinWorkers:    1,
		MaxWorkers:    ForCPU(0),
		QueueCapacity: 256,
		TaskTimeout:   60 * time.Second,
		IdleTimeout:   60 * time.Second,
		ScaleInterval: 10 * time.Second,
		ShutdownGrace: 30 * time.Second,
		RecycleGrace:  5 * time.Second,
		LoadThreshold: 0.8,
		CPUThreshold:  0.8,
		MemoryCeiling: 0.9,
	}
}

// Validate checks the bounds and thresholds.
func (c Config) Validate() error {
	switch {
	case c.MinWorkers < 1:
		return fmt.Errorf("workers: min workers must be at least 1, got %d", c.MinWorkers)
	case c.MaxWorkers < c.MinWorkers:
		return fmt.Errorf("workers: max workers %d below min workers %d", c.MaxWorkers, c.MinWorkers)
	case c.QueueCapacity < 1:
		return fmt.Errorf("workers: queue capacity must be positive, got %d", c.QueueCapacity)
	case c.LoadThreshold <= 0 || c.LoadThreshold > 1:
		return fmt.Errorf("workers: load threshold %v outside (0, 1]", c.LoadThreshold)
	case c.CPUThreshold <= 0 || c.CPUThreshold > 1:
		return fmt.Errorf("workers: cpu threshold %v outside (0, 1]", c.CPUThreshold)
	case c.TaskTimeout < 0 || c.IdleTimeout < 0 || c.ScaleInterval < 0 || c.ShutdownGrace < 0 || c.RecycleGrace < 0:
		return errors.New("workers: durations must not be negative")
	}
	return nil
}

// Task is one unit of work. Run receives a context that is cancelled when
// the task times out or the pool is force-terminated; honouring it is
// optional.
type Task[T any] struct {
	ID      string
	Run     func(ctx context.Context) (T, error)
	Timeout time.Duration
}

// Future is the pending result of a submitted task. It resolves exactly
// once.
type Future[T any] struct {
	taskID string
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
}

func newFuture[T any](taskID string) *Future[T] {
	return &Future[T]{taskID: taskID, done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// TaskID returns the ID of the task this future belongs to.
func (f *Future[T]) TaskID() string { return f.taskID }

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. Giving up on ctx does
// not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the resolved value. It must only be called after Done is
// closed.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Size       int
	Busy       int
	Queued     int
	Load       float64
	Submitted  int64
	Completed  int64
	Failed     int64
	TimedOut   int64
	Crashed    int64
	Rejected   int64
	Abandoned  int64
	ScaleUps   int64
	ScaleDowns int64
	Spawned    int64
	Reaped     int64
	Replaced   int64
}

type job[T any] struct {
	task   Task[T]
	future *Future[T]
}

type outcome[T any] struct {
	value T
	err   error
	crash *WorkerCrashError
}

// Pool runs tasks on a bounded, self-scaling set of workers.
type Pool[T any] struct {
	cfg     Config
	sampler LoadSampler

	queue  chan *job[T]
	retire chan struct{}
	quit   chan struct{}

	// mu orders Submit against Shutdown; closed is read under it.
	mu      sync.RWMutex
	closed  bool
	closing atomic.Bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	startOnce sync.Once
	// workersWG also counts the autoscaler so spawns it makes never race
	// with Shutdown's Wait.
	workersWG sync.WaitGroup

	runMu   sync.Mutex
	running map[*job[T]]struct{}

	size     atomic.Int32
	busy     atomic.Int32
	nextID   atomic.Int64
	lastLoad atomic.Uint64 // math.Float64bits

	submitted, completed, failed, timedOut, crashed, rejected, abandoned atomic.Int64
	scaleUps, scaleDowns, spawned, reaped, replaced                      atomic.Int64
}

// NewPool creates a pool. sampler may be nil, in which case CPU and memory
// read as 0 and only queue pressure drives scaling.
func NewPool[T any](cfg Config, sampler LoadSampler) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		cfg:        cfg,
		sampler:    sampler,
		queue:      make(chan *job[T], cfg.QueueCapacity),
		retire:     make(chan struct{}, 1),
		quit:       make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		running:    make(map[*job[T]]struct{}),
	}, nil
}

// Start launches MinWorkers workers and the autoscaler. Submit calls it
// implicitly; calling it again is a no-op.
func (p *Pool[T]) Start() {
	p.startOnce.Do(func() {
		if p.closing.Load() {
			return
		}
		for i := 0; i < p.cfg.MinWorkers; i++ {
			p.spawn("spawn")
		}
		if p.cfg.ScaleInterval > 0 {
			p.workersWG.Add(1)
			go p.scaleLoop()
		}
		logging.Debug("Worker pool started: min=%d max=%d queue=%d",
			p.cfg.MinWorkers, p.cfg.MaxWorkers, p.cfg.QueueCapacity)
	})
}

// Submit queues a task and returns its future. It blocks while the queue is
// full, until ctx ends.
func (p *Pool[T]) Submit(ctx context.Context, task Task[T]) (*Future[T], error) {
	if task.Run == nil {
		return nil, errors.New("workers: task has no Run function")
	}
	p.Start()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		metrics.PoolTasksTotal.WithLabelValues("rejected").Inc()
		return nil, ErrPoolShuttingDown
	}

	j := &job[T]{task: task, future: newFuture[T](task.ID)}

	// No idle worker will pick this up promptly: grow if we may.
	if p.idleWorkers()-len(p.queue) <= 0 {
		p.trySpawn("spawn")
	}

	select {
	case p.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.submitted.Add(1)
	p.publish()
	return j.future, nil
}

func (p *Pool[T]) idleWorkers() int {
	return int(p.size.Load() - p.busy.Load())
}

// trySpawn adds a worker if the pool is below MaxWorkers.
func (p *Pool[T]) trySpawn(reason string) bool {
	if p.closing.Load() {
		return false
	}
	for {
		s := p.size.Load()
		if int(s) >= p.cfg.MaxWorkers {
			return false
		}
		if p.size.CompareAndSwap(s, s+1) {
			p.startWorker(reason)
			return true
		}
	}
}

// spawn adds a worker unconditionally; used for the initial MinWorkers.
func (p *Pool[T]) spawn(reason string) {
	p.size.Add(1)
	p.startWorker(reason)
}

func (p *Pool[T]) startWorker(reason string) {
	id := p.nextID.Add(1)
	switch reason {
	case "up":
		p.scaleUps.Add(1)
	case "replace":
		p.replaced.Add(1)
	default:
		p.spawned.Add(1)
	}
	metrics.PoolScaleEvents.WithLabelValues(reason).Inc()
	p.workersWG.Add(1)
	go p.worker(id)
	p.publish()
}

// leave lets a worker exit if that keeps the pool at or above MinWorkers.
func (p *Pool[T]) leave() bool {
	for {
		s := p.size.Load()
		if int(s) <= p.cfg.MinWorkers {
			return false
		}
		if p.size.CompareAndSwap(s, s-1) {
			return true
		}
	}
}

// replenish is called after a worker died. It restores MinWorkers and
// makes sure queued work still has someone to run it.
func (p *Pool[T]) replenish() {
	if p.closing.Load() {
		return
	}
	for int(p.size.Load()) < p.cfg.MinWorkers {
		if !p.trySpawn("replace") {
			return
		}
	}
	if len(p.queue) > 0 && p.idleWorkers() <= 0 {
		p.trySpawn("replace")
	}
}

func (p *Pool[T]) worker(id int64) {
	defer p.workersWG.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if p.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(p.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	resetIdle := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.cfg.IdleTimeout)
	}

	for {
		select {
		case j := <-p.queue:
			if !p.runJob(id, j) {
				p.size.Add(-1)
				p.publish()
				p.replenish()
				return
			}
			resetIdle()

		case <-p.retire:
			if p.leave() {
				p.scaleDowns.Add(1)
				metrics.PoolScaleEvents.WithLabelValues("down").Inc()
				logging.Debug("Worker %d retired by autoscaler", id)
				p.publish()
				return
			}

		case <-idle:
			if p.leave() {
				p.reaped.Add(1)
				metrics.PoolScaleEvents.WithLabelValues("reap").Inc()
				logging.Debug("Worker %d reaped after %v idle", id, p.cfg.IdleTimeout)
				p.publish()
				return
			}
			timer.Reset(p.cfg.IdleTimeout)

		case <-p.quit:
			p.size.Add(-1)
			return
		}
	}
}

// runJob executes one task and reports whether the worker survives it.
func (p *Pool[T]) runJob(workerID int64, j *job[T]) bool {
	var zero T
	if p.closing.Load() {
		if j.future.resolve(zero, ErrPoolShuttingDown) {
			p.rejected.Add(1)
			metrics.PoolTasksTotal.WithLabelValues("rejected").Inc()
		}
		return true
	}

	p.busy.Add(1)
	p.publish()
	defer func() {
		p.busy.Add(-1)
		p.publish()
	}()

	ctx, cancel := context.WithCancel(p.baseCtx)
	defer cancel()

	p.runMu.Lock()
	p.running[j] = struct{}{}
	p.runMu.Unlock()
	defer func() {
		p.runMu.Lock()
		delete(p.running, j)
		p.runMu.Unlock()
	}()

	start := time.Now()
	results := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome[T]{crash: &WorkerCrashError{
					TaskID:   j.task.ID,
					WorkerID: workerID,
					Value:    r,
					Stack:    debug.Stack(),
				}}
			}
		}()
		v, err := j.task.Run(ctx)
		results <- outcome[T]{value: v, err: err}
	}()

	timeout := j.task.Timeout
	if timeout <= 0 {
		timeout = p.cfg.TaskTimeout
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case r := <-results:
		metrics.PoolTaskDuration.Observe(time.Since(start).Seconds())
		return p.settle(j, r)

	case <-deadline:
		if j.future.resolve(zero, fmt.Errorf("%w after %v: %s", ErrTaskTimeout, timeout, j.task.ID)) {
			p.timedOut.Add(1)
			metrics.PoolTasksTotal.WithLabelValues("timeout").Inc()
		}
		logging.Warn("Task %s exceeded %v, worker %d waiting for it to return", j.task.ID, timeout, workerID)
		cancel()

		grace := time.NewTimer(p.cfg.RecycleGrace)
		defer grace.Stop()
		select {
		case r := <-results:
			if r.crash != nil {
				p.crashed.Add(1)
				logging.Error("%v", r.crash)
				return false
			}
			return true
		case <-grace.C:
			p.abandoned.Add(1)
			logging.Warn("Worker %d abandoned task %s after %v, recycling", workerID, j.task.ID, p.cfg.RecycleGrace)
			return false
		}
	}
}

// settle resolves the future from a finished task.
func (p *Pool[T]) settle(j *job[T], r outcome[T]) bool {
	var zero T
	switch {
	case r.crash != nil:
		if j.future.resolve(zero, r.crash) {
			p.crashed.Add(1)
			metrics.PoolTasksTotal.WithLabelValues("crash").Inc()
		}
		logging.Error("%v", r.crash)
		return false
	case r.err != nil:
		if j.future.resolve(zero, r.err) {
			p.failed.Add(1)
			metrics.PoolTasksTotal.WithLabelValues("error").Inc()
		}
	default:
		if j.future.resolve(r.value, nil) {
			p.completed.Add(1)
			metrics.PoolTasksTotal.WithLabelValues("success").Inc()
		}
	}
	return true
}

func (p *Pool[T]) scaleLoop() {
	defer p.workersWG.Done()
	ticker := time.NewTicker(p.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var cpu, mem float64
			if p.sampler != nil {
				cpu, mem = p.sampler.CPUUsage(), p.sampler.MemoryUsage()
			}
			p.scaleOnce(cpu, mem)
		case <-p.quit:
			return
		}
	}
}

// ScaleAction is what one autoscale tick decided.
type ScaleAction int

const (
	ScaleNone ScaleAction = iota
	ScaleUp
	ScaleDown
)

// load blends queue pressure and worker utilisation into [0, 1].
func (p *Pool[T]) load() float64 {
	queuePressure := float64(len(p.queue)) / 10
	if queuePressure > 1 {
		queuePressure = 1
	}
	var utilisation float64
	if size := p.size.Load(); size > 0 {
		utilisation = float64(p.busy.Load()) / float64(size)
	}
	return clamp((queuePressure+utilisation)/2, 0, 1)
}

// scaleOnce applies one autoscale decision for the given CPU and memory
// fractions.
func (p *Pool[T]) scaleOnce(cpu, mem float64) ScaleAction {
	if p.closing.Load() {
		return ScaleNone
	}
	load := p.load()
	p.lastLoad.Store(math.Float64bits(load))
	metrics.PoolLoad.Set(load)

	size := int(p.size.Load())
	memOK := p.cfg.MemoryCeiling <= 0 || mem < p.cfg.MemoryCeiling

	if (load > p.cfg.LoadThreshold || cpu > p.cfg.CPUThreshold) && size < p.cfg.MaxWorkers && memOK {
		// A stale retire token must not undo this.
		select {
		case <-p.retire:
		default:
		}
		if p.trySpawn("up") {
			logging.Debug("Pool scaled up to %d (load=%.2f cpu=%.2f mem=%.2f)", size+1, load, cpu, mem)
			return ScaleUp
		}
		return ScaleNone
	}

	if load < p.cfg.LoadThreshold/2 && cpu < p.cfg.CPUThreshold/2 && size > p.cfg.MinWorkers && p.idleWorkers() > 0 {
		select {
		case p.retire <- struct{}{}:
			logging.Debug("Pool scaling down from %d (load=%.2f cpu=%.2f)", size, load, cpu)
			return ScaleDown
		default:
		}
	}
	return ScaleNone
}

// Stats returns current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Size:       int(p.size.Load()),
		Busy:       int(p.busy.Load()),
		Queued:     len(p.queue),
		Load:       math.Float64frombits(p.lastLoad.Load()),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		TimedOut:   p.timedOut.Load(),
		Crashed:    p.crashed.Load(),
		Rejected:   p.rejected.Load(),
		Abandoned:  p.abandoned.Load(),
		ScaleUps:   p.scaleUps.Load(),
		ScaleDowns: p.scaleDowns.Load(),
		Spawned:    p.spawned.Load(),
		Reaped:     p.reaped.Load(),
		Replaced:   p.replaced.Load(),
	}
}

func (p *Pool[T]) publish() {
	metrics.PoolWorkers.Set(float64(p.size.Load()))
	metrics.PoolBusyWorkers.Set(float64(p.busy.Load()))
	metrics.PoolQueueDepth.Set(float64(len(p.queue)))
}

// Shutdown stops accepting tasks, rejects everything still queued, and
// waits for in-flight tasks up to ShutdownGrace or ctx, whichever ends
// first. Tasks still running after that are resolved with
// ErrPoolShuttingDown and their contexts cancelled.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.closing.Store(true)
	close(p.quit)
	p.mu.Unlock()

	var zero T
	drained := 0
	for done := false; !done; {
		select {
		case j := <-p.queue:
			if j.future.resolve(zero, ErrPoolShuttingDown) {
				p.rejected.Add(1)
				metrics.PoolTasksTotal.WithLabelValues("rejected").Inc()
				drained++
			}
		default:
			done = true
		}
	}
	if drained > 0 {
		logging.Info("Worker pool shutting down, rejected %d queued tasks", drained)
	}

	finished := make(chan struct{})
	go func() {
		p.workersWG.Wait()
		close(finished)
	}()

	var grace <-chan time.Time
	if p.cfg.ShutdownGrace > 0 {
		t := time.NewTimer(p.cfg.ShutdownGrace)
		defer t.Stop()
		grace = t.C
	}

	select {
	case <-finished:
		p.baseCancel()
		p.publish()
		return nil
	case <-grace:
	case <-ctx.Done():
	}

	forced := p.forceTerminate()
	p.baseCancel()
	p.publish()
	if forced > 0 {
		return fmt.Errorf("workers: %d in-flight tasks force-terminated", forced)
	}
	return nil
}

func (p *Pool[T]) forceTerminate() int {
	var zero T
	p.runMu.Lock()
	defer p.runMu.Unlock()

	forced := 0
	for j := range p.running {
		if j.future.resolve(zero, fmt.Errorf("%w: task %s force-terminated", ErrPoolShuttingDown, j.task.ID)) {
			forced++
		}
	}
	if forced > 0 {
		logging.Warn("Worker pool grace expired, force-terminated %d tasks", forced)
	}
	return forced
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
