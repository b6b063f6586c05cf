package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/saori/internal/config"
	"github.com/sadewadee/saori/internal/protocol"
)

var (
	// ErrPoolClosed is returned by Exec once Stop has been called.
	ErrPoolClosed = errors.New("pool shutting down")
	// ErrPoolExhausted is returned when no worker frees up within the
	// allocate timeout.
	ErrPoolExhausted = errors.New("no available worker")
	// ErrRequestTimeout is returned when a worker does not answer within
	// the request timeout. The worker is replaced.
	ErrRequestTimeout = errors.New("request timeout")
)

// SpawnFunc starts a worker with the given id and returns it once it has
// announced WORKER_READY.
type SpawnFunc func(id int) (*Worker, error)

// Result is a module's answer to one request.
type Result struct {
	Raw      []byte
	Meta     *protocol.ResponseMeta
	WorkerID int
}

// Pool manages a pool of SAORI module workers.
type Pool struct {
	cfg    config.PoolConfig
	spawn  SpawnFunc
	logger *slog.Logger

	workers   []*Worker
	mu        sync.RWMutex
	available chan *Worker
	nextID    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	watchdogInterval time.Duration
	pingTimeout      time.Duration
	queueMu          sync.Mutex

	// Metrics
	totalRequests atomic.Int64
	activeWorkers atomic.Int32
	busyWorkers   atomic.Int32
}

// New creates a new worker pool. Workers are created with spawn.
func New(cfg config.PoolConfig, logger *slog.Logger, spawn SpawnFunc) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		cfg:    cfg,
		spawn:  spawn,
		logger: logger,
		// Holds every live worker, old and new generation, during a
		// reload. Stale entries are compacted away before sends.
		available:        make(chan *Worker, 2*max(cfg.MaxWorkers, 1)),
		ctx:              ctx,
		cancel:           cancel,
		watchdogInterval: 5 * time.Second,
		pingTimeout:      time.Second,
	}
}

// Start initializes the pool by spawning the minimum number of workers.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool",
		"min_workers", p.cfg.MinWorkers,
		"max_workers", p.cfg.MaxWorkers,
		"max_jobs", p.cfg.MaxJobs,
	)

	for i := 0; i < p.cfg.MinWorkers; i++ {
		w, err := p.spawnWorker()
		if err != nil {
			return fmt.Errorf("spawning initial worker %d: %w", i, err)
		}
		p.enqueue(w)
	}

	go p.watchdog()

	return nil
}

// Exec sends raw SAORI request bytes to an available worker and returns
// the raw response bytes.
func (p *Pool) Exec(ctx context.Context, raw []byte, meta *protocol.RequestMeta) (*Result, error) {
	p.totalRequests.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &protocol.RequestMeta{}
	}
	req, err := protocol.EncodeRequestFrame(meta, raw)
	if err != nil {
		return nil, err
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	p.busyWorkers.Add(1)
	defer p.busyWorkers.Add(-1)

	done := make(chan execResult, 1)
	go func() {
		f, e := w.Exec(req)
		done <- execResult{f, e}
	}()

	var timeout <-chan time.Time
	if d := p.cfg.RequestTimeout.Duration(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var resp *protocol.Frame
	select {
	case result := <-done:
		resp, err = result.frame, result.err
	case <-timeout:
		p.logger.Error("worker request timeout", "worker_id", w.ID(), "timeout", p.cfg.RequestTimeout.Duration())
		go p.replaceWorker(w)
		return nil, fmt.Errorf("%w after %s", ErrRequestTimeout, p.cfg.RequestTimeout.Duration())
	case <-ctx.Done():
		go p.settle(w, done)
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}

	if err != nil {
		if errors.Is(err, ErrWorkerReported) {
			p.logger.Warn("worker rejected request", "worker_id", w.ID(), "error", err)
			p.putBack(w)
			return nil, err
		}
		p.logger.Error("worker exec failed", "worker_id", w.ID(), "error", err)
		go p.replaceWorker(w)
		return nil, fmt.Errorf("worker %d exec failed: %w", w.ID(), err)
	}

	respMeta, payload, err := protocol.DecodeResponseFrame(resp)
	p.putBack(w)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID(), err)
	}

	return &Result{Raw: payload, Meta: respMeta, WorkerID: w.ID()}, nil
}

type execResult struct {
	frame *protocol.Frame
	err   error
}

// settle waits for a request whose caller went away, then reuses or
// replaces the worker. The reply is dropped.
func (p *Pool) settle(w *Worker, done <-chan execResult) {
	var timeout <-chan time.Time
	if d := p.cfg.RequestTimeout.Duration(); d > 0 {
		timeout = time.After(d)
	}
	select {
	case result := <-done:
		if result.err != nil && !errors.Is(result.err, ErrWorkerReported) {
			p.replaceWorker(w)
			return
		}
		p.putBack(w)
	case <-timeout:
		p.replaceWorker(w)
	case <-p.ctx.Done():
	}
}

// acquire waits for an idle worker, skipping workers that were stopped
// while queued.
func (p *Pool) acquire(ctx context.Context) (*Worker, error) {
	var timeout <-chan time.Time
	if d := p.cfg.AllocateTimeout.Duration(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case w := <-p.available:
			if w.acquire() {
				return w, nil
			}
		case <-timeout:
			return nil, fmt.Errorf("%w within %s (pool exhausted)", ErrPoolExhausted, p.cfg.AllocateTimeout.Duration())
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolClosed
		}
	}
}

// putBack returns a worker after a request, recycling or retiring it
// when due.
func (p *Pool) putBack(w *Worker) {
	switch {
	case w.retired.Load():
		w.state.Store(int32(StateStopped))
		go p.retireWorker(w)
	case p.needsRecycle(w):
		go p.replaceWorker(w)
	case w.release():
		p.enqueue(w)
	}
}

// enqueue makes an idle worker available. It reports false once the
// pool is shutting down.
func (p *Pool) enqueue(w *Worker) bool {
	select {
	case p.available <- w:
		return true
	case <-p.ctx.Done():
		return false
	default:
	}

	p.compact()

	select {
	case p.available <- w:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// compact drops queued workers that were stopped or retired while
// waiting. Live workers are queued again in their original order.
func (p *Pool) compact() {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	var live []*Worker
	for n := len(p.available); n > 0; n-- {
		select {
		case w := <-p.available:
			if w.State() == StateIdle && !w.retired.Load() {
				live = append(live, w)
			}
		default:
			n = 0
		}
	}
	for _, w := range live {
		select {
		case p.available <- w:
		case <-p.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down all workers in the pool.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	p.mu.RLock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Stop(); err != nil {
				p.logger.Warn("error stopping worker", "worker_id", w.ID(), "error", err)
			}
		}(w)
	}
	wg.Wait()

	p.logger.Info("worker pool stopped")
	return nil
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	total := len(p.workers)
	p.mu.RUnlock()

	busy := int(p.busyWorkers.Load())
	return PoolStats{
		TotalWorkers:  total,
		ActiveWorkers: int(p.activeWorkers.Load()),
		BusyWorkers:   busy,
		IdleWorkers:   max(total-busy, 0),
		TotalRequests: p.totalRequests.Load(),
		QueueDepth:    len(p.available),
	}
}

// PoolStats holds pool metrics.
type PoolStats struct {
	TotalWorkers  int   `json:"total_workers"`
	ActiveWorkers int   `json:"active_workers"`
	BusyWorkers   int   `json:"busy_workers"`
	IdleWorkers   int   `json:"idle_workers"`
	TotalRequests int64 `json:"total_requests"`
	QueueDepth    int   `json:"queue_depth"`
}

func (p *Pool) spawnWorker() (*Worker, error) {
	id := int(p.nextID.Add(1))

	w, err := p.spawn(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.activeWorkers.Add(1)
	p.mu.Unlock()

	p.logger.Debug("worker spawned", "worker_id", id)
	return w, nil
}

func (p *Pool) replaceWorker(old *Worker) {
	p.logger.Debug("replacing worker", "worker_id", old.ID(), "jobs", old.Jobs())

	if err := old.Stop(); err != nil {
		p.logger.Warn("error stopping old worker", "worker_id", old.ID(), "error", err)
	}

	p.removeWorker(old)

	// Only spawn replacement if pool is still running
	if p.ctx.Err() != nil {
		return
	}

	w, err := p.spawnWorker()
	if err != nil {
		p.logger.Error("failed to spawn replacement worker", "error", err)
		return
	}
	p.enqueue(w)
}

// retireWorker stops a worker from an older generation once it is idle.
func (p *Pool) retireWorker(w *Worker) {
	for !w.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		if w.State() == StateStopped || p.ctx.Err() != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := w.Stop(); err != nil {
		p.logger.Warn("error stopping retired worker", "worker_id", w.ID(), "error", err)
	}
	p.removeWorker(w)
}

func (p *Pool) removeWorker(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, worker := range p.workers {
		if worker.ID() == w.ID() {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			p.activeWorkers.Add(-1)
			break
		}
	}
}

func (p *Pool) needsRecycle(w *Worker) bool {
	return p.cfg.MaxJobs > 0 && w.Jobs() >= int64(p.cfg.MaxJobs)
}

// watchdog monitors worker health and pool scaling.
func (p *Pool) watchdog() {
	ticker := time.NewTicker(p.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkHealth()
			p.autoScale()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) checkHealth() {
	p.pingIdle()

	p.mu.RLock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	for _, w := range workers {
		if w.State() != StateIdle {
			continue
		}
		if !w.IsAlive() {
			p.logger.Warn("dead worker detected", "worker_id", w.ID())
			w.state.Store(int32(StateStopped))
			go p.replaceWorker(w)
		}
	}
}

// pingIdle takes each queued worker off the queue, pings it, and puts
// it back. A worker that misses its pong is replaced.
func (p *Pool) pingIdle() {
	for n := len(p.available); n > 0; n-- {
		var w *Worker
		select {
		case w = <-p.available:
		default:
			return
		}
		if !w.acquire() {
			continue
		}
		if err := w.Ping(p.pingTimeout); err != nil {
			p.logger.Warn("unresponsive worker detected", "worker_id", w.ID(), "error", err)
			w.state.Store(int32(StateStopped))
			go p.replaceWorker(w)
			continue
		}
		p.putBack(w)
	}
}

func (p *Pool) autoScale() {
	stats := p.Stats()
	if stats.TotalWorkers == 0 {
		return
	}

	// Scale up if busy percentage exceeds threshold (80%)
	busyPct := float64(stats.BusyWorkers) / float64(stats.TotalWorkers) * 100
	if busyPct >= 80 && stats.TotalWorkers < p.cfg.MaxWorkers {
		p.logger.Info("scaling up workers", "busy_pct", busyPct, "current", stats.TotalWorkers)
		w, err := p.spawnWorker()
		if err != nil {
			p.logger.Error("scale-up failed", "error", err)
			return
		}
		p.enqueue(w)
		return
	}

	// Scale down if idle workers exceed threshold and above minimum
	if busyPct <= 20 && stats.TotalWorkers > p.cfg.MinWorkers {
		select {
		case w := <-p.available:
			if !w.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
				return
			}
			p.logger.Info("scaling down workers", "busy_pct", busyPct, "current", stats.TotalWorkers)
			go func() {
				w.Stop()
				p.removeWorker(w)
			}()
		default:
			// No idle workers available to remove
		}
	}
}

// Reload gracefully replaces all workers (zero-downtime restart). The
// new generation is spawned before the old one is retired.
func (p *Pool) Reload() error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}
	p.logger.Info("graceful reload starting")

	p.mu.RLock()
	oldWorkers := make([]*Worker, len(p.workers))
	copy(oldWorkers, p.workers)
	p.mu.RUnlock()

	// Spawn new workers first (ensures zero-downtime)
	newWorkers := make([]*Worker, 0, p.cfg.MinWorkers)
	for i := 0; i < p.cfg.MinWorkers; i++ {
		w, err := p.spawnWorker()
		if err != nil {
			p.logger.Error("reload: failed to spawn new worker", "error", err)
			for _, nw := range newWorkers {
				nw.Stop()
				p.removeWorker(nw)
			}
			return fmt.Errorf("reload failed: %w", err)
		}
		newWorkers = append(newWorkers, w)
	}

	for _, w := range oldWorkers {
		w.retired.Store(true)
	}
	p.compact()
	for _, w := range newWorkers {
		if !p.enqueue(w) {
			return ErrPoolClosed
		}
	}

	p.logger.Info("reload: new workers spawned", "count", len(newWorkers))

	// Drain and stop old workers in background
	go func() {
		for _, w := range oldWorkers {
			p.retireWorker(w)
		}
		p.logger.Info("graceful reload complete", "old_stopped", len(oldWorkers), "new_active", len(newWorkers))
	}()

	return nil
}
