package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/saori/internal/module"
	"github.com/sadewadee/saori/internal/protocol"
)

// WorkerState represents the current state of a worker.
type WorkerState int32

const (
	StateIdle    WorkerState = iota // Worker is ready for a request
	StateBusy                       // Worker is processing a request
	StateStopped                    // Worker has been stopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const (
	readyTimeout = 10 * time.Second
	stopTimeout  = 5 * time.Second
)

// ErrWorkerReported wraps an ERROR frame sent by a worker in reply to a
// request. The worker itself is still usable.
var ErrWorkerReported = errors.New("worker reported error")

var errReadTimeout = errors.New("timed out waiting for frame")

// Worker is one SAORI module instance reachable over a frame stream,
// either a child process or an in-process module.
type Worker struct {
	id  int
	in  io.WriteCloser
	out io.Reader

	kill    func() error
	done    chan struct{}
	exitErr error

	state    atomic.Int32
	jobs     atomic.Int64
	lastUsed atomic.Int64 // unix timestamp
	retired  atomic.Bool
	mu       sync.Mutex

	stopOnce sync.Once
	stopErr  error
}

func newWorker(id int, in io.WriteCloser, out io.Reader) *Worker {
	w := &Worker{
		id:   id,
		in:   in,
		out:  out,
		done: make(chan struct{}),
	}
	w.state.Store(int32(StateIdle))
	w.lastUsed.Store(time.Now().Unix())
	return w
}

// StartProcess runs command as a module worker process speaking the
// frame protocol on its stdin and stdout.
func StartProcess(id int, command []string, env []string) (*Worker, error) {
	if len(command) == 0 {
		return nil, errors.New("empty worker command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	// A plain os.Pipe keeps Wait from closing stdout under a pending read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("starting module worker: %w", err)
	}
	stdoutW.Close()

	w := newWorker(id, stdin, stdoutR)
	w.kill = func() error {
		err := cmd.Process.Kill()
		stdoutR.Close()
		return err
	}
	go func() {
		w.exitErr = cmd.Wait()
		stdoutR.Close()
		close(w.done)
	}()

	if err := w.awaitReady(); err != nil {
		return nil, err
	}
	return w, nil
}

// StartEmbedded runs m in-process behind a pair of pipes, so it is driven
// exactly like a process worker.
func StartEmbedded(id int, m *module.Module) (*Worker, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	w := newWorker(id, inW, outR)
	w.kill = func() error {
		cancel()
		inW.Close()
		outR.Close()
		return nil
	}
	go func() {
		w.exitErr = m.Serve(ctx, inR, outW)
		outW.Close()
		inR.Close()
		cancel()
		close(w.done)
	}()

	if err := w.awaitReady(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) awaitReady() error {
	frame, err := w.readFrame(readyTimeout)
	if err != nil {
		w.kill()
		return fmt.Errorf("waiting for worker ready: %w", err)
	}
	if frame.Type != protocol.TypeWorkerReady {
		w.kill()
		return fmt.Errorf("expected WORKER_READY, got type 0x%02x", frame.Type)
	}
	return nil
}

// readFrame reads one frame, giving up after timeout. On timeout the read
// is abandoned; callers kill the worker, which unblocks it.
func (w *Worker) readFrame(timeout time.Duration) (*protocol.Frame, error) {
	type result struct {
		frame *protocol.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := protocol.ReadFrame(w.out)
		ch <- result{f, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-timer.C:
		return nil, errReadTimeout
	}
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() int {
	return w.id
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Jobs returns the number of requests this worker has handled.
func (w *Worker) Jobs() int64 {
	return w.jobs.Load()
}

// acquire claims an idle worker for one request.
func (w *Worker) acquire() bool {
	return w.state.CompareAndSwap(int32(StateIdle), int32(StateBusy))
}

// release hands a busy worker back.
func (w *Worker) release() bool {
	return w.state.CompareAndSwap(int32(StateBusy), int32(StateIdle))
}

// Exec sends a request frame and returns the worker's reply. It also
// consumes the WORKER_READY that follows every reply.
func (w *Worker) Exec(req *protocol.Frame) (*protocol.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	defer func() {
		w.lastUsed.Store(time.Now().Unix())
		w.jobs.Add(1)
	}()

	if err := protocol.WriteFrame(w.in, req); err != nil {
		return nil, fmt.Errorf("sending request to worker %d: %w", w.id, err)
	}

	reply, err := protocol.ReadFrame(w.out)
	if err != nil {
		return nil, fmt.Errorf("reading response from worker %d: %w", w.id, err)
	}

	ready, err := protocol.ReadFrame(w.out)
	if err != nil {
		return nil, fmt.Errorf("reading ready from worker %d: %w", w.id, err)
	}
	if ready.Type != protocol.TypeWorkerReady {
		return nil, fmt.Errorf("expected WORKER_READY from worker %d, got type 0x%02x", w.id, ready.Type)
	}

	switch reply.Type {
	case protocol.TypeResponse:
		return reply, nil
	case protocol.TypeError:
		return nil, fmt.Errorf("%w: worker %d: %s", ErrWorkerReported, w.id, reply.Payload)
	default:
		return nil, fmt.Errorf("unexpected reply type 0x%02x from worker %d", reply.Type, w.id)
	}
}

// Ping sends a health check to the worker and waits up to timeout for
// the pong. After a failed Ping the stream is out of sync and the worker
// must be replaced.
func (w *Worker) Ping(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := protocol.WriteFrame(w.in, protocol.NewPingFrame()); err != nil {
		return fmt.Errorf("sending ping to worker %d: %w", w.id, err)
	}

	frame, err := w.readFrame(timeout)
	if err != nil {
		return fmt.Errorf("reading pong from worker %d: %w", w.id, err)
	}
	if frame.Type != protocol.TypePing || string(frame.Payload) != "pong" {
		return fmt.Errorf("expected PONG from worker %d, got type 0x%02x", w.id, frame.Type)
	}
	return nil
}

// Stop gracefully stops the worker, killing it if it does not exit in
// time. It is safe to call more than once.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		w.state.Store(int32(StateStopped))

		go func() {
			_ = protocol.WriteFrame(w.in, protocol.NewWorkerStopFrame())
			w.in.Close()
		}()

		select {
		case <-w.done:
			w.stopErr = w.exitErr
		case <-time.After(stopTimeout):
			w.stopErr = w.kill()
		}
	})
	return w.stopErr
}

// IsAlive reports whether the worker has not exited.
func (w *Worker) IsAlive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}
