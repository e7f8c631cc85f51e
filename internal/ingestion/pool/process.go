package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// ErrWorkerCrashed is returned for a task whose worker process died or broke the protocol.
var ErrWorkerCrashed = errors.New("pool: worker process crashed")

// RemoteError is a task failure reported by a worker process.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type request[T any] struct {
	ID   uint64 `json:"id"`
	Task T      `json:"task"`
}

type response[R any] struct {
	ID     uint64 `json:"id"`
	Result R      `json:"result"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

type ProcessConfig struct {
	// Command is the worker executable and its arguments. The worker speaks ServeWorker's
	// protocol on stdin and stdout.
	Command []string
	Env     []string
	Workers int
}

// ProcessPool keeps N long-lived worker processes and sends each one task at a time as a
// JSON line. A worker that dies is replaced on its next use.
type ProcessPool[T, R any] struct {
	log  *logger.Logger
	cfg  ProcessConfig
	idle chan *child
	seq  atomic.Uint64

	mu     sync.Mutex
	closed bool
	all    map[*child]struct{}
	wg     sync.WaitGroup
}

type child struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
}

func NewProcessPool[T, R any](log *logger.Logger, cfg ProcessConfig) (*ProcessPool[T, R], error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("pool: worker command required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	p := &ProcessPool[T, R]{
		log:  log.With("component", "ProcessPool"),
		cfg:  cfg,
		idle: make(chan *child, cfg.Workers),
		all:  map[*child]struct{}{},
	}
	for i := 0; i < cfg.Workers; i++ {
		c, err := p.spawn()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.idle <- c
	}
	p.log.Info("Process pool started", "workers", cfg.Workers, "command", cfg.Command[0])
	return p, nil
}

func (p *ProcessPool[T, R]) spawn() (*child, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("pool: closed")
	}
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pool: start worker: %w", err)
	}
	c := &child{cmd: cmd, stdin: stdin, out: bufio.NewReaderSize(stdout, 1<<16)}
	p.all[c] = struct{}{}
	return c, nil
}

func (p *ProcessPool[T, R]) kill(c *child) {
	if c == nil {
		return
	}
	p.mu.Lock()
	delete(p.all, c)
	p.mu.Unlock()
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
}

func (p *ProcessPool[T, R]) Submit(ctx context.Context, task T) *Future[R] {
	var c *child
	select {
	case c = <-p.idle:
	case <-ctx.Done():
		var zero R
		return Resolved(zero, ctx.Err())
	}
	if c == nil {
		var err error
		if c, err = p.spawn(); err != nil {
			p.idle <- nil
			var zero R
			return Resolved(zero, err)
		}
	}

	fut := newFuture[R]()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, healthy, err := p.exchange(ctx, c, task)
		if !healthy {
			p.kill(c)
			c = nil
		}
		p.idle <- c
		fut.resolve(res, err)
	}()
	return fut
}

// exchange sends one task and reads its response. healthy is false when the worker can no
// longer be trusted with another task.
func (p *ProcessPool[T, R]) exchange(ctx context.Context, c *child, task T) (R, bool, error) {
	type outcome struct {
		resp response[R]
		err  error
	}
	id := p.seq.Add(1)
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		line, err := json.Marshal(request[T]{ID: id, Task: task})
		if err == nil {
			_, err = c.stdin.Write(append(line, '\n'))
		}
		if err == nil {
			var raw []byte
			raw, err = c.out.ReadBytes('\n')
			if err == nil {
				err = json.Unmarshal(raw, &o.resp)
			}
		}
		o.err = err
		done <- o
	}()

	var zero R
	select {
	case <-ctx.Done():
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-done
		return zero, false, ctx.Err()
	case o := <-done:
		if o.err != nil {
			p.log.Warn("Worker process failed", "pid", pid(c), "error", o.err)
			return zero, false, fmt.Errorf("%w: %v", ErrWorkerCrashed, o.err)
		}
		if o.resp.ID != id {
			return zero, false, fmt.Errorf("%w: response id %d for request %d", ErrWorkerCrashed, o.resp.ID, id)
		}
		if o.resp.Error != "" {
			return o.resp.Result, true, &RemoteError{Kind: o.resp.Kind, Message: o.resp.Error}
		}
		return o.resp.Result, true, nil
	}
}

func pid(c *child) int {
	if c == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Close waits for running tasks and stops every worker process.
func (p *ProcessPool[T, R]) Close() error {
	p.wg.Wait()
	p.mu.Lock()
	p.closed = true
	children := make([]*child, 0, len(p.all))
	for c := range p.all {
		children = append(children, c)
	}
	p.all = map[*child]struct{}{}
	p.mu.Unlock()
	for _, c := range children {
		_ = c.stdin.Close()
		_ = c.cmd.Wait()
	}
	return nil
}

// ServeWorker is the worker side of the process protocol: one JSON request per input line,
// one JSON response per output line, until in is exhausted.
func ServeWorker[T, R any](ctx context.Context, in io.Reader, out io.Writer, h Handler[T, R], kindOf func(error) string) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	enc := json.NewEncoder(out)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req request[T]
		var resp response[R]
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			resp.Error = "decode task: " + err.Error()
		} else {
			resp.ID = req.ID
			res, err := runHandler(ctx, h, req.Task)
			resp.Result = res
			if err != nil {
				resp.Error = err.Error()
				if kindOf != nil {
					resp.Kind = kindOf(err)
				}
			}
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return sc.Err()
}

func runHandler[T, R any](ctx context.Context, h Handler[T, R], task T) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{Val: r}
		}
	}()
	return h(ctx, task)
}
