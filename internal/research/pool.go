// Package research runs bounded-concurrency background research spawns: an
// AI invocation on a side question that writes its answer to a file while
// the main iteration loop continues (spec.md §4.9).
package research

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentloop/loopctl/internal/invoker"
)

// Job describes one research spawn request.
type Job struct {
	Topic      string
	Prompt     string
	OutputDir  string
	Timeout    time.Duration
	Invocation invoker.Config
}

// Handle identifies a running or finished spawn.
type Handle struct {
	ID         string
	Topic      string
	OutputFile string
	StartedAt  time.Time
}

// Status reports a spawn's terminal state once it finishes.
type Status struct {
	Handle
	FinishedAt time.Time
	ExitCode   int
	TimedOut   bool
	Err        error
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a topic into a filesystem-safe token, e.g. "Redis eviction
// policy?" -> "redis-eviction-policy". A topic with no letters or digits
// yields "topic".
func Slugify(topic string) string {
	s := strings.ToLower(strings.TrimSpace(topic))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "topic"
	}
	return s
}

// Pool runs research jobs with a caller-specified concurrency cap, enforced
// via errgroup.Group.SetLimit (the pattern this module's reference project
// uses for bounding concurrent goroutines).
type Pool struct {
	maxConcurrent int

	mu       sync.Mutex
	cond     *sync.Cond
	group    *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	active   map[string]*Handle
	results  map[string]*Status
	unseen   []string // ids finished since the last WaitAny drained them
}

// New creates a pool capped at maxConcurrent simultaneous spawns.
func New(maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	p := &Pool{maxConcurrent: maxConcurrent}
	p.cond = sync.NewCond(&p.mu)
	p.reset()
	return p
}

func (p *Pool) reset() {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	p.group = g
	p.ctx = gctx
	p.cancel = cancel
	p.active = make(map[string]*Handle)
	p.results = make(map[string]*Status)
	p.unseen = nil
}

// Spawn starts job in the background. While the pool is at its concurrency
// cap, Spawn blocks until a running job finishes and frees a slot.
func (p *Pool) Spawn(job Job) (*Handle, error) {
	if job.OutputDir == "" {
		return nil, fmt.Errorf("research: OutputDir is required")
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("research: creating output dir: %w", err)
	}

	id := uuid.NewString()
	slug := Slugify(job.Topic)
	if slug == "" {
		slug = "topic"
	}
	outputFile := filepath.Join(job.OutputDir, fmt.Sprintf("%s-%s.md", slug, id[:8]))

	handle := &Handle{ID: id, Topic: job.Topic, OutputFile: outputFile, StartedAt: time.Now()}

	p.mu.Lock()
	p.active[id] = handle
	p.mu.Unlock()

	p.group.Go(func() error {
		status := p.run(job, handle)
		p.mu.Lock()
		delete(p.active, id)
		p.results[id] = status
		p.unseen = append(p.unseen, id)
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil // errors are carried in Status, not propagated to the group
	})

	return handle, nil
}

func (p *Pool) run(job Job, handle *Handle) *Status {
	timeout := job.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	f, err := os.Create(handle.OutputFile)
	if err != nil {
		return &Status{Handle: *handle, FinishedAt: time.Now(), Err: err}
	}
	defer f.Close()

	fmt.Fprintf(f, "# Research: %s\n\n", job.Topic)

	invCfg := job.Invocation
	invCfg.Timeout = timeout

	result, err := invoker.Run(p.ctx, invCfg, job.Prompt, f, nil)
	status := &Status{Handle: *handle, FinishedAt: time.Now()}
	if err != nil {
		status.Err = err
		return status
	}
	status.ExitCode = result.ExitCode
	status.TimedOut = result.TimedOut
	if result.TimedOut {
		fmt.Fprintf(f, "\n\n[research timed out after %s]\n", timeout)
	}
	return status
}

// ActiveCount returns the number of spawns currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Active returns a snapshot of currently running handles.
func (p *Pool) Active() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.active))
	for _, h := range p.active {
		out = append(out, *h)
	}
	return out
}

// WaitAny blocks until at least one spawn finishes since the last call (or
// since Spawn, if none have finished yet), or ctx is canceled, returning the
// status of one finished spawn.
func (p *Pool) WaitAny(ctx context.Context) (*Status, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-stop:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.unseen) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.cond.Wait()
	}

	id := p.unseen[0]
	p.unseen = p.unseen[1:]
	return p.results[id], nil
}

// WaitAll blocks until every currently spawned job has finished.
func (p *Pool) WaitAll(ctx context.Context) ([]Status, error) {
	doneCh := make(chan struct{})
	go func() {
		p.group.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.results))
	for _, s := range p.results {
		out = append(out, *s)
	}
	return out, nil
}

// KillAll cancels every running spawn and drains the group. The pool is left
// usable for further Spawn calls after KillAll returns, matching Reset's
// contract.
func (p *Pool) KillAll() {
	p.cancel()
	p.group.Wait()
	p.Reset()
}

// Reset discards all tracked state (active and finished) and prepares the
// pool for a fresh batch of spawns, per spec.md §4.9's reset operation.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
