package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Outcome of a trigger
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeDropped  = "dropped"
	OutcomeDisabled = "disabled"
)

// TaskIDsEnv carries the comma separated task ids of a run to the command
const TaskIDsEnv = "AGENTDASH_TASK_IDS"

// ErrQueueFull is reported for triggers dropped because every slot was taken
var ErrQueueFull = errors.New("heartbeat queue full")

// Result acknowledges one heartbeat run, or one dropped trigger
type Result struct {
	JobID    string
	TaskIDs  []string
	Outcome  string
	Duration time.Duration
	Output   string
	Err      error
}

// Config holds the configuration of the trigger pool
type Config struct {
	Command     []string
	Dir         string
	Workers     int
	QueueSize   int
	Timeout     time.Duration
	MinInterval time.Duration
	Logger      *logrus.Entry
	OnResult    func(Result)
}

// Pool runs the external heartbeat command on behalf of spawned tasks.
// Triggers queued while a run waits for the rate limiter share that run.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	jobs    chan string
	limiter *rate.Limiter
	logger  *logrus.Entry
	wg      sync.WaitGroup
	once    sync.Once
	started bool
	mu      sync.Mutex
}

// NewPool creates a pool; call Start to launch the workers
func NewPool(cfg *Config) *Pool {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	limit := rate.Inf
	if c.MinInterval > 0 {
		limit = rate.Every(c.MinInterval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     c,
		jobs:    make(chan string, c.QueueSize),
		limiter: rate.NewLimiter(limit, 1),
		logger:  c.Logger.WithField("component", "heartbeat-pool"),
	}
}

// Enabled reports whether a command is configured
func (p *Pool) Enabled() bool {
	return len(p.cfg.Command) > 0
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || !p.Enabled() {
		if !p.Enabled() {
			p.logger.Info("Heartbeat command not configured, triggers disabled")
		}
		return
	}
	p.started = true
	p.logger.Infof("Starting heartbeat pool with %d workers", p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

// Stop cancels running commands and waits for the workers
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("Heartbeat pool stopped")
	})
}

// Trigger queues a heartbeat run for taskID without blocking. It returns
// false when the pool is disabled, stopped or full.
func (p *Pool) Trigger(taskID string) bool {
	if !p.Enabled() {
		p.logger.Debugf("Heartbeat trigger for %s skipped, no command", taskID)
		p.reportAsync(Result{JobID: uuid.NewString(), TaskIDs: []string{taskID}, Outcome: OutcomeDisabled})
		return false
	}
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- taskID:
		return true
	default:
		p.logger.Warnf("Heartbeat queue full, dropping trigger for %s", taskID)
		p.reportAsync(Result{JobID: uuid.NewString(), TaskIDs: []string{taskID}, Outcome: OutcomeDropped, Err: ErrQueueFull})
		return false
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case taskID := <-p.jobs:
			if err := p.limiter.Wait(p.ctx); err != nil {
				return
			}
			p.report(p.run(p.drain([]string{taskID})))
		}
	}
}

// drain collects the triggers that queued up behind the first one
func (p *Pool) drain(batch []string) []string {
	for {
		select {
		case id := <-p.jobs:
			batch = append(batch, id)
		default:
			return batch
		}
	}
}

func (p *Pool) run(taskIDs []string) Result {
	res := Result{JobID: uuid.NewString(), TaskIDs: taskIDs}
	logger := p.logger.WithFields(logrus.Fields{"jobId": res.JobID, "tasks": len(taskIDs)})

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), TaskIDsEnv+"="+strings.Join(taskIDs, ","))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = truncate(out.String(), 2048)

	switch {
	case err == nil:
		res.Outcome = OutcomeOK
		logger.Debugf("Heartbeat run finished in %s", res.Duration)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		res.Err = ctx.Err()
		logger.Errorf("Heartbeat run timed out after %s", p.cfg.Timeout)
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		logger.Errorf("Failed to trigger heartbeat: %v", err)
	}
	return res
}

func (p *Pool) report(res Result) {
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(res)
	}
}

func (p *Pool) reportAsync(res Result) {
	if p.cfg.OnResult != nil {
		go p.cfg.OnResult(res)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
