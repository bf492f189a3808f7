// Package processor runs per-document extraction on a fixed pool of
// workers. Every task gets its own deadline; a task that overruns it is
// abandoned (and, with ExecExecutor, its child process killed) without
// disturbing the other tasks.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brensch/arxivrefs/internal/extractor"
)

// Status tags an Outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusFailed  Status = "failed"
)

var (
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrExtractionFailure = errors.New("extraction failed")
)

// Task is one document to extract.
type Task struct {
	DocumentPath string
	OutputDir    string
}

// Outcome is the tagged result of a Task.
type Outcome struct {
	Task       Task
	Status     Status
	DocumentID string
	References int
	OutputPath string
	Duration   time.Duration
	Err        error
}

// Executor performs one extraction. Implementations must return promptly
// once ctx is done.
type Executor interface {
	Execute(ctx context.Context, task Task) (extractor.Summary, error)
}

// Config sizes a Pool.
type Config struct {
	Workers int
	Timeout time.Duration
	Logger  *slog.Logger
	// OnOutcome, when set, is called for every finished task from the
	// goroutine running Pool.Run.
	OnOutcome func(Outcome)
}

// Pool is a fixed set of workers draining a task channel.
type Pool struct {
	executor Executor
	cfg      Config
}

// NewPool returns a pool running tasks through executor.
func NewPool(executor Executor, cfg Config) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{executor: executor, cfg: cfg}
}

// Run executes every task and returns one outcome per task, in completion
// order. Cancelling ctx stops dispatch; tasks not yet started come back as
// failed with the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Outcome {
	taskCh := make(chan Task)
	results := make(chan Outcome, len(tasks))

	var wg sync.WaitGroup
	workers := min(p.cfg.Workers, max(len(tasks), 1))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range taskCh {
				results <- p.runTask(ctx, workerID, task)
			}
		}(i)
	}

	go func() {
		defer close(taskCh)
		for i, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				for _, skipped := range tasks[i:] {
					results <- Outcome{
						Task:       skipped,
						Status:     StatusFailed,
						DocumentID: extractor.DocumentID(skipped.DocumentPath),
						Err:        fmt.Errorf("%w: %s not started: %w", ErrExtractionFailure, skipped.DocumentPath, ctx.Err()),
					}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(tasks))
	for outcome := range results {
		if p.cfg.OnOutcome != nil {
			p.cfg.OnOutcome(outcome)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (p *Pool) runTask(ctx context.Context, workerID int, task Task) Outcome {
	start := time.Now()
	l := p.cfg.Logger.With(slog.String("document", task.DocumentPath), slog.Int("worker", workerID))
	outcome := Outcome{Task: task, DocumentID: extractor.DocumentID(task.DocumentPath)}
	if err := ctx.Err(); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("%w: %s not started: %w", ErrExtractionFailure, task.DocumentPath, err)
		return outcome
	}

	taskCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.cfg.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}
	summary, err := p.executor.Execute(taskCtx, task)
	timedOut := errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	outcome.Duration = time.Since(start)

	switch {
	case err == nil:
		outcome.Status = StatusOK
		outcome.References = summary.References
		outcome.OutputPath = summary.OutputPath
		l.Debug("Extraction finished", "references", summary.References, "duration", outcome.Duration.Round(time.Millisecond))
	case timedOut:
		outcome.Status = StatusTimeout
		outcome.Err = fmt.Errorf("%w after %s: %s", ErrExtractionTimeout, p.cfg.Timeout, task.DocumentPath)
		l.Warn("Extraction timed out", "timeout", p.cfg.Timeout)
	default:
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("%w: %s: %w", ErrExtractionFailure, task.DocumentPath, err)
		l.Warn("Extraction failed", "error", err)
	}
	return outcome
}

// Counts tallies outcomes by status.
func Counts(outcomes []Outcome) (ok, timeouts, failures int) {
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			ok++
		case StatusTimeout:
			timeouts++
		default:
			failures++
		}
	}
	return ok, timeouts, failures
}
