package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/brensch/arxivrefs/internal/extractor"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx is
// done; WaitDelay bounds how long Run then waits for its output pipes.
type ExecRunner struct {
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// ExecExecutor extracts each document in a child process:
// <Binary> <Args...> --output-dir <dir> <pdf>. The child prints an
// extractor.Summary as its last line of stdout.
type ExecExecutor struct {
	Binary string
	Args   []string
	Runner Runner
	Logger *slog.Logger
}

// NewExecExecutor runs binary with the given leading arguments, typically
// the running executable and its hidden extract-one command.
func NewExecExecutor(binary string, args []string, logger *slog.Logger) *ExecExecutor {
	return &ExecExecutor{Binary: binary, Args: args, Runner: ExecRunner{}, Logger: logger}
}

// Execute implements Executor.
func (e *ExecExecutor) Execute(ctx context.Context, task Task) (extractor.Summary, error) {
	start := time.Now()
	args := append(slices.Clone(e.Args), "--output-dir", task.OutputDir, task.DocumentPath)
	stdout, stderr, err := e.Runner.Run(ctx, e.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return extractor.Summary{}, ctx.Err()
		}
		e.Logger.Debug("exec failed",
			"cmd", e.Binary,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return extractor.Summary{}, fmt.Errorf("child process: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 8<<10))
	}

	line := lastLine(stdout)
	var summary extractor.Summary
	if err := json.Unmarshal(line, &summary); err != nil {
		return extractor.Summary{}, fmt.Errorf("decode child summary %q: %w", truncate(string(line), 256), err)
	}
	return summary, nil
}

func lastLine(b []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	return bytes.TrimSpace(lines[len(lines)-1])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// InProcessExecutor runs the extractor in the calling process. On timeout
// the extraction goroutine is abandoned rather than killed.
type InProcessExecutor struct {
	Extractor extractor.Extractor
}

// Execute implements Executor.
func (e InProcessExecutor) Execute(ctx context.Context, task Task) (extractor.Summary, error) {
	type result struct {
		summary extractor.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := extractor.Run(ctx, e.Extractor, task.DocumentPath, task.OutputDir)
		done <- result{summary, err}
	}()
	select {
	case r := <-done:
		return r.summary, r.err
	case <-ctx.Done():
		// Run stops short of renaming once ctx is done, but a rename already
		// under way can still land; drop whatever the abandoned goroutine
		// leaves behind.
		go func() {
			if r := <-done; r.err == nil && r.summary.OutputPath != "" {
				os.Remove(r.summary.OutputPath)
			}
		}()
		return extractor.Summary{}, ctx.Err()
	}
}
