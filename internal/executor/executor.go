// Package executor runs the coding-agent CLI for a task and streams its
// output as it is produced.
package executor

import (
	"context"
	"time"
)

// Result is the outcome of one CLI run.
type Result struct {
	Success      bool
	Output       string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	Error        string
}

// Request describes a single agent invocation.
type Request struct {
	TaskID     string
	Prompt     string
	WorkingDir string
	Timeout    time.Duration
}

// Executor runs an agent task to completion. Output chunks are sent to
// out as they arrive; the channel is closed when the run ends. A nil
// error with Success=false means the agent itself failed.
type Executor interface {
	Execute(ctx context.Context, req Request, out chan<- string) (*Result, error)
}
