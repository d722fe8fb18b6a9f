package executor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"
)

const (
	// DefaultTimeout bounds one agent run end to end.
	DefaultTimeout = time.Hour
	// maxToolResultLen truncates noisy tool output in the stream.
	maxToolResultLen = 2000
)

// ClaudeExecutor drives the claude CLI in headless stream-json mode.
// Each stdout line is a JSON envelope; text and tool events are relayed
// to the output channel, and the final result envelope carries cost and
// token usage.
type ClaudeExecutor struct {
	// Binary is the CLI executable, "claude" by default.
	Binary string
	// Model overrides the CLI's default model when set.
	Model string
	// AllowedTools restricts the agent's tool surface when set.
	AllowedTools string

	log     *slog.Logger
	parsers fastjson.ParserPool
}

// NewClaudeExecutor creates an executor using the claude binary on PATH.
func NewClaudeExecutor(log *slog.Logger) *ClaudeExecutor {
	return &ClaudeExecutor{Binary: "claude", log: log}
}

func (e *ClaudeExecutor) Execute(ctx context.Context, req Request, out chan<- string) (*Result, error) {
	defer close(out)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
		"--include-partial-messages",
	}
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	if e.AllowedTools != "" {
		args = append(args, "--allowedTools", e.AllowedTools)
	}
	args = append(args, "--", req.Prompt)

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = append(os.Environ(), "AGENT_TASK_ID="+req.TaskID)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Binary, err)
	}
	e.log.Info("agent process started", "task_id", req.TaskID, "pid", cmd.Process.Pid, "working_dir", req.WorkingDir)

	var (
		acc     strings.Builder
		accMu   sync.Mutex
		res     Result
		wg      sync.WaitGroup
		errLogs []string
	)
	emit := func(chunk string) {
		if chunk == "" {
			return
		}
		accMu.Lock()
		acc.WriteString(chunk)
		accMu.Unlock()
		select {
		case out <- chunk:
		case <-ctx.Done():
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		p := e.parsers.Get()
		defer e.parsers.Put(p)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			e.consumeLine(p, line, emit, &res)
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			errLogs = append(errLogs, line)
			emit("[LOG] " + line + "\n")
		}
	}()
	wg.Wait()

	runErr := cmd.Wait()
	accMu.Lock()
	res.Output = acc.String()
	accMu.Unlock()

	if ctx.Err() == context.DeadlineExceeded {
		res.Success = false
		res.Error = fmt.Sprintf("agent timed out after %s", timeout)
		e.log.Error("agent timeout", "task_id", req.TaskID, "timeout", timeout)
		return &res, nil
	}

	if runErr != nil {
		res.Success = false
		if res.Error == "" {
			if len(errLogs) > 0 {
				res.Error = strings.Join(errLogs, "\n")
			} else {
				res.Error = runErr.Error()
			}
		}
	} else {
		res.Success = res.Error == ""
	}

	e.log.Info("agent process finished",
		"task_id", req.TaskID, "success", res.Success,
		"cost_usd", res.CostUSD, "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	return &res, nil
}

// consumeLine interprets one stream-json envelope. Unparseable lines are
// relayed verbatim.
func (e *ClaudeExecutor) consumeLine(p *fastjson.Parser, line string, emit func(string), res *Result) {
	v, err := p.Parse(line)
	if err != nil {
		emit(line + "\n")
		return
	}

	switch string(v.GetStringBytes("type")) {
	case "assistant":
		errType := string(v.GetStringBytes("error"))
		for _, block := range v.GetArray("message", "content") {
			switch string(block.GetStringBytes("type")) {
			case "text":
				text := string(block.GetStringBytes("text"))
				if text == "" {
					continue
				}
				if errType != "" {
					res.Error = fmt.Sprintf("%s (error type: %s)", text, errType)
					continue
				}
				emit(text)
			case "tool_use":
				name := string(block.GetStringBytes("name"))
				chunk := "\n[TOOL] Using " + name + "\n"
				if cmdStr := string(block.GetStringBytes("input", "command")); cmdStr != "" {
					chunk += "  Command: " + cmdStr + "\n"
				} else if desc := string(block.GetStringBytes("input", "description")); desc != "" {
					chunk += "  " + desc + "\n"
				}
				emit(chunk)
			}
		}
	case "user":
		for _, block := range v.GetArray("message", "content") {
			if string(block.GetStringBytes("type")) != "tool_result" {
				continue
			}
			content := string(block.GetStringBytes("content"))
			if content == "" {
				continue
			}
			if len(content) > maxToolResultLen {
				content = content[:maxToolResultLen] + "\n... (truncated)"
			}
			prefix := "[TOOL RESULT]\n"
			if block.GetBool("is_error") {
				prefix = "[TOOL ERROR] "
			}
			emit(prefix + content + "\n")
		}
	case "stream_event":
		ev := v.Get("event")
		if ev != nil && string(ev.GetStringBytes("type")) == "content_block_delta" {
			if string(ev.GetStringBytes("delta", "type")) == "text_delta" {
				emit(string(ev.GetStringBytes("delta", "text")))
			}
		}
	case "result":
		res.CostUSD = v.GetFloat64("total_cost_usd")
		if res.CostUSD == 0 {
			res.CostUSD = v.GetFloat64("cost_usd")
		}
		res.InputTokens = v.GetInt("usage", "input_tokens")
		res.OutputTokens = v.GetInt("usage", "output_tokens")
		if v.GetBool("is_error") {
			if msg := string(v.GetStringBytes("result")); msg != "" {
				res.Error = msg
			}
		}
	case "content":
		emit(string(v.GetStringBytes("content")))
	}
}
