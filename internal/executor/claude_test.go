package executor

import (
	"strings"
	"testing"

	"github.com/valyala/fastjson"
)

func consume(t *testing.T, lines []string) (string, *Result) {
	t.Helper()
	e := &ClaudeExecutor{}
	var p fastjson.Parser
	var sb strings.Builder
	var res Result
	emit := func(chunk string) { sb.WriteString(chunk) }
	for _, line := range lines {
		e.consumeLine(&p, line, emit, &res)
	}
	return sb.String(), &res
}

func TestConsumeLine_AssistantText(t *testing.T) {
	out, _ := consume(t, []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the test"}]}}`,
	})
	if out != "Looking at the test" {
		t.Errorf("out = %q", out)
	}
}

func TestConsumeLine_ToolUseAndResult(t *testing.T) {
	out, _ := consume(t, []string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","content":"ok","is_error":false}]}}`,
	})
	if !strings.Contains(out, "[TOOL] Using Bash") || !strings.Contains(out, "Command: go test ./...") {
		t.Errorf("tool use missing: %q", out)
	}
	if !strings.Contains(out, "[TOOL RESULT]\nok") {
		t.Errorf("tool result missing: %q", out)
	}
}

func TestConsumeLine_ToolErrorTruncated(t *testing.T) {
	long := strings.Repeat("x", maxToolResultLen+10)
	out, _ := consume(t, []string{
		`{"type":"user","message":{"content":[{"type":"tool_result","content":"` + long + `","is_error":true}]}}`,
	})
	if !strings.Contains(out, "[TOOL ERROR] ") {
		t.Errorf("error prefix missing: %q", out[:40])
	}
	if !strings.Contains(out, "... (truncated)") {
		t.Error("long result not truncated")
	}
}

func TestConsumeLine_StreamDelta(t *testing.T) {
	out, _ := consume(t, []string{
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"tial"}}}`,
	})
	if out != "partial" {
		t.Errorf("out = %q", out)
	}
}

func TestConsumeLine_ResultEnvelope(t *testing.T) {
	_, res := consume(t, []string{
		`{"type":"result","total_cost_usd":0.42,"usage":{"input_tokens":1200,"output_tokens":345}}`,
	})
	if res.CostUSD != 0.42 || res.InputTokens != 1200 || res.OutputTokens != 345 {
		t.Errorf("result = %+v", res)
	}
}

func TestConsumeLine_ErrorResult(t *testing.T) {
	_, res := consume(t, []string{
		`{"type":"result","is_error":true,"result":"credit balance too low"}`,
	})
	if res.Error != "credit balance too low" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestConsumeLine_NonJSONPassthrough(t *testing.T) {
	out, _ := consume(t, []string{"plain progress line"})
	if out != "plain progress line\n" {
		t.Errorf("out = %q", out)
	}
}
