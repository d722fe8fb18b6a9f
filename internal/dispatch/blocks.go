package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// Block is one chat Block Kit element.
type Block map[string]any

func section(text string) Block {
	return Block{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(texts ...string) Block {
	elements := make([]any, 0, len(texts))
	for _, t := range texts {
		elements = append(elements, map[string]any{"type": "mrkdwn", "text": t})
	}
	return Block{"type": "context", "elements": elements}
}

// BuildCompletionBlocks renders the notification for a terminal task:
// header, truncated result or error, cost context, routing context, and
// approval controls when the command requires them.
func BuildCompletionBlocks(task *store.Task) []Block {
	var blocks []Block

	statusEmoji, statusText := "✅", "Completed"
	if task.Status == store.TaskFailed {
		statusEmoji, statusText = "❌", "Failed"
	}
	blocks = append(blocks, section(fmt.Sprintf(
		"%s *Task %s*\n*Source:* %s\n*Command:* %s\n*Task ID:* `%s`",
		statusEmoji, statusText, task.Source.Provider, task.Source.Command, task.ID)))

	if task.Status == store.TaskCompleted && task.Result != "" {
		body := Truncate(task.Result, MaxChatBlockText-20)
		blocks = append(blocks, section("*Result:*\n```"+body+"```"))
	}
	if task.Error != "" {
		body := Truncate(task.Error, MaxChatBlockText-20)
		blocks = append(blocks, section("*Error:*\n```"+body+"```"))
	}

	if task.CostUSD > 0 {
		blocks = append(blocks, contextBlock(fmt.Sprintf("💰 Cost: $%.4f", task.CostUSD)))
	}

	if routingLine := describeRouting(task.Source.Routing); routingLine != "" {
		blocks = append(blocks, contextBlock(routingLine))
	}

	if task.Source.RequiresApproval && task.Status == store.TaskCompleted {
		blocks = append(blocks, buildApprovalActions(task))
	}
	return blocks
}

func describeRouting(r store.RoutingMetadata) string {
	var parts []string
	if r.Repo != "" {
		parts = append(parts, "*Repo:* "+r.Repo)
	}
	if r.PRNumber > 0 {
		parts = append(parts, fmt.Sprintf("*PR:* #%d", r.PRNumber))
	}
	if r.IssueNum > 0 {
		parts = append(parts, fmt.Sprintf("*Issue:* #%d", r.IssueNum))
	}
	if r.TicketKey != "" {
		parts = append(parts, "*Ticket:* "+r.TicketKey)
	}
	if r.MonitorID != "" {
		parts = append(parts, "*Monitor issue:* "+r.MonitorID)
	}
	return strings.Join(parts, " | ")
}

// buildApprovalActions emits approve/review/reject buttons. Each button
// value carries enough context to resume the flow from the interaction
// callback alone.
func buildApprovalActions(task *store.Task) Block {
	payload := map[string]any{
		"original_task_id": task.ID,
		"command":          task.Source.Command,
		"source":           task.Source.Provider,
		"routing":          task.Source.Routing,
	}
	value := func(action string) string {
		payload["action"] = action
		b, _ := json.Marshal(payload)
		return string(b)
	}
	button := func(label, style, actionID, action string) map[string]any {
		btn := map[string]any{
			"type":      "button",
			"text":      map[string]any{"type": "plain_text", "text": label, "emoji": true},
			"action_id": actionID,
			"value":     value(action),
		}
		if style != "" {
			btn["style"] = style
		}
		return btn
	}
	return Block{
		"type": "actions",
		"elements": []any{
			button("✅ Approve", "primary", "approve_task", "approve"),
			button("👀 Review", "", "review_task", "review"),
			button("❌ Reject", "danger", "reject_task", "reject"),
		},
	}
}
