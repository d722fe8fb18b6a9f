package command

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/hookrelay/internal/dedup"
)

// knownBots are accounts that post automated comments and must never
// trigger the agent.
var knownBots = []string{
	"github-actions[bot]",
	"dependabot[bot]",
	"dependabot-preview[bot]",
	"renovate[bot]",
	"codecov[bot]",
	"sonarcloud[bot]",
	"mergify[bot]",
	"semantic-release-bot",
	"greenkeeper[bot]",
	"snyk-bot",
	"allcontributors[bot]",
}

// Actor identifies who produced an inbound message, in provider terms.
type Actor struct {
	Login    string // username / account name
	UserType string // provider user type, e.g. "Bot" or "User"
	BotID    string // chat bot ID, set only for bot-authored messages
}

// LoopGuard short-circuits messages that must not reach command matching:
// bot actors, the system's own account, and message IDs the dispatcher
// recorded after posting.
type LoopGuard struct {
	dedup    dedup.Store
	selfIDs  map[string]bool
	extraBot []string
}

// NewLoopGuard creates a guard. selfIDs are the system's own account/app
// identifiers per provider; extraBots extends the built-in bot list.
func NewLoopGuard(dedupStore dedup.Store, selfIDs []string, extraBots []string) *LoopGuard {
	self := make(map[string]bool, len(selfIDs))
	for _, id := range selfIDs {
		if id != "" {
			self[strings.ToLower(id)] = true
		}
	}
	return &LoopGuard{dedup: dedupStore, selfIDs: self, extraBot: extraBots}
}

// ShouldSkip reports whether the message must be dropped before matching,
// with a reason for the log line. Runs no side effects.
func (g *LoopGuard) ShouldSkip(ctx context.Context, provider, messageID string, actor Actor) (bool, string, error) {
	if g.isSelf(actor) {
		return true, "self", nil
	}
	if IsBot(actor, g.extraBot) {
		return true, "bot_actor", nil
	}
	if messageID != "" && g.dedup != nil {
		seen, err := g.dedup.Seen(ctx, provider, messageID)
		if err != nil {
			return false, "", err
		}
		if seen {
			return true, "own_posted_message", nil
		}
	}
	return false, "", nil
}

func (g *LoopGuard) isSelf(actor Actor) bool {
	if len(g.selfIDs) == 0 {
		return false
	}
	return g.selfIDs[strings.ToLower(actor.Login)] || (actor.BotID != "" && g.selfIDs[strings.ToLower(actor.BotID)])
}

// IsBot reports whether the actor looks like an automated account:
// explicit bot ID, "bot" user type, a "[bot]" login suffix, or membership
// in the known/configured bot lists.
func IsBot(actor Actor, extra []string) bool {
	if actor.BotID != "" {
		return true
	}
	if strings.EqualFold(actor.UserType, "bot") {
		return true
	}
	login := strings.ToLower(actor.Login)
	if login == "" {
		return false
	}
	if strings.HasSuffix(login, "[bot]") {
		return true
	}
	for _, b := range knownBots {
		if login == b {
			return true
		}
	}
	for _, b := range extra {
		if login == strings.ToLower(b) {
			return true
		}
	}
	return false
}
