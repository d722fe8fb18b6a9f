package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
)

// DefaultPrefixes are the trigger prefixes enabled out of the box.
var DefaultPrefixes = []string{"@agent", "/agent", "@claude", "/claude"}

// Input is one normalized message offered to the matcher.
type Input struct {
	Provider  string
	MessageID string // provider message/comment ID, used for dedup lookup
	Actor     Actor
	Text      string
}

// Match is a successful command match.
type Match struct {
	Command *Command
	Prefix  string // the prefix that triggered, lowercased
	Args    string // trailing argument text, trimmed; may be empty
}

// Matcher scans normalized text for the trigger grammar:
// prefix, whitespace, a bare command word, optional argument text.
// Loop prevention runs before any matching.
type Matcher struct {
	pattern  *regexp.Regexp
	registry atomic.Pointer[Registry]
	guard    *LoopGuard
	log      *slog.Logger
}

// NewMatcher builds a matcher for the given prefixes. An empty prefix
// list falls back to DefaultPrefixes.
func NewMatcher(prefixes []string, registry *Registry, guard *LoopGuard, log *slog.Logger) (*Matcher, error) {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	// (?s) lets argument text span lines; leftmost match wins.
	expr := `(?is)(?:^|\s)(` + strings.Join(quoted, "|") + `)\s+(\w+)(?:\s+(.*))?`
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile trigger pattern: %w", err)
	}

	m := &Matcher{pattern: pattern, guard: guard, log: log}
	m.registry.Store(registry)
	return m, nil
}

// Registry returns the current command registry.
func (m *Matcher) Registry() *Registry {
	return m.registry.Load()
}

// SwapRegistry atomically replaces the command registry (hot reload).
func (m *Matcher) SwapRegistry(r *Registry) {
	m.registry.Store(r)
}

// Match runs loop prevention and then command matching on in.
// A nil match with nil error means the message is dropped silently:
// guarded, no enabled prefix, or an unregistered command word.
func (m *Matcher) Match(ctx context.Context, in Input) (*Match, error) {
	if m.guard != nil {
		skip, reason, err := m.guard.ShouldSkip(ctx, in.Provider, in.MessageID, in.Actor)
		if err != nil {
			return nil, fmt.Errorf("loop guard: %w", err)
		}
		if skip {
			m.log.Debug("message skipped by loop prevention",
				"provider", in.Provider, "message_id", in.MessageID, "reason", reason)
			return nil, nil
		}
	}

	return m.matchGrammar(in), nil
}

// MatchImplicit resolves a fixed command word for sources that carry no
// user text (alert webhooks). Loop prevention still applies; the alert
// body becomes the argument text.
func (m *Matcher) MatchImplicit(ctx context.Context, in Input, word string) (*Match, error) {
	if m.guard != nil {
		skip, reason, err := m.guard.ShouldSkip(ctx, in.Provider, in.MessageID, in.Actor)
		if err != nil {
			return nil, fmt.Errorf("loop guard: %w", err)
		}
		if skip {
			m.log.Debug("message skipped by loop prevention",
				"provider", in.Provider, "message_id", in.MessageID, "reason", reason)
			return nil, nil
		}
	}

	cmd, ok := m.Registry().Resolve(word)
	if !ok {
		m.log.Warn("implicit command not registered", "provider", in.Provider, "word", word)
		return nil, nil
	}
	return &Match{Command: cmd, Args: strings.TrimSpace(in.Text)}, nil
}

func (m *Matcher) matchGrammar(in Input) *Match {
	groups := m.pattern.FindStringSubmatch(in.Text)
	if groups == nil {
		return nil
	}

	prefix := strings.ToLower(groups[1])
	word := groups[2]
	args := strings.TrimSpace(groups[3])

	cmd, ok := m.Registry().Resolve(word)
	if !ok {
		// Valid prefix, unknown word: not an error, no reply.
		m.log.Info("unregistered command word dropped",
			"provider", in.Provider, "word", strings.ToLower(word))
		return nil
	}

	return &Match{Command: cmd, Prefix: prefix, Args: args}
}
