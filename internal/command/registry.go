// Package command implements the trigger-command grammar: a static command
// registry, text matching against configured prefixes, and the
// loop-prevention checks that keep the system from re-triggering on its
// own replies.
package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Command is one registered trigger command. Loaded at startup, immutable
// thereafter; registry reloads swap the whole registry pointer.
type Command struct {
	Name             string   `json:"name"`
	Aliases          []string `json:"aliases,omitempty"`
	TargetAgent      string   `json:"target_agent"`
	RequiresApproval bool     `json:"requires_approval,omitempty"`
	Priority         int      `json:"priority,omitempty"` // queue score, lower dequeues first
}

// Registry resolves command words (including aliases) case-insensitively.
type Registry struct {
	commands []Command
	byWord   map[string]*Command
}

// NewRegistry builds a registry from cmds. Duplicate words across names
// and aliases are rejected.
func NewRegistry(cmds []Command) (*Registry, error) {
	r := &Registry{
		commands: make([]Command, len(cmds)),
		byWord:   make(map[string]*Command),
	}
	copy(r.commands, cmds)

	for i := range r.commands {
		c := &r.commands[i]
		if c.Name == "" {
			return nil, fmt.Errorf("command %d has no name", i)
		}
		words := append([]string{c.Name}, c.Aliases...)
		for _, w := range words {
			lw := strings.ToLower(w)
			if prev, ok := r.byWord[lw]; ok {
				return nil, fmt.Errorf("command word %q registered for both %q and %q", lw, prev.Name, c.Name)
			}
			r.byWord[lw] = c
		}
	}
	return r, nil
}

// Resolve returns the command for word, matching name or alias
// case-insensitively.
func (r *Registry) Resolve(word string) (*Command, bool) {
	c, ok := r.byWord[strings.ToLower(word)]
	return c, ok
}

// Commands returns the registered commands in load order.
func (r *Registry) Commands() []Command {
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// DefaultCommands is the built-in command set used when no registry file
// is configured.
func DefaultCommands() []Command {
	return []Command{
		{Name: "analyze", Aliases: []string{"investigate"}, TargetAgent: "analyze", Priority: 5},
		{Name: "review", Aliases: []string{"check"}, TargetAgent: "review", Priority: 5},
		{Name: "fix", Aliases: []string{"bug", "bugfix"}, TargetAgent: "bug-fix", Priority: 3},
		{Name: "implement", Aliases: []string{"code", "build"}, TargetAgent: "coding", RequiresApproval: true, Priority: 5},
		{Name: "help", TargetAgent: "planning", Priority: 9},
	}
}

// LoadCommandsFile reads a JSON command registry file.
func LoadCommandsFile(path string) ([]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commands file: %w", err)
	}
	var cmds []Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("parse commands file %s: %w", path, err)
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("commands file %s is empty", path)
	}
	return cmds, nil
}
