// Package commands provides slash-command parsing and routing for Chupik.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args []string
	// RawArgs is everything after the command name, trimmed but otherwise
	// untouched, for commands that take free text.
	RawArgs string
	RawText string
}

// Request identifies who issued a command, where and when.
type Request struct {
	ConversationID string
	SenderID       string
	SenderName     string
	At             time.Time
}

var (
	// ErrNotACommand is returned by Parse when the message does not start
	// with the command prefix. Callers should use errors.Is to distinguish
	// this expected case from real errors.
	ErrNotACommand = errors.New("not a command (missing prefix)")
	// ErrUnknownCommand is returned by Route for a name without a handler.
	ErrUnknownCommand = errors.New("unknown command")
)

// Handler handles one command and returns the reply text. A returned error
// is an internal failure; usage mistakes are answered with help text.
type Handler func(ctx context.Context, cmd *Command, req Request) (string, error)

type route struct {
	handler Handler
	usage   string
	summary string
}

// Router routes commands to handlers.
type Router struct {
	routes map[string]route
	prefix string
}

// NewRouter creates a new command router.
func NewRouter(prefix string) *Router {
	return &Router{
		routes: make(map[string]route),
		prefix: prefix,
	}
}

// Register registers a command handler with the usage line and summary
// shown by Help.
func (r *Router) Register(command, usage, summary string, handler Handler) {
	r.routes[command] = route{handler: handler, usage: usage, summary: summary}
}

// Parse parses a message into a command. A "@botname" suffix on the command
// name is ignored.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	name := parts[0]
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return &Command{
		Name:    strings.ToLower(name),
		Args:    parts[1:],
		RawArgs: strings.TrimSpace(strings.TrimPrefix(text, parts[0])),
		RawText: text,
	}, nil
}

// Route parses text and runs the matching handler.
func (r *Router) Route(ctx context.Context, text string, req Request) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	rt, ok := r.routes[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	return rt.handler(ctx, cmd, req)
}

// Help lists the registered commands alphabetically.
func (r *Router) Help() string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("🤖 What I understand:\n\n")
	for _, name := range names {
		rt := r.routes[name]
		fmt.Fprintf(&sb, "%s%s — %s\n", r.prefix, rt.usage, rt.summary)
	}
	sb.WriteString("\nYou can also just talk to me: mention me or reply to one of my messages.")
	return sb.String()
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
