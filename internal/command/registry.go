// Package command exposes engine operations as named commands.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCommand is returned by Call for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// Handler executes a command with its positional arguments.
type Handler func(ctx context.Context, args []string) (interface{}, error)

// Command describes one registered command.
type Command struct {
	Name string   `json:"name"`
	Help string   `json:"help"`
	Args []string `json:"args,omitempty"`
	// Variadic allows any number of arguments after Args.
	Variadic bool `json:"variadic,omitempty"`

	handler Handler
}

// Registry maps command names to handlers.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]*Command)}
}

// Register adds or replaces a command.
func (r *Registry) Register(cmd Command, h Handler) {
	cmd.handler = h
	r.mu.Lock()
	r.cmds[cmd.Name] = &cmd
	r.mu.Unlock()
}

// Commands lists registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named command after checking its arity. Arity failures are
// returned as *ArgumentError.
func (r *Registry) Call(ctx context.Context, name string, args []string) (interface{}, error) {
	r.mu.RLock()
	cmd, ok := r.cmds[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	switch {
	case cmd.Variadic && len(args) < len(cmd.Args):
		return nil, &ArgumentError{Command: name, Want: len(cmd.Args), Got: len(args), AtLeast: true}
	case !cmd.Variadic && len(args) != len(cmd.Args):
		return nil, &ArgumentError{Command: name, Want: len(cmd.Args), Got: len(args)}
	}
	return cmd.handler(ctx, args)
}

// ArgumentError reports a wrong number of arguments.
type ArgumentError struct {
	Command string
	Want    int
	Got     int
	AtLeast bool
}

func (e *ArgumentError) Error() string {
	if e.AtLeast {
		return fmt.Sprintf("%s: expected at least %d argument(s), got %d", e.Command, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: expected %d argument(s), got %d", e.Command, e.Want, e.Got)
}
