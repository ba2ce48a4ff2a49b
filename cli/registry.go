// Package cli defines the command set of the catalog command line
package cli

import (
	"context"
	"sort"
)

// Command is one sub-command. Run returns the value to print.
type Command interface {
	// Name returns the word that selects the command (e.g. "list", "get")
	Name() string

	// Usage returns a one-line description including arguments
	Usage() string

	Run(ctx context.Context, args []string) (any, error)
}

// Func adapts a function into a Command
type Func struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) (any, error)
}

func New(name, usage string, run func(ctx context.Context, args []string) (any, error)) *Func {
	return &Func{name: name, usage: usage, run: run}
}

func (f *Func) Name() string  { return f.name }
func (f *Func) Usage() string { return f.usage }

func (f *Func) Run(ctx context.Context, args []string) (any, error) {
	return f.run(ctx, args)
}

// Registry holds the available commands
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Register adds a command, replacing one with the same name
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get retrieves a command by name
func (r *Registry) Get(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

// List returns all registered commands sorted by name
func (r *Registry) List() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
