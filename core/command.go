package core

import (
	"errors"
	"sync"
)

// CommandHandler decodes its own arguments from the frame data and
// performs the command.
type CommandHandler func(data *[]byte) error

// Command is one entry in the host protocol dictionary. Commands carry
// handlers (host to MCU); responses carry none (MCU to host).
type Command struct {
	ID      uint16
	Name    string
	Format  string
	Handler CommandHandler
}

// CommandRegistry maps protocol IDs to handlers and keeps registration
// order for dictionary generation.
type CommandRegistry struct {
	mu      sync.RWMutex
	byID    map[uint16]*Command
	byName  map[string]uint16
	ordered []*Command
	nextID  uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		byID:   make(map[uint16]*Command),
		byName: make(map[string]uint16),
	}
}

// RegisterCommand adds a command to the global registry and returns
// its ID. Registering an existing name returns the original ID.
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse adds a response message (MCU to host) to the global
// registry.
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a command to the registry
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.byName[name]; exists {
		return id
	}

	cmd := &Command{
		ID:      r.nextID,
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.nextID++
	r.byID[cmd.ID] = cmd
	r.byName[name] = cmd.ID
	r.ordered = append(r.ordered, cmd)
	return cmd.ID
}

// Lookup retrieves a command by ID
func (r *CommandRegistry) Lookup(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byID[id]
	return cmd, ok
}

// LookupName retrieves a command by name
func (r *CommandRegistry) LookupName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Dispatch runs the handler registered for cmdID against data.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.Lookup(cmdID)
	if !ok || cmd.Handler == nil {
		return errors.New("unknown command ID: " + utoa(uint32(cmdID)))
	}
	return cmd.Handler(data)
}

// Ordered returns the commands in registration order. The returned
// slice is shared; callers must not modify it.
func (r *CommandRegistry) Ordered() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered
}

// DispatchCommand dispatches against the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// Registry returns the global command registry
func Registry() *CommandRegistry {
	return globalRegistry
}
