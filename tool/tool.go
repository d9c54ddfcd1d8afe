// Package tool implements the Tool Dispatcher (C1): an in-process,
// name-keyed registry of Tools, immutable after construction, generalizing
// the teacher's Capability/RegisterCapability pattern in the now-absorbed
// core/tool.go from an HTTP-exposed capability to a directly-dispatched
// in-process call.
package tool

import (
	"context"
	"fmt"
	"sync"
)

// Parameter describes one argument a Tool accepts.
type Parameter struct {
	Name     string
	Type     string
	Required bool
	Default  interface{}
}

// Tool is one dispatchable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Dispatcher looks up and invokes tools by name, per spec.md §4.6's
// `execute(call) → result | error` contract. The registry is immutable
// after construction: tools may only be added via New/Register before the
// Dispatcher is shared.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
	built bool
}

// New constructs a Dispatcher from an initial tool set.
func New(tools ...Tool) *Dispatcher {
	d := &Dispatcher{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		d.tools[t.Name()] = t
	}
	d.built = true
	return d
}

// Execute dispatches a named call to its registered Tool.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return t.Execute(ctx, args)
}

// List returns the registered tool names.
func (d *Dispatcher) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	return names
}

// Describe returns a Tool's declared parameter schema, used to advertise
// tools to the LLM Adapter's complete_with_tools surface.
func (d *Dispatcher) Describe(name string) (description string, params []Parameter, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, found := d.tools[name]
	if !found {
		return "", nil, false
	}
	return t.Description(), t.Parameters(), true
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
