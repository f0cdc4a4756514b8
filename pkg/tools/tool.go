// Package tools defines the tool abstraction exposed over transports: a named
// operation with a description, a JSON schema for its arguments and an
// Execute method taking JSON arguments.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is one callable operation.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "navigate")
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// Schema returns the JSON schema for this tool's input parameters
	Schema() map[string]interface{}

	// Execute runs the tool with JSON arguments and returns a JSON-encodable result
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Descriptor is the listing form of a Tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"input_schema"`
}

// Describe returns the descriptor of t.
func Describe(t Tool) Descriptor {
	return Descriptor{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
}

// BaseToolSchema creates a common JSON schema structure for a tool
// with the given properties and required fields
func BaseToolSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Property builds one schema property.
func Property(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// Enum builds a string property restricted to values.
func Enum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description, "enum": values}
}

// ArgumentError reports arguments that do not fit a tool's schema.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// UnknownToolError is returned for names that are not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// DecodeArgs unmarshals args into v, rejecting unknown fields. Empty args
// decode as an empty object.
func DecodeArgs(tool string, args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ArgumentError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

// checkRequired verifies that every required property in schema is present
// in args and not null.
func checkRequired(tool string, schema map[string]interface{}, args json.RawMessage) error {
	required, _ := schema["required"].([]string)
	if len(required) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Unmarshal(args, &fields); err != nil {
			return &ArgumentError{Tool: tool, Reason: "arguments must be a JSON object"}
		}
	}
	var missing []string
	for _, name := range required {
		v, ok := fields[name]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ArgumentError{Tool: tool, Reason: "missing required field(s): " + strings.Join(missing, ", ")}
	}
	return nil
}

// Registry holds tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding ts.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool's descriptor sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Describe(t))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates required arguments and runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	if err := checkRequired(name, t.Schema(), args); err != nil {
		return nil, err
	}
	return t.Execute(ctx, args)
}
