package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// EnablementCheck decides whether a tool is available in the current
// environment. A nil check means always enabled.
type EnablementCheck func(toolName string) bool

// Registry holds the ordered set of tools available to an invocation.
// Compiled input schemas and model-facing definitions are cached; call
// Invalidate after changing the tool set.
type Registry struct {
	mu      sync.RWMutex
	ordered []Tool
	byName  map[string]Tool
	enabled EnablementCheck

	schemas     map[string]*jsonschema.Schema
	definitions []map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// SetEnablementCheck installs the environment filter and drops caches.
func (r *Registry) SetEnablementCheck(check EnablementCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = check
	r.definitions = nil
}

// Register appends a tool. Registration order is the order tools are
// presented to the model. Re-registering a name replaces the tool in place.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[tool.Name()]; exists {
		for i, t := range r.ordered {
			if t.Name() == tool.Name() {
				r.ordered[i] = tool
				break
			}
		}
	} else {
		r.ordered = append(r.ordered, tool)
	}
	r.byName[tool.Name()] = tool
	delete(r.schemas, tool.Name())
	r.definitions = nil
}

// Get returns an enabled tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	if !ok || !r.isEnabled(name) {
		return nil, false
	}
	return tool, true
}

// List returns the enabled tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.ordered))
	for _, tool := range r.ordered {
		if r.isEnabled(tool.Name()) {
			result = append(result, tool)
		}
	}
	return result
}

// Filter returns a new registry restricted by include and exclude lists.
// A nil include list means "keep everything"; exclude always wins.
func (r *Registry) Filter(include []string, exclude []string) *Registry {
	includeSet := map[string]bool{}
	for _, name := range include {
		includeSet[name] = true
	}
	excludeSet := map[string]bool{}
	for _, name := range exclude {
		excludeSet[name] = true
	}

	filtered := NewRegistry()
	for _, tool := range r.List() {
		if excludeSet[tool.Name()] {
			continue
		}
		if include != nil && !includeSet[tool.Name()] {
			continue
		}
		filtered.Register(tool)
	}
	return filtered
}

// ReadOnly returns a new registry containing only read-only tools.
func (r *Registry) ReadOnly() *Registry {
	filtered := NewRegistry()
	for _, tool := range r.List() {
		if tool.IsReadOnly() {
			filtered.Register(tool)
		}
	}
	return filtered
}

// Definitions returns the model-facing function definitions for the enabled
// tools, in registration order. The result is cached until Invalidate.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	if r.definitions != nil {
		defs := r.definitions
		r.mu.RUnlock()
		return defs
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.definitions != nil {
		return r.definitions
	}
	defs := make([]map[string]any, 0, len(r.ordered))
	for _, tool := range r.ordered {
		if !r.isEnabled(tool.Name()) {
			continue
		}
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.InputSchema(),
			},
		})
	}
	r.definitions = defs
	return defs
}

// Invalidate drops the cached definitions and compiled schemas.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions = nil
	r.schemas = make(map[string]*jsonschema.Schema)
}

// ValidateInput checks the input against the tool's JSON Schema and, when the
// tool implements InputValidator, its semantic pre-flight check.
func (r *Registry) ValidateInput(name string, input map[string]any) error {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	schema, err := r.compiledSchema(tool)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	if schema != nil {
		// Round-trip through JSON so the instance uses the generic types
		// the validator expects.
		raw, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encode input: %w", err)
		}
		var instance any
		if err := json.Unmarshal(raw, &instance); err != nil {
			return fmt.Errorf("decode input: %w", err)
		}
		if err := schema.Validate(instance); err != nil {
			return fmt.Errorf("input does not match schema: %w", err)
		}
	}
	if v, ok := tool.(InputValidator); ok {
		if err := v.ValidateInput(input); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	r.mu.RLock()
	schema, ok := r.schemas[tool.Name()]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	doc := tool.InputSchema()
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://%s.json", tool.Name())
	if err := compiler.AddResource(url, parsed); err != nil {
		return nil, err
	}
	schema, err = compiler.Compile(url)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[tool.Name()] = schema
	r.mu.Unlock()
	return schema, nil
}

func (r *Registry) isEnabled(name string) bool {
	return r.enabled == nil || r.enabled(name)
}
