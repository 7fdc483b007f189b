package agent

import (
	"sort"
	"sync"
)

// Persona describes a named sub-agent: a system prompt fragment, the tools
// it may use and an optional model override.
type Persona struct {
	Name         string
	SystemPrompt string
	// Tools is the whitelist of tool names. A single "*" entry inherits
	// every tool the parent makes available.
	Tools []string
	Model string
}

// InheritsAllTools reports whether the whitelist is the wildcard.
func (p *Persona) InheritsAllTools() bool {
	return len(p.Tools) == 1 && p.Tools[0] == "*"
}

// PersonaRegistry resolves sub-agent personas by name.
type PersonaRegistry struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

// NewPersonaRegistry creates a registry seeded with the built-in personas.
func NewPersonaRegistry() *PersonaRegistry {
	r := &PersonaRegistry{personas: make(map[string]*Persona)}
	r.Register(&Persona{
		Name:         "general-purpose",
		SystemPrompt: "You are a capable software engineering agent. Complete the delegated task and report your findings concisely.",
		Tools:        []string{"*"},
	})
	r.Register(&Persona{
		Name:         "explore",
		SystemPrompt: "You are a codebase exploration agent. Find and report the relevant files, symbols and behaviors. Do not modify anything.",
		Tools:        []string{"read_file", "list_dir", "glob", "grep"},
	})
	r.Register(&Persona{
		Name:         "plan",
		SystemPrompt: "You are a planning agent. Investigate the task and produce a concrete step-by-step implementation plan. Do not modify anything.",
		Tools:        []string{"read_file", "list_dir", "glob", "grep"},
	})
	return r
}

// Register adds or replaces a persona.
func (r *PersonaRegistry) Register(p *Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.Name] = p
}

// Get resolves a persona by name.
func (r *PersonaRegistry) Get(name string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[name]
	return p, ok
}

// Names returns the registered persona names, sorted.
func (r *PersonaRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
