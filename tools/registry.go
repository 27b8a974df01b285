package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is an injected instance, one per process. There is no package
// level registry; callers construct one and pass it where it is needed.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Definition{}}
}

func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", name)
	}
	for _, param := range def.Parameters {
		switch param.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		default:
			return fmt.Errorf("tool %q: parameter %q has unknown type %q", name, param.Name, param.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	def.Name = name
	r.tools[name] = def
	return nil
}

func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ListByCategory(category string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0)
	for _, def := range r.tools {
		if def.Category == category {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalog renders the registry as natural language for the routing model:
// one block per tool with its parameter list and example invocations.
func (r *Registry) Catalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		def := r.tools[name]
		sb.WriteString(fmt.Sprintf("- %s: %s\n", def.Name, def.Description))
		for _, param := range def.Parameters {
			req := "optional"
			if param.Required {
				req = "required"
			}
			sb.WriteString(fmt.Sprintf("    %s (%s, %s)", param.Name, param.Type, req))
			if param.Description != "" {
				sb.WriteString(": " + param.Description)
			}
			sb.WriteString("\n")
		}
		for _, example := range def.Examples {
			sb.WriteString(fmt.Sprintf("    example: %v", example.Input))
			if example.Description != "" {
				sb.WriteString(" - " + example.Description)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
