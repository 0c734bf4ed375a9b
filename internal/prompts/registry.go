// Package prompts serves reusable prompt templates over the MCP
// prompts surface.
package prompts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aservis/maestro/pkg/protocol"
)

var (
	ErrNotFound = errors.New("prompt not found")
	// ErrRejected marks arguments the prompt refuses to render.
	ErrRejected = errors.New("prompt rejected")
)

// Renderer produces the prompt messages for one invocation.
type Renderer func(args map[string]string) (protocol.GetPromptResult, error)

type Prompt struct {
	Name        string
	Description string
	Arguments   []protocol.PromptArgument
	Render      Renderer
}

type Registry struct {
	mu     sync.RWMutex
	byName map[string]Prompt
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Prompt)}
}

func (r *Registry) Register(p Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("prompt has no name")
	}
	if p.Render == nil {
		return fmt.Errorf("prompt %s has no renderer", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("prompt already registered: %s", p.Name)
	}
	r.byName[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

func (r *Registry) List() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Prompt, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Get(name string, args map[string]string) (protocol.GetPromptResult, error) {
	r.mu.RLock()
	p, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return protocol.GetPromptResult{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.Render(args)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
