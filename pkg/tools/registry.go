package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/provider"
)

// Registry holds the tool tree: leaves at the top level plus collapsed
// groups whose children stay out of the prompt until a reasoning step
// expands them. Large tool sets stay cheap to present until needed.
type Registry struct {
	entries []entry
	leaves  map[string]Tool
	groups  map[string]*Group
	mu      sync.RWMutex
}

// entry is one ordered slot at some level of the tree: a leaf Tool or a
// *Group.
type entry struct {
	tool  Tool
	group *Group
}

// Group is a non-leaf tool node. It starts collapsed; Expand on a View
// reveals its ordered children.
type Group struct {
	name        string
	description string
	entries     []entry
}

func NewGroup(name, description string) *Group {
	return &Group{name: name, description: description}
}

func (g *Group) Name() string        { return g.name }
func (g *Group) Description() string { return g.description }

func (g *Group) AddTool(tool Tool) *Group {
	g.entries = append(g.entries, entry{tool: tool})
	return g
}

func (g *Group) AddGroup(child *Group) *Group {
	g.entries = append(g.entries, entry{group: child})
	return g
}

// Summary is the collapsed description of a tool or group, used for the
// prompt manifest.
type Summary struct {
	Name        string
	Description string
	Expandable  bool
}

func NewRegistry() *Registry {
	return &Registry{
		leaves: make(map[string]Tool),
		groups: make(map[string]*Group),
	}
}

// Register adds a leaf tool at the top level.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.leaves[tool.Name()]; !exists {
		r.entries = append(r.entries, entry{tool: tool})
	}
	// index is flat; leaf names must be unique across the whole tree
	r.leaves[tool.Name()] = tool
}

// RegisterGroup adds a collapsed group at the top level and indexes its
// subtree so Resolve works regardless of expansion state.
func (r *Registry) RegisterGroup(group *Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{group: group})
	r.indexGroupLocked(group)
}

func (r *Registry) indexGroupLocked(group *Group) {
	r.groups[group.name] = group
	for _, e := range group.entries {
		if e.tool != nil {
			r.leaves[e.tool.Name()] = e.tool
			continue
		}
		if e.group != nil {
			r.indexGroupLocked(e.group)
		}
	}
}

// Resolve returns the leaf tool for name, or ErrNotFound.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.leaves[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return tool, nil
}

// ListTopLevel returns the collapsed manifest: every top-level leaf and
// group by name and description, in registration order.
func (r *Registry) ListTopLevel() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return summarize(r.entries)
}

func summarize(entries []entry) []Summary {
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.tool != nil {
			out = append(out, Summary{Name: e.tool.Name(), Description: e.tool.Description()})
			continue
		}
		if e.group != nil {
			out = append(out, Summary{Name: e.group.name, Description: e.group.description, Expandable: true})
		}
	}
	return out
}

// Invoke validates args against the tool's parameter schema and
// dispatches. Schema mismatches come back as an error Result wrapping
// ErrInvalidArguments so the reasoning step can retry or ask the user.
func (r *Registry) Invoke(ctx context.Context, tool Tool, args map[string]interface{}) *Result {
	if err := ValidateArguments(tool.Parameters(), args); err != nil {
		logger.WarnCF("tool", "Argument validation failed", map[string]interface{}{
			"tool":  tool.Name(),
			"error": err.Error(),
		})
		return ErrorResult(fmt.Sprintf("invalid arguments for %q: %v", tool.Name(), err)).WithError(err)
	}

	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": tool.Name(),
	})

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)
	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", tool.Name())
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{"tool": tool.Name()})
		return ErrorResult(err.Error()).WithError(err)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        tool.Name(),
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
			"tool":          tool.Name(),
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}

	return result
}

// View tracks which groups one user's reasoning has expanded. Calls are
// checked against the visible set that was presented when the call was
// proposed; a leaf outside it is a stale reference, not a dispatch.
type View struct {
	registry *Registry
	expanded map[string]bool
	mu       sync.RWMutex
}

func (r *Registry) NewView() *View {
	return &View{
		registry: r,
		expanded: make(map[string]bool),
	}
}

// Expand marks a group as expanded for this view and returns its
// children summaries. Expanding an already expanded group is a no-op
// that still returns the children.
func (v *View) Expand(name string) ([]Summary, error) {
	v.registry.mu.RLock()
	group, ok := v.registry.groups[name]
	v.registry.mu.RUnlock()
	if !ok {
		if _, leafErr := v.registry.Resolve(name); leafErr == nil {
			return nil, fmt.Errorf("%w: %q is a leaf tool", ErrNotExpandable, name)
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	v.mu.Lock()
	v.expanded[name] = true
	v.mu.Unlock()

	return summarize(group.entries), nil
}

// Visible returns every leaf tool currently reachable in this view:
// top-level leaves plus the subtrees of expanded groups.
func (v *View) Visible() []Tool {
	v.registry.mu.RLock()
	defer v.registry.mu.RUnlock()
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []Tool
	var walk func(entries []entry)
	walk = func(entries []entry) {
		for _, e := range entries {
			if e.tool != nil {
				out = append(out, e.tool)
				continue
			}
			if e.group != nil && v.expanded[e.group.name] {
				walk(e.group.entries)
			}
		}
	}
	walk(v.registry.entries)
	return out
}

// Manifest returns the prompt-facing listing for this view: collapsed
// groups shown by name with an expansion hint, expanded groups inlined.
func (v *View) Manifest() []Summary {
	v.registry.mu.RLock()
	defer v.registry.mu.RUnlock()
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []Summary
	var walk func(entries []entry)
	walk = func(entries []entry) {
		for _, e := range entries {
			if e.tool != nil {
				out = append(out, Summary{Name: e.tool.Name(), Description: e.tool.Description()})
				continue
			}
			if e.group == nil {
				continue
			}
			if v.expanded[e.group.name] {
				walk(e.group.entries)
			} else {
				out = append(out, Summary{Name: e.group.name, Description: e.group.description, Expandable: true})
			}
		}
	}
	walk(v.registry.entries)
	return out
}

// ResolveVisible resolves name against the visible set. A known leaf
// outside the visible set fails with ErrStaleReference; an unknown name
// with ErrNotFound.
func (v *View) ResolveVisible(name string) (Tool, error) {
	for _, tool := range v.Visible() {
		if tool.Name() == name {
			return tool, nil
		}
	}
	if _, err := v.registry.Resolve(name); err == nil {
		return nil, fmt.Errorf("%w: %q was not in the presented tool set", ErrStaleReference, name)
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Defs converts the visible leaves into provider tool definitions.
func (v *View) Defs() []provider.ToolDefinition {
	visible := v.Visible()
	defs := make([]provider.ToolDefinition, 0, len(visible))
	for _, tool := range visible {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}
