package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubTool struct {
	name     string
	desc     string
	params   map[string]interface{}
	executed int
	result   *Result
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return t.desc }
func (t *stubTool) Parameters() map[string]interface{} {
	if t.params != nil {
		return t.params
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	t.executed++
	if t.result != nil {
		return t.result
	}
	return SuccessResult("ok")
}

func TestRegistry_ResolveTopLevelLeaf(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "remember", desc: "save a memory"})

	tool, err := r.Resolve("remember")
	if err != nil {
		t.Fatalf("expected resolve to succeed, got %v", err)
	}
	if tool.Name() != "remember" {
		t.Fatalf("resolved wrong tool %q", tool.Name())
	}

	if _, err := r.Resolve("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListTopLevelCollapsesGroups(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "interrupt", desc: "pause task"})

	group := NewGroup("alarms", "scheduling tools")
	group.AddTool(&stubTool{name: "schedule", desc: "set alarm"})
	group.AddTool(&stubTool{name: "cancel_alarm", desc: "cancel alarm"})
	r.RegisterGroup(group)

	top := r.ListTopLevel()
	if len(top) != 2 {
		t.Fatalf("expected 2 top-level entries, got %d", len(top))
	}
	if top[0].Name != "interrupt" || top[0].Expandable {
		t.Errorf("unexpected first entry %+v", top[0])
	}
	if top[1].Name != "alarms" || !top[1].Expandable {
		t.Errorf("expected collapsed expandable group, got %+v", top[1])
	}
}

func TestView_ExpandRevealsChildren(t *testing.T) {
	r := NewRegistry()
	group := NewGroup("alarms", "scheduling tools")
	group.AddTool(&stubTool{name: "schedule", desc: "set alarm"})
	r.RegisterGroup(group)

	view := r.NewView()
	if len(view.Visible()) != 0 {
		t.Fatal("expected no visible leaves before expansion")
	}

	children, err := view.Expand("alarms")
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(children) != 1 || children[0].Name != "schedule" {
		t.Fatalf("unexpected children %+v", children)
	}

	visible := view.Visible()
	if len(visible) != 1 || visible[0].Name() != "schedule" {
		t.Fatalf("expected schedule visible after expand, got %d leaves", len(visible))
	}
}

func TestView_ExpandErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "remember", desc: "save"})
	view := r.NewView()

	if _, err := view.Expand("remember"); !errors.Is(err, ErrNotExpandable) {
		t.Fatalf("expected ErrNotExpandable for leaf, got %v", err)
	}
	if _, err := view.Expand("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown name, got %v", err)
	}
}

func TestView_ResolveVisibleStaleReference(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "remember", desc: "save"})
	group := NewGroup("alarms", "scheduling tools")
	group.AddTool(&stubTool{name: "schedule", desc: "set alarm"})
	r.RegisterGroup(group)

	view := r.NewView()

	if _, err := view.ResolveVisible("remember"); err != nil {
		t.Fatalf("top-level leaf should be visible, got %v", err)
	}

	// schedule exists but its group was never expanded in this view
	if _, err := view.ResolveVisible("schedule"); !errors.Is(err, ErrStaleReference) {
		t.Fatalf("expected ErrStaleReference for unexpanded child, got %v", err)
	}

	if _, err := view.ResolveVisible("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := view.Expand("alarms"); err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if _, err := view.ResolveVisible("schedule"); err != nil {
		t.Fatalf("expected schedule visible after expand, got %v", err)
	}
}

func TestView_ManifestInlinesExpandedGroups(t *testing.T) {
	r := NewRegistry()
	group := NewGroup("alarms", "scheduling tools")
	group.AddTool(&stubTool{name: "schedule", desc: "set alarm"})
	r.RegisterGroup(group)

	view := r.NewView()
	manifest := view.Manifest()
	if len(manifest) != 1 || !manifest[0].Expandable {
		t.Fatalf("expected collapsed group in manifest, got %+v", manifest)
	}

	if _, err := view.Expand("alarms"); err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	manifest = view.Manifest()
	if len(manifest) != 1 || manifest[0].Name != "schedule" {
		t.Fatalf("expected inlined child after expand, got %+v", manifest)
	}
}

func TestView_NestedGroups(t *testing.T) {
	r := NewRegistry()
	inner := NewGroup("documents", "document tools")
	inner.AddTool(&stubTool{name: "edit_doc", desc: "edit"})
	outer := NewGroup("office", "office tools")
	outer.AddGroup(inner)
	r.RegisterGroup(outer)

	view := r.NewView()
	if _, err := view.Expand("office"); err != nil {
		t.Fatalf("expand outer: %v", err)
	}
	if len(view.Visible()) != 0 {
		t.Fatal("inner group children should stay hidden until expanded")
	}
	if _, err := view.Expand("documents"); err != nil {
		t.Fatalf("expand inner: %v", err)
	}
	visible := view.Visible()
	if len(visible) != 1 || visible[0].Name() != "edit_doc" {
		t.Fatalf("expected edit_doc visible, got %d leaves", len(visible))
	}
}

func TestRegistry_InvokeValidatesArguments(t *testing.T) {
	r := NewRegistry()
	tool := &stubTool{
		name: "schedule",
		desc: "set alarm",
		params: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"payload": map[string]interface{}{"type": "string"},
			},
			"required": []string{"payload"},
		},
	}
	r.Register(tool)

	result := r.Invoke(context.Background(), tool, map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error result for missing required argument")
	}
	if !errors.Is(result.Err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", result.Err)
	}
	if tool.executed != 0 {
		t.Fatal("tool must not execute on schema mismatch")
	}

	result = r.Invoke(context.Background(), tool, map[string]interface{}{"payload": "hi"})
	if result.IsError {
		t.Fatalf("expected success, got %s", result.ForLLM)
	}
	if tool.executed != 1 {
		t.Fatalf("expected 1 execution, got %d", tool.executed)
	}
}

func TestRegistry_InvokeNilResult(t *testing.T) {
	r := NewRegistry()
	tool := &nilResultTool{}
	r.Register(tool)

	result := r.Invoke(context.Background(), tool, map[string]interface{}{})
	if !result.IsError || !strings.Contains(result.ForLLM, "nil result") {
		t.Fatalf("expected nil-result error, got %+v", result)
	}
}

type nilResultTool struct{}

func (t *nilResultTool) Name() string        { return "broken" }
func (t *nilResultTool) Description() string { return "returns nil" }
func (t *nilResultTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *nilResultTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return nil
}

func TestView_DefsMatchVisibleSet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "remember", desc: "save"})
	group := NewGroup("alarms", "scheduling tools")
	group.AddTool(&stubTool{name: "schedule", desc: "set alarm"})
	r.RegisterGroup(group)

	view := r.NewView()
	defs := view.Defs()
	if len(defs) != 1 || defs[0].Function.Name != "remember" {
		t.Fatalf("expected only top-level leaf in defs, got %+v", defs)
	}

	if _, err := view.Expand("alarms"); err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	defs = view.Defs()
	if len(defs) != 2 {
		t.Fatalf("expected 2 defs after expand, got %d", len(defs))
	}
}
