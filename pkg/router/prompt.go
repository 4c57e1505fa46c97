package router

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/kiwid/pkg/bus"
	"github.com/dotsetgreg/kiwid/pkg/memory"
	"github.com/dotsetgreg/kiwid/pkg/provider"
	"github.com/dotsetgreg/kiwid/pkg/task"
	"github.com/dotsetgreg/kiwid/pkg/tools"
)

// promptContext is everything prompt assembly pulls together for one
// reasoning step: capability manifest, recalled memories, pending
// followups, active task state, and the visible history window.
type promptContext struct {
	agentName string
	manifest  []tools.Summary
	memories  []memory.Entry
	followups []memory.Reminder
	active    *task.Task
	window    []memory.HistoryMessage
}

func (p *promptContext) systemPrompt() string {
	var b strings.Builder

	name := p.agentName
	if name == "" {
		name = "kiwid"
	}
	fmt.Fprintf(&b, "You are %s, a long-running personal assistant.\n", name)
	b.WriteString("You converse with one user at a time, remember durable facts with the remember tool, ")
	b.WriteString("schedule reminders, and work through multi-step tasks one step at a time.\n")
	b.WriteString("To pause the current task for something more urgent, call the interrupt tool; ")
	b.WriteString("call resume to pick the paused task back up.\n\n")

	if len(p.manifest) > 0 {
		b.WriteString("## Available tools\n")
		for _, s := range p.manifest {
			if s.Expandable {
				fmt.Fprintf(&b, "- %s (group): %s Call %s with {\"name\": %q} to see its tools.\n",
					s.Name, s.Description, expandToolName, s.Name)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
		b.WriteString("\n")
	}

	if p.active != nil {
		b.WriteString("## Current task\n")
		fmt.Fprintf(&b, "Goal: %s\n", p.active.Goal)
		if p.active.InterruptReason != "" {
			fmt.Fprintf(&b, "This task was previously paused (%s) and has just been resumed.\n", p.active.InterruptReason)
		}
		for i, step := range p.active.Steps {
			marker := " "
			if step.Done {
				marker = "x"
			} else if i == p.active.CurrentStep {
				marker = ">"
			}
			fmt.Fprintf(&b, "[%s] step %d: %s\n", marker, i+1, step.Description)
			for _, call := range step.Calls {
				fmt.Fprintf(&b, "    %s -> %s\n", call.Tool, truncate(call.Result, 200))
			}
		}
		b.WriteString("\n")
	}

	if len(p.memories) > 0 {
		b.WriteString("## What you remember about this user\n")
		for _, e := range p.memories {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Kind, e.Content)
		}
		b.WriteString("\n")
	}

	if len(p.followups) > 0 {
		b.WriteString("## Pending followups\n")
		for _, f := range p.followups {
			fmt.Fprintf(&b, "- (%s) %s\n", f.ID, f.Content)
		}
		b.WriteString("Resolve a followup with resolve_followup once it is handled.\n\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// messages assembles the full prompt: system context, the visible
// window in chronological order, then the triggering message.
func (p *promptContext) messages(current bus.InboundMessage) []provider.Message {
	msgs := make([]provider.Message, 0, len(p.window)+2)
	msgs = append(msgs, provider.Message{Role: "system", Content: p.systemPrompt()})

	for _, h := range p.window {
		role := "user"
		if h.Direction == "out" {
			role = "assistant"
		}
		msgs = append(msgs, provider.Message{Role: role, Content: h.Content})
	}

	content := current.Content
	if current.Kind == bus.KindAlarm {
		content = fmt.Sprintf("[alarm fired] %s", current.Content)
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: content})
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
