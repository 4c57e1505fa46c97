// Package router is the main loop: it consumes inbound messages, routes
// each to its user's worker, drives the task state machine through
// completion and tool calls, and emits outbound messages.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotsetgreg/kiwid/pkg/bus"
	"github.com/dotsetgreg/kiwid/pkg/history"
	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/memory"
	"github.com/dotsetgreg/kiwid/pkg/provider"
	"github.com/dotsetgreg/kiwid/pkg/task"
	"github.com/dotsetgreg/kiwid/pkg/tools"
)

// expandToolName is the pseudo-tool the reasoning step calls to deepen
// the capability manifest. It is handled by the router itself because
// expansion mutates the per-user view, not external state.
const expandToolName = "expand_tools"

// extendHistoryName is the pseudo-tool the reasoning step calls when
// the current window is insufficient. The window grows by the
// configured increment; it never shrinks within an epoch.
const extendHistoryName = "extend_history"

const cutoffCommand = "/new"

// Options are the router's hard resource bounds. Model-suggested
// choices are advisory; these are the enforcement mechanism.
type Options struct {
	AgentName          string
	Model              string
	MaxTokens          int
	DedupeCacheSize    int
	WorkerQueueDepth   int
	MaxToolIterations  int
	MaxRetries         int
	RetryBackoff       time.Duration
	CompletionTimeout  time.Duration
	ToolTimeout        time.Duration
	DraftSweepInterval time.Duration
}

func (o *Options) fillDefaults() {
	if o.DedupeCacheSize <= 0 {
		o.DedupeCacheSize = 1024
	}
	if o.WorkerQueueDepth <= 0 {
		o.WorkerQueueDepth = 32
	}
	if o.MaxToolIterations <= 0 {
		o.MaxToolIterations = 20
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.CompletionTimeout <= 0 {
		o.CompletionTimeout = 120 * time.Second
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 60 * time.Second
	}
	if o.DraftSweepInterval <= 0 {
		o.DraftSweepInterval = 30 * time.Second
	}
}

// Router owns the inbound consume loop and one worker goroutine per
// user. Per-user state (task slot, view, history) is only mutated by
// that user's worker, so workers never contend with each other.
type Router struct {
	messageBus *bus.MessageBus
	completer  provider.Completer
	registry   *tools.Registry
	machine    *task.Machine
	mem        *memory.Service
	hist       *history.Manager
	opts       Options

	dedupe *lru.Cache[string, struct{}]

	mu      sync.Mutex
	workers map[string]chan bus.InboundMessage
	views   map[string]*tools.View
	wg      sync.WaitGroup
}

func New(messageBus *bus.MessageBus, completer provider.Completer, registry *tools.Registry,
	machine *task.Machine, mem *memory.Service, hist *history.Manager, opts Options) (*Router, error) {
	opts.fillDefaults()

	dedupe, err := lru.New[string, struct{}](opts.DedupeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Router{
		messageBus: messageBus,
		completer:  completer,
		registry:   registry,
		machine:    machine,
		mem:        mem,
		hist:       hist,
		opts:       opts,
		dedupe:     dedupe,
		workers:    make(map[string]chan bus.InboundMessage),
		views:      make(map[string]*tools.View),
	}, nil
}

// Run consumes the inbound queue until ctx is cancelled or the bus
// closes, then waits for workers to drain.
func (r *Router) Run(ctx context.Context) {
	logger.InfoC("router", "Session router started")

	// the sweeper is stopped explicitly when the consume loop exits, so
	// a closed bus alone cannot leave Run waiting on it
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	r.wg.Add(1)
	go r.sweepDrafts(sweepCtx)

	for {
		msg, ok := r.messageBus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		r.dispatch(ctx, msg)
	}
	stopSweep()

	r.mu.Lock()
	for _, ch := range r.workers {
		close(ch)
	}
	r.workers = make(map[string]chan bus.InboundMessage)
	r.mu.Unlock()
	r.wg.Wait()
	logger.InfoC("router", "Session router stopped")
}

// dispatch validates, dedupes, and hands the message to its user's
// worker. A malformed message is rejected with a notice; it never
// reaches a worker.
func (r *Router) dispatch(ctx context.Context, msg bus.InboundMessage) {
	if err := msg.Validate(); err != nil {
		logger.WarnCF("router", "Rejected malformed inbound message", map[string]interface{}{
			"id":    msg.ID,
			"error": err.Error(),
		})
		if msg.UserID != "" {
			r.messageBus.PublishOutbound(bus.SystemNotice(msg, "Sorry, that message could not be processed."))
		}
		return
	}

	// at-least-once delivery: same id seen again is a redelivery, not
	// new input
	if _, seen := r.dedupe.Get(msg.ID); seen {
		logger.DebugCF("router", "Duplicate inbound message skipped", map[string]interface{}{"id": msg.ID})
		return
	}

	ch := r.workerFor(ctx, msg.UserID)
	select {
	case ch <- msg:
		// marked seen only once enqueued; a dropped message mutated no
		// state and must stay processable on redelivery
		r.dedupe.Add(msg.ID, struct{}{})
	default:
		logger.WarnCF("router", "Worker queue full, message dropped", map[string]interface{}{
			"user": msg.UserID,
			"id":   msg.ID,
		})
		r.messageBus.PublishOutbound(bus.SystemNotice(msg, "You have too many messages in flight; please wait a moment."))
	}
}

func (r *Router) workerFor(ctx context.Context, userID string) chan bus.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.workers[userID]
	if ok {
		return ch
	}
	ch = make(chan bus.InboundMessage, r.opts.WorkerQueueDepth)
	r.workers[userID] = ch
	r.wg.Add(1)
	go r.worker(ctx, userID, ch)
	return ch
}

// worker processes one user's messages strictly in order.
func (r *Router) worker(ctx context.Context, userID string, ch chan bus.InboundMessage) {
	defer r.wg.Done()
	for msg := range ch {
		if ctx.Err() != nil {
			return
		}
		r.handle(ctx, msg)
	}
}

func (r *Router) viewFor(userID string) *tools.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[userID]
	if !ok {
		view = r.registry.NewView()
		r.views[userID] = view
	}
	return view
}

// handle runs one inbound message through command interception, prompt
// assembly, and the completion loop. Errors are reported to the user;
// nothing here may take the router process down.
func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.Kind == bus.KindChat && r.interceptCommand(ctx, msg) {
		return
	}

	if err := r.hist.Record(ctx, msg.UserID, "in", string(msg.Kind), msg.Content); err != nil {
		logger.ErrorCF("router", "Failed to record inbound history", map[string]interface{}{
			"user":  msg.UserID,
			"error": err.Error(),
		})
	}

	if r.machine.Active(msg.UserID) == nil {
		if _, err := r.machine.Begin(msg.UserID, taskGoal(msg)); err != nil {
			r.reportFailure(msg, fmt.Sprintf("could not start a task: %v", err))
			return
		}
	}

	r.runCompletionLoop(ctx, msg)
}

// interceptCommand handles control messages that bypass the reasoning
// step: draft confirmation/discard and the history cutoff command.
func (r *Router) interceptCommand(ctx context.Context, msg bus.InboundMessage) bool {
	fields := strings.Fields(strings.TrimSpace(msg.Content))

	if len(fields) == 1 && fields[0] == cutoffCommand {
		if err := r.hist.Cutoff(ctx, msg.UserID); err != nil {
			r.messageBus.PublishOutbound(bus.SystemNotice(msg, fmt.Sprintf("Could not start a new conversation: %v", err)))
			return true
		}
		r.messageBus.PublishOutbound(bus.SystemNotice(msg, "Started a new conversation. Older messages stay archived."))
		return true
	}

	if len(fields) != 2 {
		return false
	}
	verb := strings.ToLower(fields[0])
	draftID := fields[1]
	if (verb != "confirm" && verb != "discard") || !strings.HasPrefix(draftID, "draft-") {
		return false
	}

	switch verb {
	case "confirm":
		draft, err := r.mem.ConfirmDraft(ctx, msg.UserID, draftID)
		if err != nil {
			r.messageBus.PublishOutbound(bus.SystemNotice(msg, fmt.Sprintf("Could not confirm draft: %v", err)))
			return true
		}
		r.messageBus.PublishOutbound(bus.OutboundMessage{
			ID:      "msg-" + uuid.NewString(),
			UserID:  draft.UserID,
			Channel: draft.Channel,
			ChatID:  draft.ChatID,
			Kind:    bus.KindChat,
			Content: draft.Content,
		})
		_ = r.hist.Record(ctx, msg.UserID, "out", string(bus.KindChat), draft.Content)
		r.messageBus.PublishOutbound(bus.SystemNotice(msg, fmt.Sprintf("Draft %s sent.", draft.ID)))
	case "discard":
		if _, err := r.mem.DiscardDraft(ctx, msg.UserID, draftID); err != nil {
			r.messageBus.PublishOutbound(bus.SystemNotice(msg, fmt.Sprintf("Could not discard draft: %v", err)))
			return true
		}
		r.messageBus.PublishOutbound(bus.SystemNotice(msg, fmt.Sprintf("Draft %s discarded.", draftID)))
	}
	return true
}

// runCompletionLoop drives the reasoning step until it produces a final
// answer or exhausts the iteration bound. Completing a task pops the
// most recently interrupted one back to active and the loop continues
// from its snapshot.
func (r *Router) runCompletionLoop(ctx context.Context, msg bus.InboundMessage) {
	view := r.viewFor(msg.UserID)
	messages, err := r.assemble(ctx, msg, view)
	if err != nil {
		r.reportFailure(msg, fmt.Sprintf("prompt assembly failed: %v", err))
		return
	}

	for iteration := 0; iteration < r.opts.MaxToolIterations; iteration++ {
		resp, err := r.completeWithRetry(ctx, messages, r.defs(view))
		if err != nil {
			if ferr := r.machine.Fail(msg.UserID, err.Error()); ferr != nil && !errors.Is(ferr, task.ErrNoActiveTask) {
				logger.ErrorCF("router", "Failed to mark task failed", map[string]interface{}{"error": ferr.Error()})
			}
			r.reportFailure(msg, fmt.Sprintf("I could not complete that: %v", err))
			return
		}

		if len(resp.ToolCalls) == 0 {
			r.emitAnswer(ctx, msg, resp.Content)

			// a mid-plan answer leaves the task active, waiting on the
			// user; only a task with no steps left completes
			if active := r.machine.Active(msg.UserID); active != nil && active.Remaining() {
				return
			}
			resumed, err := r.machine.Complete(ctx, msg.UserID)
			if err != nil && !errors.Is(err, task.ErrNoActiveTask) {
				logger.ErrorCF("router", "Task completion failed", map[string]interface{}{
					"user":  msg.UserID,
					"error": err.Error(),
				})
				return
			}
			if resumed == nil {
				return
			}
			// re-assemble from the snapshot, not from scratch
			messages, err = r.assembleResume(ctx, msg, view, resumed)
			if err != nil {
				r.reportFailure(msg, fmt.Sprintf("could not resume %q: %v", resumed.Goal, err))
				return
			}
			continue
		}

		// decomposition: enumerated sub-goals in the response text, or
		// more than one proposed call on the first response
		if iteration == 0 {
			steps := parsePlan(resp.Content)
			if steps == nil && len(resp.ToolCalls) > 1 {
				for _, tc := range resp.ToolCalls {
					steps = append(steps, tc.Name)
				}
			}
			if steps != nil {
				if err := r.machine.SetPlan(msg.UserID, steps); err != nil && !errors.Is(err, task.ErrNoActiveTask) {
					logger.WarnCF("router", "Failed to record plan", map[string]interface{}{"error": err.Error()})
				}
			}
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			messages = append(messages, r.executeToolCall(ctx, msg, view, tc))
		}

		// an interrupt call freed the active slot; the triggering
		// message becomes the new active task
		if r.machine.Active(msg.UserID) == nil {
			if _, err := r.machine.Begin(msg.UserID, taskGoal(msg)); err != nil {
				r.reportFailure(msg, fmt.Sprintf("could not start a task: %v", err))
				return
			}
		}
	}

	if err := r.machine.Fail(msg.UserID, "tool iteration bound exceeded"); err != nil && !errors.Is(err, task.ErrNoActiveTask) {
		logger.ErrorCF("router", "Failed to mark task failed", map[string]interface{}{"error": err.Error()})
	}
	r.reportFailure(msg, "I could not finish that within the allowed number of steps.")
}

func (r *Router) assemble(ctx context.Context, msg bus.InboundMessage, view *tools.View) ([]provider.Message, error) {
	window, err := r.hist.Window(ctx, msg.UserID)
	if err != nil {
		return nil, err
	}
	// the triggering message was already recorded; it is appended as the
	// current turn, not repeated from the window
	if n := len(window); n > 0 && window[n-1].Direction == "in" && window[n-1].Content == msg.Content {
		window = window[:n-1]
	}
	memories, err := r.mem.Retrieve(ctx, msg.UserID, msg.Content, 0)
	if err != nil {
		logger.WarnCF("router", "Memory retrieval failed", map[string]interface{}{
			"user":  msg.UserID,
			"error": err.Error(),
		})
	}
	followups, err := r.mem.PendingFollowups(ctx, msg.UserID)
	if err != nil {
		logger.WarnCF("router", "Followup listing failed", map[string]interface{}{
			"user":  msg.UserID,
			"error": err.Error(),
		})
	}

	pc := &promptContext{
		agentName: r.opts.AgentName,
		manifest:  view.Manifest(),
		memories:  memories,
		followups: followups,
		active:    r.machine.Active(msg.UserID),
		window:    window,
	}
	return pc.messages(msg), nil
}

// assembleResume builds the continuation prompt for a task popped back
// to active after the one that displaced it completed.
func (r *Router) assembleResume(ctx context.Context, msg bus.InboundMessage, view *tools.View, resumed *task.Task) ([]provider.Message, error) {
	synthetic := msg
	synthetic.Kind = bus.KindSystem
	synthetic.Content = fmt.Sprintf("The interruption is handled. Continue the paused task: %s", resumed.Goal)
	return r.assemble(ctx, synthetic, view)
}

// executeToolCall resolves and runs one proposed tool call, returning
// the tool-result message fed back to the reasoning step. Resolution
// and validation failures are surfaced in that message, never dropped.
func (r *Router) executeToolCall(ctx context.Context, msg bus.InboundMessage, view *tools.View, tc provider.ToolCall) provider.Message {
	reply := func(content string) provider.Message {
		return provider.Message{Role: "tool", ToolCallID: tc.ID, Content: content}
	}

	if tc.Name == expandToolName {
		return reply(r.expand(view, tc))
	}
	if tc.Name == extendHistoryName {
		return reply(r.extendHistory(ctx, msg))
	}

	tool, err := view.ResolveVisible(tc.Name)
	if err != nil {
		logger.WarnCF("router", "Tool resolution failed", map[string]interface{}{
			"tool":  tc.Name,
			"error": err.Error(),
		})
		return reply(fmt.Sprintf("error: %v", err))
	}

	execCtx := tools.WithExecutionContext(ctx, msg.UserID, msg.Channel, msg.ChatID)
	result := r.invokeWithRetry(execCtx, tool, tc.Arguments)

	if rerr := r.machine.RecordCall(msg.UserID, task.StepCall{
		Tool:      tc.Name,
		Arguments: tc.Arguments,
		Result:    result.ForLLM,
		IsError:   result.IsError,
	}); rerr != nil && !errors.Is(rerr, task.ErrNoActiveTask) {
		logger.WarnCF("router", "Failed to record step", map[string]interface{}{"error": rerr.Error()})
	}

	if result.ForUser != "" && !result.Silent {
		r.messageBus.PublishOutbound(bus.OutboundMessage{
			ID:      "msg-" + uuid.NewString(),
			UserID:  msg.UserID,
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Kind:    bus.KindChat,
			Content: result.ForUser,
		})
		_ = r.hist.Record(ctx, msg.UserID, "out", string(bus.KindChat), result.ForUser)
	}
	return reply(result.ForLLM)
}

func (r *Router) expand(view *tools.View, tc provider.ToolCall) string {
	name, _ := tc.Arguments["name"].(string)
	children, err := view.Expand(strings.TrimSpace(name))
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tools in %s:\n", name)
	for _, s := range children {
		if s.Expandable {
			fmt.Fprintf(&b, "- %s (group): %s\n", s.Name, s.Description)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}

// invokeWithRetry runs the tool under the tool timeout, retrying
// execution failures up to the bound with doubling backoff. Validation
// and resolution errors are not retried; the arguments will not get
// better by waiting.
func (r *Router) invokeWithRetry(ctx context.Context, tool tools.Tool, args map[string]interface{}) *tools.Result {
	backoff := r.opts.RetryBackoff
	var result *tools.Result
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.ToolTimeout)
		result = r.registry.Invoke(callCtx, tool, args)
		cancel()

		if !result.IsError || errors.Is(result.Err, tools.ErrInvalidArguments) {
			return result
		}
		if attempt >= r.opts.MaxRetries {
			return result
		}
		logger.WarnCF("router", "Tool failed, retrying", map[string]interface{}{
			"tool":    tool.Name(),
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return result
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Router) completeWithRetry(ctx context.Context, messages []provider.Message, defs []provider.ToolDefinition) (*provider.Response, error) {
	opts := provider.Options{Model: r.opts.Model, MaxTokens: r.opts.MaxTokens}
	backoff := r.opts.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CompletionTimeout)
		resp, err := r.completer.Complete(callCtx, messages, defs, opts)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.opts.MaxRetries {
			logger.WarnCF("router", "Completion failed, retrying", map[string]interface{}{
				"attempt": attempt + 1,
				"backoff": backoff.String(),
				"error":   err.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// extendHistory grows the window and returns the older turns now in
// view so the reasoning step can use them immediately.
func (r *Router) extendHistory(ctx context.Context, msg bus.InboundMessage) string {
	rounds, grew, err := r.hist.Extend(ctx, msg.UserID)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if !grew {
		return "The history window is already at its maximum size."
	}
	window, err := r.hist.Window(ctx, msg.UserID)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "History window extended to %d rounds:\n", rounds)
	for _, h := range window {
		role := "user"
		if h.Direction == "out" {
			role = "assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncate(h.Content, 300))
	}
	return b.String()
}

// defs advertises the visible tools plus the router's pseudo-tools.
func (r *Router) defs(view *tools.View) []provider.ToolDefinition {
	defs := view.Defs()
	defs = append(defs, provider.ToolDefinition{
		Type: "function",
		Function: provider.ToolFunctionDefinition{
			Name:        expandToolName,
			Description: "Reveal the tools inside a collapsed tool group from the manifest.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "The group name to expand",
					},
				},
				"required": []string{"name"},
			},
		},
	})
	return append(defs, provider.ToolDefinition{
		Type: "function",
		Function: provider.ToolFunctionDefinition{
			Name:        extendHistoryName,
			Description: "Grow the visible conversation history window when more context is needed.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	})
}

func (r *Router) emitAnswer(ctx context.Context, msg bus.InboundMessage, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	r.messageBus.PublishOutbound(bus.OutboundMessage{
		ID:      "msg-" + uuid.NewString(),
		UserID:  msg.UserID,
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Kind:    bus.KindChat,
		Content: content,
	})
	if err := r.hist.Record(ctx, msg.UserID, "out", string(bus.KindChat), content); err != nil {
		logger.ErrorCF("router", "Failed to record outbound history", map[string]interface{}{
			"user":  msg.UserID,
			"error": err.Error(),
		})
	}
}

// reportFailure tells the user in plain terms. Exhausted retries never
// fail silently.
func (r *Router) reportFailure(msg bus.InboundMessage, text string) {
	r.messageBus.PublishOutbound(bus.SystemNotice(msg, text))
}

// sweepDrafts periodically expires overdue unconfirmed drafts and
// notifies their owners.
func (r *Router) sweepDrafts(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.DraftSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := r.mem.SweepExpiredDrafts(ctx)
			if err != nil {
				logger.ErrorCF("router", "Draft sweep failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			for _, d := range expired {
				r.messageBus.PublishOutbound(bus.OutboundMessage{
					ID:      "msg-" + uuid.NewString(),
					UserID:  d.UserID,
					Channel: d.Channel,
					ChatID:  d.ChatID,
					Kind:    bus.KindSystem,
					Content: fmt.Sprintf("Draft %s expired without confirmation and was discarded.", d.ID),
				})
			}
		}
	}
}

var planLinePattern = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)

// parsePlan extracts an enumerated sub-goal list from response text.
// Fewer than two items is not a plan.
func parsePlan(content string) []string {
	var steps []string
	for _, line := range strings.Split(content, "\n") {
		if m := planLinePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			steps = append(steps, m[1])
		}
	}
	if len(steps) < 2 {
		return nil
	}
	return steps
}

func taskGoal(msg bus.InboundMessage) string {
	if msg.Kind == bus.KindAlarm {
		return "handle alarm: " + msg.Content
	}
	return msg.Content
}
