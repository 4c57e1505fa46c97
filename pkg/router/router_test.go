package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/kiwid/pkg/bus"
	"github.com/dotsetgreg/kiwid/pkg/history"
	"github.com/dotsetgreg/kiwid/pkg/memory"
	"github.com/dotsetgreg/kiwid/pkg/provider"
	"github.com/dotsetgreg/kiwid/pkg/task"
	"github.com/dotsetgreg/kiwid/pkg/tools"
)

type scriptStep struct {
	resp *provider.Response
	err  error
}

// fakeCompleter replays a scripted sequence of responses and records
// every prompt it was given.
type fakeCompleter struct {
	mu    sync.Mutex
	steps []scriptStep
	calls [][]provider.Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []provider.Message, _ []provider.ToolDefinition, _ provider.Options) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if len(f.steps) == 0 {
		return &provider.Response{Content: "done"}, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.resp, s.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) lastCall() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func reply(content string) scriptStep {
	return scriptStep{resp: &provider.Response{Content: content}}
}

func callTool(name string, args map[string]interface{}) scriptStep {
	return scriptStep{resp: &provider.Response{ToolCalls: []provider.ToolCall{
		{ID: "call-" + name, Type: "function", Name: name, Arguments: args},
	}}}
}

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo text back." }
func (e *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
	}
}
func (e *echoTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	return tools.SilentResult(fmt.Sprintf("echo: %v", args["text"]))
}

type fixture struct {
	bus     *bus.MessageBus
	router  *Router
	machine *task.Machine
	mem     *memory.Service
	store   *memory.SQLiteStore
}

func newFixture(t *testing.T, fc provider.Completer, draftTTL time.Duration,
	build func(reg *tools.Registry, machine *task.Machine, mem *memory.Service)) *fixture {
	t.Helper()
	return newFixtureQueueDepth(t, fc, draftTTL, 0, build)
}

func newFixtureQueueDepth(t *testing.T, fc provider.Completer, draftTTL time.Duration, queueDepth int,
	build func(reg *tools.Registry, machine *task.Machine, mem *memory.Service)) *fixture {
	t.Helper()

	store, err := memory.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mem := memory.NewService(store, nil, 6, 50, draftTTL)
	hist := history.NewManager(store, 3, 3, 30)
	machine := task.NewMachine(store, 4)
	reg := tools.NewRegistry()
	if build != nil {
		build(reg, machine, mem)
	}

	mb := bus.NewMessageBus()
	r, err := New(mb, fc, reg, machine, mem, hist, Options{
		AgentName:          "kiwid-test",
		Model:              "test-model",
		WorkerQueueDepth:   queueDepth,
		MaxRetries:         1,
		RetryBackoff:       5 * time.Millisecond,
		CompletionTimeout:  time.Second,
		ToolTimeout:        time.Second,
		DraftSweepInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		mb.Close()
		<-done
	})

	return &fixture{bus: mb, router: r, machine: machine, mem: mem, store: store}
}

func (f *fixture) waitOutbound(t *testing.T, timeout time.Duration) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.bus.SubscribeOutbound(ctx)
}

func (f *fixture) mustOutbound(t *testing.T) bus.OutboundMessage {
	t.Helper()
	msg, ok := f.waitOutbound(t, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for outbound message")
	}
	return msg
}

func TestSimpleMessageCompletesTask(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{reply("hello there")}}
	f := newFixture(t, fc, time.Minute, nil)

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "hi"))

	out := f.mustOutbound(t)
	if out.Kind != bus.KindChat || out.Content != "hello there" {
		t.Fatalf("unexpected outbound: %+v", out)
	}
	if out.UserID != "u1" || out.Channel != "test" || out.ChatID != "c1" {
		t.Fatalf("outbound not addressed to the inbound transport: %+v", out)
	}
	if f.machine.Active("u1") != nil {
		t.Fatal("task should be completed after the final answer")
	}
}

func TestInterruptThenAutoResume(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{
		// M1: enumerated plan plus the first tool call
		{resp: &provider.Response{
			Content: "1. gather sources\n2. summarize findings\n3. write the report",
			ToolCalls: []provider.ToolCall{
				{ID: "call-1", Type: "function", Name: "echo", Arguments: map[string]interface{}{"text": "sources"}},
			},
		}},
		reply("I have started the research and will keep going."),
		// M2: explicit self-interruption, then the quick answer
		callTool("interrupt", map[string]interface{}{"reason": "user asked a quick question"}),
		reply("The answer is 42."),
		// continuation of the resumed task
		reply("Back to the research now."),
	}}
	f := newFixture(t, fc, time.Minute, func(reg *tools.Registry, machine *task.Machine, _ *memory.Service) {
		reg.Register(&echoTool{})
		reg.Register(tools.NewInterruptTool(machine))
		reg.Register(tools.NewResumeTool(machine))
	})

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "research the history of kiwis"))
	first := f.mustOutbound(t)
	if !strings.Contains(first.Content, "started the research") {
		t.Fatalf("unexpected first answer: %q", first.Content)
	}

	m1 := f.machine.Active("u1")
	if m1 == nil || !m1.Remaining() {
		t.Fatalf("expected the research task to stay active mid-plan, got %+v", m1)
	}

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "quick: what is 6 times 7?"))
	second := f.mustOutbound(t)
	if second.Content != "The answer is 42." {
		t.Fatalf("unexpected second answer: %q", second.Content)
	}
	third := f.mustOutbound(t)
	if third.Content != "Back to the research now." {
		t.Fatalf("expected resumed-task continuation, got %q", third.Content)
	}

	resumed := f.machine.Active("u1")
	if resumed == nil || resumed.ID != m1.ID {
		t.Fatalf("expected the research task back in the active slot, got %+v", resumed)
	}
	depth, err := f.machine.Depth(context.Background(), "u1")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("stack should be empty after auto-resume, depth=%d", depth)
	}
}

func TestAlarmMessageFlowsLikeUserInput(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{reply("Reminder: water the plants!")}}
	f := newFixture(t, fc, time.Minute, nil)

	f.bus.PublishInbound(bus.InboundMessage{
		ID:      "msg-alarm-1",
		UserID:  "u1",
		Channel: "test",
		ChatID:  "c1",
		Kind:    bus.KindAlarm,
		Content: "water the plants",
	})

	out := f.mustOutbound(t)
	if out.Content != "Reminder: water the plants!" {
		t.Fatalf("unexpected outbound: %q", out.Content)
	}

	last := fc.lastCall()
	if len(last) == 0 {
		t.Fatal("completer was not called")
	}
	userTurn := last[len(last)-1]
	if !strings.Contains(userTurn.Content, "[alarm fired] water the plants") {
		t.Fatalf("alarm payload missing from prompt: %q", userTurn.Content)
	}
}

func TestMalformedInboundRejectedWithNotice(t *testing.T) {
	fc := &fakeCompleter{}
	f := newFixture(t, fc, time.Minute, nil)

	f.bus.PublishInbound(bus.InboundMessage{ID: "msg-bad", UserID: "u1", Kind: bus.KindChat, Content: "   "})

	out := f.mustOutbound(t)
	if out.Kind != bus.KindSystem {
		t.Fatalf("expected system notice, got %+v", out)
	}
	if fc.callCount() != 0 {
		t.Fatal("malformed input must not reach the completer")
	}
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{reply("first"), reply("second")}}
	f := newFixture(t, fc, time.Minute, nil)

	msg := bus.NewInbound("u1", "test", "c1", "hello")
	f.bus.PublishInbound(msg)
	f.bus.PublishInbound(msg)

	out := f.mustOutbound(t)
	if out.Content != "first" {
		t.Fatalf("unexpected outbound: %q", out.Content)
	}
	if dup, ok := f.waitOutbound(t, 150*time.Millisecond); ok {
		t.Fatalf("redelivered message produced a second response: %+v", dup)
	}
	if fc.callCount() != 1 {
		t.Fatalf("expected exactly one completion call, got %d", fc.callCount())
	}
}

// gatedCompleter blocks every completion until released, and signals on
// entered so tests know the worker is busy.
type gatedCompleter struct {
	entered chan string
	release chan struct{}
}

func (g *gatedCompleter) Complete(_ context.Context, messages []provider.Message, _ []provider.ToolDefinition, _ provider.Options) (*provider.Response, error) {
	content := messages[len(messages)-1].Content
	g.entered <- content
	<-g.release
	return &provider.Response{Content: "ok: " + content}, nil
}

func TestDroppedMessageStaysProcessableOnRedelivery(t *testing.T) {
	gc := &gatedCompleter{entered: make(chan string, 8), release: make(chan struct{})}
	f := newFixtureQueueDepth(t, gc, time.Minute, 1, nil)

	waitEntered := func(want string) {
		t.Helper()
		select {
		case got := <-gc.entered:
			if got != want {
				t.Fatalf("completer saw %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("completer never saw %q", want)
		}
	}

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "one"))
	waitEntered("one")

	// the worker is blocked on "one"; "two" fills the depth-1 queue and
	// "three" is dropped
	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "two"))
	dropped := bus.NewInbound("u1", "test", "c1", "three")
	f.bus.PublishInbound(dropped)

	notice := f.mustOutbound(t)
	if notice.Kind != bus.KindSystem || !strings.Contains(notice.Content, "too many messages") {
		t.Fatalf("expected overload notice for the dropped message, got %+v", notice)
	}

	close(gc.release)
	if out := f.mustOutbound(t); out.Content != "ok: one" {
		t.Fatalf("unexpected first answer: %q", out.Content)
	}
	waitEntered("two")
	if out := f.mustOutbound(t); out.Content != "ok: two" {
		t.Fatalf("unexpected second answer: %q", out.Content)
	}

	// at-least-once redelivery of the dropped message, same id; it was
	// never processed, so it must not dedupe away
	f.bus.PublishInbound(dropped)
	waitEntered("three")
	if out := f.mustOutbound(t); out.Content != "ok: three" {
		t.Fatalf("redelivered dropped message was not processed: %q", out.Content)
	}
}

func TestRunReturnsWhenBusCloses(t *testing.T) {
	store, err := memory.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mb := bus.NewMessageBus()
	r, err := New(mb, &fakeCompleter{}, tools.NewRegistry(),
		task.NewMachine(store, 4),
		memory.NewService(store, nil, 6, 50, time.Minute),
		history.NewManager(store, 3, 3, 30),
		Options{DraftSweepInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	// closing the bus alone, without cancelling the context, must stop
	// the router and its draft sweeper
	mb.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestStaleReferenceThenExpandRecovers(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{
		// calls a grouped tool before expanding its group
		callTool("echo", map[string]interface{}{"text": "early"}),
		callTool(expandToolName, map[string]interface{}{"name": "utilities"}),
		callTool("echo", map[string]interface{}{"text": "after expand"}),
		reply("all good"),
	}}
	f := newFixture(t, fc, time.Minute, func(reg *tools.Registry, _ *task.Machine, _ *memory.Service) {
		reg.RegisterGroup(tools.NewGroup("utilities", "Small utility tools.").AddTool(&echoTool{}))
	})

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "use the echo tool"))

	out := f.mustOutbound(t)
	if out.Content != "all good" {
		t.Fatalf("unexpected outbound: %q", out.Content)
	}

	var sawStale, sawEcho bool
	for _, m := range fc.lastCall() {
		if m.Role != "tool" {
			continue
		}
		if strings.Contains(m.Content, "stale tool reference") {
			sawStale = true
		}
		if strings.Contains(m.Content, "echo: after expand") {
			sawEcho = true
		}
	}
	if !sawStale {
		t.Fatal("expected the pre-expansion call to fail with a stale reference")
	}
	if !sawEcho {
		t.Fatal("expected the post-expansion call to execute")
	}
}

func TestUnconfirmedDraftExpiresAndIsNeverSent(t *testing.T) {
	fc := &fakeCompleter{}
	f := newFixture(t, fc, 30*time.Millisecond, nil)

	id, err := f.mem.CreateDraft(context.Background(), "u1", "test", "c1", "pretend I wrote this")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	out := f.mustOutbound(t)
	if out.Kind != bus.KindSystem || !strings.Contains(out.Content, "expired") {
		t.Fatalf("expected expiry notice, got %+v", out)
	}
	if !strings.Contains(out.Content, id) {
		t.Fatalf("expiry notice should name the draft, got %q", out.Content)
	}
	if extra, ok := f.waitOutbound(t, 100*time.Millisecond); ok && extra.Content == "pretend I wrote this" {
		t.Fatal("expired draft content must never reach the outbound queue")
	}
}

func TestConfirmDraftSendsContent(t *testing.T) {
	fc := &fakeCompleter{}
	f := newFixture(t, fc, time.Minute, nil)

	id, err := f.mem.CreateDraft(context.Background(), "u1", "test", "c1", "see you at 8")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "confirm "+id))

	sent := f.mustOutbound(t)
	if sent.Kind != bus.KindChat || sent.Content != "see you at 8" {
		t.Fatalf("expected confirmed draft on the outbound queue, got %+v", sent)
	}
	ack := f.mustOutbound(t)
	if ack.Kind != bus.KindSystem || !strings.Contains(ack.Content, "sent") {
		t.Fatalf("expected confirmation ack, got %+v", ack)
	}
	if fc.callCount() != 0 {
		t.Fatal("draft confirmation must not invoke the completer")
	}
}

func TestDiscardDraftNeverSends(t *testing.T) {
	fc := &fakeCompleter{}
	f := newFixture(t, fc, time.Minute, nil)

	id, err := f.mem.CreateDraft(context.Background(), "u1", "test", "c1", "never mind this")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "discard "+id))

	out := f.mustOutbound(t)
	if out.Kind != bus.KindSystem || !strings.Contains(out.Content, "discarded") {
		t.Fatalf("expected discard notice, got %+v", out)
	}
	if extra, ok := f.waitOutbound(t, 100*time.Millisecond); ok && extra.Content == "never mind this" {
		t.Fatal("discarded draft content must never reach the outbound queue")
	}
}

func TestCompletionFailureExhaustsRetriesAndReports(t *testing.T) {
	fc := &fakeCompleter{steps: []scriptStep{
		{err: errors.New("upstream unavailable")},
		{err: errors.New("upstream unavailable")},
	}}
	f := newFixture(t, fc, time.Minute, nil)

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "hello"))

	out := f.mustOutbound(t)
	if out.Kind != bus.KindSystem || !strings.Contains(out.Content, "could not complete") {
		t.Fatalf("expected plain-terms failure notice, got %+v", out)
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d calls", fc.callCount())
	}
	if f.machine.Active("u1") != nil {
		t.Fatal("failed task should free the active slot")
	}
}

func TestHistoryCutoffCommand(t *testing.T) {
	fc := &fakeCompleter{}
	f := newFixture(t, fc, time.Minute, nil)

	f.bus.PublishInbound(bus.NewInbound("u1", "test", "c1", "/new"))

	out := f.mustOutbound(t)
	if out.Kind != bus.KindSystem || !strings.Contains(out.Content, "new conversation") {
		t.Fatalf("expected cutoff ack, got %+v", out)
	}
	if fc.callCount() != 0 {
		t.Fatal("cutoff command must not invoke the completer")
	}
}
