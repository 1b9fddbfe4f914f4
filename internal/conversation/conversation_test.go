package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionhost/bastion-agent/internal/audit"
	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/dispatch"
	"github.com/bastionhost/bastion-agent/internal/llm"
	"github.com/bastionhost/bastion-agent/internal/message"
	"github.com/bastionhost/bastion-agent/internal/tool"
)

// fakeCompleter is the Completer seam's test double: a canned queue of
// turns/errors consumed in call order, so the turn loop's retry and
// cancellation logic can be exercised without a live Anthropic call. Mirrors
// the teacher's FakeProvider/MockProvider shape in
// tests/integration/testutil/helpers.go.
type fakeCompleter struct {
	mu    sync.Mutex
	turns []llm.Turn
	errs  []error
	calls int
}

func (f *fakeCompleter) CompleteRacing(ctx context.Context, cancelCh <-chan struct{}, systemPrompt string, history []message.Message, tools []dispatch.ToolSchema, maxTokens int) (llm.Turn, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i < len(f.errs) && f.errs[i] != nil {
		return llm.Turn{}, f.errs[i]
	}
	if i < len(f.turns) {
		return f.turns[i], nil
	}
	return llm.Turn{StopReason: "end_turn"}, nil
}

// sideEffectTool runs onExecute (if set) before returning its fixed result.
// Used to close a cancel channel from inside a dispatch, the way a real
// long-running tool's completion would race against an operator's cancel.
type sideEffectTool struct {
	name      string
	onExecute func()
	result    tool.Result

	mu        sync.Mutex
	callCount int
}

func (t *sideEffectTool) Name() string        { return t.name }
func (t *sideEffectTool) Description() string { return "fake tool for testing" }
func (t *sideEffectTool) Schema() tool.Schema {
	return tool.Schema{Properties: map[string]any{}, Required: nil}
}
func (t *sideEffectTool) Execute(ctx context.Context, input map[string]any) tool.Result {
	t.mu.Lock()
	t.callCount++
	t.mu.Unlock()
	if t.onExecute != nil {
		t.onExecute()
	}
	return t.result
}

func (t *sideEffectTool) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callCount
}

func testAgentConfig(maxIterations int) config.AgentConfig {
	return config.AgentConfig{
		Model:                 "claude-sonnet-4-5-20250929",
		MaxTokens:             1024,
		MaxToolIterations:     maxIterations,
		CommandTimeout:        5,
		MaxConversationTokens: 100000,
		ApprovalMode:          config.ApprovalAutoDeny,
	}
}

// newTestRegistry builds a dispatch.Registry with an empty inventory/
// permission set: none of the tools registered in these tests populate a
// "command" or "path" input field, so the allowlist stage is a no-op and
// nothing needs to be configured for it to pass.
func newTestRegistry(t *testing.T, tools ...tool.Tool) *dispatch.Registry {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.New(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	inventory := config.NewInventory(config.ServersConfig{}, config.PermissionsConfig{})
	reg := dispatch.New(testAgentConfig(10), inventory, auditLog, autoDenyPrompter{}, nil)
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	return reg
}

type autoDenyPrompter struct{}

func (autoDenyPrompter) RequestApproval(string, map[string]any, config.ApprovalMode) bool { return false }

func TestProcessMessage_EndTurnReturnsTextAndStopsLoop(t *testing.T) {
	completer := &fakeCompleter{turns: []llm.Turn{
		{StopReason: "end_turn", Blocks: []message.ContentBlock{message.NewText("hello there")}},
	}}
	reg := newTestRegistry(t)
	loop := New(completer, reg, "", testAgentConfig(10), nil, "sess1")

	var events []Event
	err := loop.ProcessMessage(context.Background(), "hi", func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	require.Len(t, loop.GetMessages(), 2)
	assert.Equal(t, message.RoleUser, loop.GetMessages()[0].Role)
	assert.Equal(t, message.RoleAssistant, loop.GetMessages()[1].Role)

	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, "hello there", events[0].Text)
}

func TestProcessMessage_ToolUseThenEndTurnDispatchesAndAppendsResult(t *testing.T) {
	ft := &sideEffectTool{name: "mytool", result: tool.Result{Output: "tool output", ExitCode: 0}}
	reg := newTestRegistry(t, ft)

	completer := &fakeCompleter{turns: []llm.Turn{
		{StopReason: "tool_use", Blocks: []message.ContentBlock{message.NewToolUse("tc1", "mytool", map[string]any{})}},
		{StopReason: "end_turn", Blocks: []message.ContentBlock{message.NewText("done after tool")}},
	}}
	loop := New(completer, reg, "", testAgentConfig(10), nil, "sess1")

	var toolResultEvents []Event
	err := loop.ProcessMessage(context.Background(), "use the tool", func(e Event) {
		if e.Type == EventToolResult {
			toolResultEvents = append(toolResultEvents, e)
		}
	})
	require.NoError(t, err)

	require.Len(t, toolResultEvents, 1)
	assert.Equal(t, "tool output", toolResultEvents[0].Result["output"])

	// user, assistant(tool_use), user(tool_result), assistant(end_turn)
	msgs := loop.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	assert.Equal(t, message.RoleAssistant, msgs[1].Role)
	assert.Equal(t, message.RoleUser, msgs[2].Role)
	assert.Equal(t, message.RoleAssistant, msgs[3].Role)

	toolResults := msgs[2].Content.Blocks
	require.Len(t, toolResults, 1)
	assert.Equal(t, "tc1", toolResults[0].ToolUseID)
	assert.False(t, toolResults[0].IsError)
}

// TestProcessMessage_CancelDuringToolLoop is the direct analogue of spec
// §8 scenario 6: the assistant emits two tool-uses, a cancellation arrives
// between them, the first completes normally and the second is synthesized
// as a cancelled tool result, and ProcessMessage reports CancelledByUser.
func TestProcessMessage_CancelDuringToolLoop(t *testing.T) {
	cancelCh := make(chan struct{})
	var closeOnce sync.Once
	ft := &sideEffectTool{
		name:      "mytool",
		onExecute: func() { closeOnce.Do(func() { close(cancelCh) }) },
		result:    tool.Result{Output: "t1 done", ExitCode: 0},
	}
	reg := newTestRegistry(t, ft)

	completer := &fakeCompleter{turns: []llm.Turn{
		{StopReason: "tool_use", Blocks: []message.ContentBlock{
			message.NewToolUse("t1", "mytool", map[string]any{}),
			message.NewToolUse("t2", "mytool", map[string]any{}),
		}},
	}}
	loop := New(completer, reg, "", testAgentConfig(10), nil, "sess1")
	loop.SetCancelEvent(cancelCh)

	var toolResultEvents []Event
	err := loop.ProcessMessage(context.Background(), "do two things", func(e Event) {
		if e.Type == EventToolResult {
			toolResultEvents = append(toolResultEvents, e)
		}
	})

	require.Error(t, err)
	_, ok := err.(*CancelledByUser)
	require.True(t, ok, "expected *CancelledByUser, got %T: %v", err, err)

	require.Equal(t, 1, ft.calls(), "t2 must never reach tool.Execute once cancelled")

	msgs := loop.GetMessages()
	require.Len(t, msgs, 3) // user, assistant(tool_use), user(tool_results) — the turn loop returns right after appending results
	toolResults := msgs[len(msgs)-1].Content.Blocks
	require.Len(t, toolResults, 2)
	assert.Equal(t, "t1", toolResults[0].ToolUseID)
	assert.False(t, toolResults[0].IsError)
	assert.Equal(t, "t2", toolResults[1].ToolUseID)
	assert.True(t, toolResults[1].IsError)
	assert.Equal(t, "Operation cancelled by user.", toolResults[1].Content)
}

func TestProcessMessage_MaxToolIterationsSafetyStop(t *testing.T) {
	ft := &sideEffectTool{name: "alwaystool", result: tool.Result{Output: "ok", ExitCode: 0}}
	reg := newTestRegistry(t, ft)

	turns := make([]llm.Turn, 10)
	for i := range turns {
		turns[i] = llm.Turn{StopReason: "tool_use", Blocks: []message.ContentBlock{message.NewToolUse("tc", "alwaystool", map[string]any{})}}
	}
	completer := &fakeCompleter{turns: turns}
	loop := New(completer, reg, "", testAgentConfig(3), nil, "sess1")

	var errEvents []Event
	err := loop.ProcessMessage(context.Background(), "go", func(e Event) {
		if e.Type == EventError {
			errEvents = append(errEvents, e)
		}
	})
	require.NoError(t, err) // the safety stop is reported as an Event, not a returned error

	require.Len(t, errEvents, 1)
	assert.Contains(t, errEvents[0].Text, "maximum number of tool iterations")
}

// TestCallWithRetry_RateLimitedThenCancelledDuringBackoff exercises the
// rate-limit retry counter and the cancel-races-backoff path without
// sleeping through a real delay: the cancel channel is already closed, so
// the select inside the backoff wait picks the cancel branch immediately.
func TestCallWithRetry_RateLimitedThenCancelledDuringBackoff(t *testing.T) {
	cancelCh := make(chan struct{})
	close(cancelCh)

	completer := &fakeCompleter{errs: []error{&llm.RateLimitError{Err: assertError{"rate limited"}}}}
	reg := newTestRegistry(t)
	loop := New(completer, reg, "", testAgentConfig(10), nil, "sess1")
	loop.SetCancelEvent(cancelCh)

	_, err := loop.callWithRetry(context.Background(), func(Event) {})
	require.Error(t, err)
	_, ok := err.(*CancelledByUser)
	require.True(t, ok, "expected *CancelledByUser, got %T: %v", err, err)
	assert.Equal(t, 1, completer.calls, "expected exactly one LLM call before the cancel-raced backoff")
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
