// Package conversation drives one session's turn loop: append the user
// message, call the LLM collaborator, dispatch any tool uses it emits, and
// repeat until the model stops asking for tools or the iteration cap is
// hit. It is the one place history is mutated.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/dispatch"
	"github.com/bastionhost/bastion-agent/internal/history"
	"github.com/bastionhost/bastion-agent/internal/llm"
	"github.com/bastionhost/bastion-agent/internal/message"
)

// maxResultChars bounds a tool result's serialized size before it goes back
// to the model, independent of the 2000-char audit-log truncation.
const maxResultChars = 3000

const maxRateLimitRetries = 3

// CancelledByUser is returned by ProcessMessage when the installed cancel
// channel fired during the turn.
type CancelledByUser struct{}

func (CancelledByUser) Error() string { return "cancelled by user" }

// EventType tags the variant of an Event emitted during a turn.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventInfo       EventType = "info"
)

// Event is one user-visible happening during ProcessMessage, handed to the
// caller's Emit callback as it occurs so interactive and daemon front ends
// can render it incrementally.
type Event struct {
	Type   EventType
	Text   string
	Tool   string
	Input  map[string]any
	Result map[string]any
}

// Completer is the seam between the turn loop and its LLM collaborator: the
// one blocking call the loop ever makes, racing against a cancel channel.
// *llm.Client satisfies this directly; tests substitute a fake so the
// retry/cancellation/iteration logic below can run at unit speed with no
// network access, mirroring the teacher's provider.LLMProvider seam.
type Completer interface {
	CompleteRacing(ctx context.Context, cancelCh <-chan struct{}, systemPrompt string, history []message.Message, tools []dispatch.ToolSchema, maxTokens int) (llm.Turn, error)
}

// Loop is one conversation's turn-taking state machine.
type Loop struct {
	llmClient    Completer
	registry     *dispatch.Registry
	systemPrompt string
	agentCfg     config.AgentConfig
	logger       *zap.Logger
	sessionID    string

	messages []message.Message
	cancelCh chan struct{}
}

// New builds a Loop. sessionID is threaded through to the dispatch kernel
// purely for audit correlation.
func New(llmClient Completer, registry *dispatch.Registry, systemPrompt string, agentCfg config.AgentConfig, logger *zap.Logger, sessionID string) *Loop {
	return &Loop{
		llmClient:    llmClient,
		registry:     registry,
		systemPrompt: systemPrompt,
		agentCfg:     agentCfg,
		logger:       logger,
		sessionID:    sessionID,
	}
}

// GetMessages returns the current history.
func (l *Loop) GetMessages() []message.Message {
	return l.messages
}

// RestoreMessages installs a previously saved history (for `--resume`).
func (l *Loop) RestoreMessages(messages []message.Message) {
	l.messages = messages
}

// Reset clears history for a fresh session.
func (l *Loop) Reset() {
	l.messages = nil
}

// SetCancelEvent installs the channel that, when closed, cancels the
// current or next operation. Passing nil removes any installed channel.
func (l *Loop) SetCancelEvent(ch chan struct{}) {
	l.cancelCh = ch
}

func (l *Loop) cancelled() bool {
	if l.cancelCh == nil {
		return false
	}
	select {
	case <-l.cancelCh:
		return true
	default:
		return false
	}
}

// ProcessMessage runs one user turn to completion: append the message,
// loop through LLM calls and tool dispatches up to max_tool_iterations,
// and return once the model stops asking for tools. emit is called for
// every user-visible event as it happens; it may be nil.
func (l *Loop) ProcessMessage(ctx context.Context, text string, emit func(Event)) error {
	if emit == nil {
		emit = func(Event) {}
	}

	l.messages = append(l.messages, message.NewUserText(text))

	for iteration := 1; iteration <= l.agentCfg.MaxToolIterations; iteration++ {
		if l.cancelled() {
			return &CancelledByUser{}
		}

		l.messages = history.Trim(l.logger, l.messages, float64(l.agentCfg.MaxConversationTokens))

		turn, err := l.callWithRetry(ctx, emit)
		if err != nil {
			if _, ok := err.(*CancelledByUser); ok {
				return err
			}
			emit(Event{Type: EventError, Text: err.Error()})
			l.messages = l.messages[:len(l.messages)-1]
			return nil
		}

		l.messages = append(l.messages, message.NewAssistantBlocks(turn.Blocks))

		for _, b := range turn.Blocks {
			if b.Type == message.BlockText {
				emit(Event{Type: EventText, Text: b.Text})
			}
		}

		if turn.StopReason == "end_turn" || turn.StopReason == "" {
			return nil
		}

		toolUses := message.Message{Content: message.BlocksContent(turn.Blocks)}.ToolUses()
		if len(toolUses) == 0 {
			return nil
		}

		cancelledMidLoop := false
		results := make([]message.ContentBlock, 0, len(toolUses))
		for _, tu := range toolUses {
			if l.cancelled() {
				cancelledMidLoop = true
				results = append(results, message.NewToolResult(tu.ID, "Operation cancelled by user.", true))
				continue
			}

			emit(Event{Type: EventToolCall, Tool: tu.Name, Input: tu.Input})
			resultMap := l.registry.Dispatch(ctx, l.sessionID, tu.ID, tu.Name, tu.Input)
			emit(Event{Type: EventToolResult, Tool: tu.Name, Result: resultMap})

			results = append(results, message.NewToolResult(tu.ID, truncatedJSON(resultMap), isErrorResult(resultMap)))
		}

		l.messages = append(l.messages, message.NewUserToolResults(results))

		if cancelledMidLoop {
			return &CancelledByUser{}
		}
	}

	if l.logger != nil {
		l.logger.Warn("max_tool_iterations_reached", zap.Int("limit", l.agentCfg.MaxToolIterations))
	}
	emit(Event{Type: EventError, Text: "Stopped: reached the maximum number of tool iterations for this turn."})
	return nil
}

// callWithRetry calls the LLM collaborator, retrying up to
// maxRateLimitRetries times on rate-limit errors with exponential backoff,
// racing each attempt against the installed cancel channel.
func (l *Loop) callWithRetry(ctx context.Context, emit func(Event)) (llm.Turn, error) {
	var cancelCh <-chan struct{}
	if l.cancelCh != nil {
		cancelCh = l.cancelCh
	} else {
		cancelCh = make(chan struct{})
	}

	schemas := l.registry.GetSchemas()

	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		turn, err := l.llmClient.CompleteRacing(ctx, cancelCh, l.systemPrompt, l.messages, schemas, l.agentCfg.MaxTokens)
		if err == nil {
			return turn, nil
		}
		if llm.ErrCancelled(err) {
			return llm.Turn{}, &CancelledByUser{}
		}

		var rlErr *llm.RateLimitError
		if !asRateLimitError(err, &rlErr) || attempt == maxRateLimitRetries {
			return llm.Turn{}, err
		}

		delay := time.Duration(2*pow2(attempt)) * time.Second
		if l.logger != nil {
			l.logger.Warn("rate_limited", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		}
		emit(Event{Type: EventInfo, Text: fmt.Sprintf("Rate limited, retrying in %s...", delay)})
		lastErr = err

		select {
		case <-time.After(delay):
		case <-cancelCh:
			return llm.Turn{}, &CancelledByUser{}
		case <-ctx.Done():
			return llm.Turn{}, ctx.Err()
		}
	}
	return llm.Turn{}, lastErr
}

func asRateLimitError(err error, target **llm.RateLimitError) bool {
	if rl, ok := err.(*llm.RateLimitError); ok {
		*target = rl
		return true
	}
	return false
}

func pow2(n int) int {
	result := 1
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func isErrorResult(m map[string]any) bool {
	_, hasErr := m["error"]
	return hasErr
}

// truncatedJSON serializes v to JSON, replacing the middle with a marker
// when it exceeds maxResultChars so the LLM's input budget stays bounded
// while the original is still available to the user-facing renderer.
func truncatedJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to serialize result: %s"}`, err.Error())
	}
	s := string(data)
	if len(s) <= maxResultChars {
		return s
	}
	marker := fmt.Sprintf("... (%d chars truncated) ...", len(s)-maxResultChars)
	half := (maxResultChars - len(marker)) / 2
	return s[:half] + marker + s[len(s)-half:]
}
