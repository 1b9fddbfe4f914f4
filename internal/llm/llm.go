// Package llm wraps the Anthropic SDK behind a single synchronous call:
// one conversation history and tool list in, one assistant turn out. The
// call is blocking by design (the SDK has no event-loop integration), so
// every call is run in a worker goroutine and raced against an optional
// cancel channel — first-completed wins, the loser's result is discarded.
package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/bastionhost/bastion-agent/internal/dispatch"
	"github.com/bastionhost/bastion-agent/internal/message"
)

// Turn is one completed assistant response: the content blocks the model
// produced and the stop reason the SDK reported.
type Turn struct {
	Blocks     []message.ContentBlock
	StopReason string
	InputTokens  int
	OutputTokens int
}

// RateLimitError wraps an SDK error that looks like a rate limit so callers
// can apply the retry policy without depending on SDK-specific types.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// Client is a thin synchronous wrapper around the Anthropic Messages API.
type Client struct {
	sdk   anthropic.Client
	Model string
}

// NewClient builds a Client from ANTHROPIC_API_KEY (read by the SDK itself).
func NewClient(model string) *Client {
	return &Client{sdk: anthropic.NewClient(), Model: model}
}

// Complete sends one request built from systemPrompt/history/tools and
// blocks for the response. Callers that need cancellation should use
// CompleteRacing instead.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []message.Message, tools []dispatch.ToolSchema, maxTokens int) (Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(history),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if isRateLimit(err) {
			return Turn{}, &RateLimitError{Err: err}
		}
		return Turn{}, err
	}

	return fromAnthropicMessage(resp), nil
}

// CompleteRacing runs Complete in a worker goroutine and races it against
// cancelCh: whichever finishes first wins. If cancelCh fires first, the
// worker's context is cancelled and its eventual result is discarded — the
// call is not interrupted mid-flight, only abandoned (per the spec's
// best-effort cancellation semantics for blocking operations).
func (c *Client) CompleteRacing(ctx context.Context, cancelCh <-chan struct{}, systemPrompt string, history []message.Message, tools []dispatch.ToolSchema, maxTokens int) (Turn, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		turn Turn
		err  error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		turn, err := c.Complete(workCtx, systemPrompt, history, tools, maxTokens)
		resultCh <- outcome{turn, err}
	}()

	select {
	case <-cancelCh:
		cancel()
		return Turn{}, errCancelled
	case o := <-resultCh:
		return o.turn, o.err
	}
}

var errCancelled = fmt.Errorf("llm call cancelled")

// ErrCancelled reports whether err is the sentinel CompleteRacing returns
// when the cancel channel fires before the worker completes.
func ErrCancelled(err error) bool { return err == errCancelled }

func isRateLimit(err error) bool {
	if apiErr, ok := err.(*anthropic.Error); ok {
		return apiErr.StatusCode == 429
	}
	return false
}

func toAnthropicMessages(history []message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			out = append(out, anthropic.NewUserMessage(userBlocks(m)...))
		case message.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(assistantBlocks(m)...))
		}
	}
	return out
}

func userBlocks(m message.Message) []anthropic.ContentBlockParamUnion {
	if m.Content.IsText() {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content.Text)}
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content.Blocks))
	for _, b := range m.Content.Blocks {
		if b.Type == message.BlockToolResult {
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
		}
	}
	return blocks
}

func assistantBlocks(m message.Message) []anthropic.ContentBlockParamUnion {
	if m.Content.IsText() {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content.Text)}
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content.Blocks))
	for _, b := range m.Content.Blocks {
		switch b.Type {
		case message.BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case message.BlockToolUse:
			input := any(b.Input)
			if b.Input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
		}
	}
	return blocks
}

func toAnthropicTools(tools []dispatch.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema.Properties,
					Required:   t.InputSchema.Required,
				},
			},
		})
	}
	return out
}

func fromAnthropicMessage(resp *anthropic.Message) Turn {
	turn := Turn{
		StopReason:   string(resp.StopReason),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Blocks = append(turn.Blocks, message.NewText(variant.Text))
		case anthropic.ToolUseBlock:
			input, _ := variant.Input.(map[string]any)
			if input == nil {
				input = map[string]any{}
			}
			turn.Blocks = append(turn.Blocks, message.NewToolUse(variant.ID, variant.Name, input))
		}
	}
	return turn
}
