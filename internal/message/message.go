// Package message defines the conversation's wire- and storage-format:
// an append-only sequence of Messages whose roles strictly alternate
// user, assistant, user, assistant, ... Message is an immutable record —
// the conversation loop only ever appends to the enclosing slice.
package message

import "encoding/json"

// Role is either "user" or "assistant". Roles strictly alternate across
// a history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the variant of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is the tagged-union exchange unit between the LLM
// collaborator and the conversation loop: Text, ToolUse, or ToolResult.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text carries the Text variant's payload.
	Text string `json:"text,omitempty"`

	// ID/Name/Input carry the ToolUse variant's payload.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// ToolUseID/Content/IsError carry the ToolResult variant's payload.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func NewText(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func NewToolUse(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func NewToolResult(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Content is either a plain string (a new user turn) or a sequence of
// ContentBlocks (an assistant's response, or a user's tool-result reply).
// Exactly one of the two is populated.
type Content struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

func TextContent(text string) Content {
	return Content{Text: text, isText: true}
}

func BlocksContent(blocks []ContentBlock) Content {
	return Content{Blocks: blocks}
}

// IsText reports whether this Content holds a plain string.
func (c Content) IsText() bool {
	return c.isText || c.Blocks == nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsText() {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Blocks = nil
		c.isText = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	c.isText = false
	return nil
}

// Message is one turn of conversation history.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

func NewUserText(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

func NewUserToolResults(results []ContentBlock) Message {
	return Message{Role: RoleUser, Content: BlocksContent(results)}
}

func NewAssistantBlocks(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: BlocksContent(blocks)}
}

// EstimatedTokens approximates this message's token footprint as
// content-character-count / 3.5, matching the trimmer's budget estimate.
func (m Message) EstimatedTokens() float64 {
	chars := 0
	if m.Content.IsText() {
		chars = len(m.Content.Text)
	} else {
		for _, b := range m.Content.Blocks {
			chars += len(b.Text) + len(b.Content) + len(b.Name)
			for k, v := range b.Input {
				chars += len(k)
				if s, ok := v.(string); ok {
					chars += len(s)
				} else {
					chars += 8
				}
			}
		}
	}
	return float64(chars) / 3.5
}

// TextBlocks returns every Text-variant block's text, in order.
func (m Message) TextBlocks() []string {
	if m.Content.IsText() {
		return []string{m.Content.Text}
	}
	var out []string
	for _, b := range m.Content.Blocks {
		if b.Type == BlockText {
			out = append(out, b.Text)
		}
	}
	return out
}

// ToolUses returns every ToolUse-variant block, in order.
func (m Message) ToolUses() []ContentBlock {
	if m.Content.IsText() {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
