// Package session implements the durable per-conversation record and its
// atomic-write store: one JSON file per session, written via temp-file
// rename, never rewritten in place.
package session

import (
	"time"

	"github.com/bastionhost/bastion-agent/internal/message"
)

// maxPreviewChars bounds the Session.Preview field.
const maxPreviewChars = 80

// Session is the durable record for one conversation.
type Session struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Turns     int                `json:"turns"`
	Preview   string             `json:"preview"`
	Messages  []message.Message  `json:"messages"`
}

// NewSession builds a fresh Session around the given id and history.
func NewSession(id string, messages []message.Message, createdAt time.Time) Session {
	s := Session{
		ID:        id,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Messages:  messages,
	}
	s.recompute()
	return s
}

// recompute fills Turns and Preview from Messages.
func (s *Session) recompute() {
	turns := 0
	preview := ""
	for _, m := range s.Messages {
		if m.Role != message.RoleUser || !m.Content.IsText() {
			continue
		}
		turns++
		if preview == "" {
			preview = truncatePreview(m.Content.Text)
		}
	}
	s.Turns = turns
	s.Preview = preview
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPreviewChars {
		return text
	}
	return string(runes[:maxPreviewChars]) + "..."
}

// WithMessages returns a copy of the session with its history and
// UpdatedAt replaced, recomputing Turns/Preview. The original created_at
// is preserved.
func (s Session) WithMessages(messages []message.Message, updatedAt time.Time) Session {
	s.Messages = messages
	s.UpdatedAt = updatedAt
	s.recompute()
	return s
}
