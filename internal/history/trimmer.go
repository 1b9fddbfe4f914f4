// Package history implements the token-budget history trimmer: eviction
// from the front of a conversation in alternating pairs, preserving the
// strict user/assistant alternation invariant and never touching the
// current turn (the last two messages).
package history

import (
	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/message"
)

// EstimateTokens sums each message's estimated token footprint.
func EstimateTokens(messages []message.Message) float64 {
	var total float64
	for _, m := range messages {
		total += m.EstimatedTokens()
	}
	return total
}

// Trim evicts messages from the front of history while the estimated
// token count exceeds maxTokens and at least three messages remain,
// removing one user message and (if the new front is still an assistant
// message) its paired assistant message at a time, so alternation never
// breaks. The last two messages (the current turn) are never evicted.
func Trim(logger *zap.Logger, messages []message.Message, maxTokens float64) []message.Message {
	for {
		estimate := EstimateTokens(messages)
		if estimate <= maxTokens || len(messages) < 3 {
			return messages
		}

		removable := len(messages) - 2
		if removable < 1 {
			return messages
		}

		removeCount := 1
		if removable >= 2 && messages[1].Role == message.RoleAssistant {
			removeCount = 2
		}
		if removeCount > removable {
			removeCount = removable
		}

		trimmed := append([]message.Message(nil), messages[removeCount:]...)

		if logger != nil {
			logger.Info("history_trimmed",
				zap.Int("removed", removeCount),
				zap.Int("remaining", len(trimmed)),
				zap.Float64("new_estimate", EstimateTokens(trimmed)))
		}

		messages = trimmed
	}
}
