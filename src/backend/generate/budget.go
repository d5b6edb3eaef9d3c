package generate

import (
	"fmt"

	"github.com/daulet/tokenizers"
	"github.com/hannes/meshchat/src/backend/providers"
)

// perMessageOverhead approximates the chat-template tokens wrapped
// around each message (role header, separators).
const perMessageOverhead = 4

// TokenCounter counts prompt tokens for budget enforcement.
type TokenCounter interface {
	Count(text string) int
	Close() error
}

// HFTokenCounter counts tokens with a HuggingFace tokenizer.json.
type HFTokenCounter struct {
	tokenizer *tokenizers.Tokenizer
}

// NewHFTokenCounter loads the tokenizer at path.
func NewHFTokenCounter(path string) (*HFTokenCounter, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &HFTokenCounter{tokenizer: tk}, nil
}

// Count returns the number of tokens in text.
func (c *HFTokenCounter) Count(text string) int {
	ids, _ := c.tokenizer.Encode(text, false)
	return len(ids)
}

// Close releases the tokenizer.
func (c *HFTokenCounter) Close() error {
	return c.tokenizer.Close()
}

// EstimateCounter approximates token counts as len/4. Used when no
// tokenizer file is configured; remote backends enforce their own
// context limits, so an estimate only affects history trimming.
type EstimateCounter struct{}

// Count returns an approximate token count for text.
func (EstimateCounter) Count(text string) int {
	return len(text)/4 + 1
}

// Close implements TokenCounter
func (EstimateCounter) Close() error { return nil }

// promptTokens returns the approximate token cost of the message list.
func promptTokens(counter TokenCounter, messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += counter.Count(m.Content) + perMessageOverhead
	}
	return total
}

// trimToBudget drops the oldest non-system turns until the prompt plus
// the completion budget fits the context window. The newest message is
// always kept, even if it alone exceeds the budget; backends then
// surface their own context errors.
func trimToBudget(counter TokenCounter, messages []providers.Message, contextWindow, maxNewTokens int) []providers.Message {
	budget := contextWindow - maxNewTokens
	if budget <= 0 {
		budget = contextWindow / 2
	}

	for len(messages) > 1 && promptTokens(counter, messages) > budget {
		if messages[0].Role == "system" {
			if len(messages) <= 2 {
				break
			}
			// Keep the system message, drop the oldest turn after it.
			messages = append(messages[:1:1], messages[2:]...)
			continue
		}
		messages = messages[1:]
	}
	return messages
}
