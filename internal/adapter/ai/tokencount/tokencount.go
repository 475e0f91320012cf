// Package tokencount estimates token usage for LLM calls with
// tiktoken-go. The spend governor turns these counts into cost
// estimates when a provider response omits its usage block.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Usage carries the token counts of one scoring or prompt-generation
// call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Counter counts tokens per model, caching encodings.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModel(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

// normalizeModel maps provider-prefixed model names onto ones tiktoken
// recognizes. Unknown models fall through to the cl100k_base encoding.
func normalizeModel(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.HasPrefix(m, "gpt-4o"):
		return "gpt-4o"
	case strings.HasPrefix(m, "gpt-4"):
		return "gpt-4"
	case strings.HasPrefix(m, "gpt-3.5"):
		return "gpt-3.5-turbo"
	}
	return m
}

// Count returns the token count of text under the model's encoding.
// Falls back to a 4-characters-per-token heuristic when no encoding
// loads, so cost estimation degrades instead of failing.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := c.encodingFor(model)
	if err != nil {
		slog.Warn("token encoding unavailable, using heuristic",
			slog.String("model", model), slog.Any("error", err))
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountUsage builds a Usage from a prompt and completion pair.
func (c *Counter) CountUsage(model, prompt, completion string) Usage {
	in := c.Count(model, prompt)
	out := c.Count(model, completion)
	return Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
		Model:            model,
	}
}
