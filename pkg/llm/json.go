package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagRe matches <think>...</think> reasoning blocks some models emit.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripThinkTags(content string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
}

// extractJSON trims reasoning blocks, markdown fences and any chatter around
// the outermost JSON object or array.
func extractJSON(content string) string {
	s := stripThinkTags(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(s, closer); end > start {
		return s[start : end+1]
	}
	return s[start:]
}

func decodeJSON(content string, out any) error {
	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		return fmt.Errorf("unmarshal JSON response: %w", err)
	}
	return nil
}
