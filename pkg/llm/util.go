package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

// TruncateLines shortens every line to maxLen runes. Used to keep base64 blobs out of prompt logs.
func TruncateLines(text string, maxLen int) string {
	if text == "" || maxLen <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if runes := []rune(line); len(runes) > maxLen {
			lines[i] = string(runes[:maxLen]) + "..."
		}
	}
	return strings.Join(lines, "\n")
}

// CleanJSONBlock removes markdown code blocks from a JSON string if present.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start == -1 {
			continue
		}
		text = text[start+len(fence):]
		if end := strings.LastIndex(text, "```"); end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	return text
}

// ParseStringArray extracts a JSON array of strings from a model response,
// tolerating code fences and prose around the array.
func ParseStringArray(text string) ([]string, error) {
	cleaned := CleanJSONBlock(text)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var out []string
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode string array: %w", err)
	}
	return out, nil
}
