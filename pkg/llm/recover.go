package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonPrefix  = regexp.MustCompile(`(?is)^\s*json\s*:?\s*`)
)

// ExtractJSON recovers a JSON document from model output. It accepts raw
// JSON, JSON inside a fenced block, a `json:` prefixed document, or the
// first balanced object/array substring inside conversational text.
func ExtractJSON(text string) (string, error) {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return "", fmt.Errorf("empty response")
	}

	if strings.Contains(candidate, "```") {
		if blocks := fencedBlock.FindStringSubmatch(candidate); len(blocks) > 1 {
			candidate = strings.TrimSpace(blocks[1])
		}
	}
	candidate = jsonPrefix.ReplaceAllString(candidate, "")
	candidate = strings.TrimSpace(candidate)

	if !strings.HasPrefix(candidate, "{") && !strings.HasPrefix(candidate, "[") {
		balanced, ok := firstBalanced(candidate)
		if !ok {
			return "", fmt.Errorf("no JSON object or array found in response")
		}
		candidate = balanced
	}
	return candidate, nil
}

// DecodeStructured extracts and unmarshals a JSON document into out,
// tolerating literal control characters inside string values.
func DecodeStructured(text string, out any) error {
	candidate, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	sanitized := escapeControlChars(candidate)
	if err := json.Unmarshal([]byte(sanitized), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

// firstBalanced scans for the first balanced {...} or [...] substring,
// respecting string literals and escapes.
func firstBalanced(text string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if text[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// escapeControlChars escapes raw control characters that appear inside JSON
// string literals. Models routinely emit literal newlines inside generated
// source strings.
func escapeControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
				continue
			case c == '\\':
				escaped = true
				b.WriteByte(c)
				continue
			case c == '"':
				inString = false
				b.WriteByte(c)
				continue
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}
