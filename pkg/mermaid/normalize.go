// Package mermaid normalizes LLM-produced architecture diagrams into
// syntactically valid top-down flowcharts. Normalize is pure and idempotent.
package mermaid

import (
	"fmt"
	"regexp"
	"strings"
)

const minimalDiagram = "flowchart TD\n    A[\"System\"]"

var (
	fenceLine       = regexp.MustCompile("^```[a-zA-Z]*\\s*$")
	headerLine      = regexp.MustCompile(`(?i)^\s*(flowchart|graph)\b.*$`)
	noteLine        = regexp.MustCompile(`(?i)^\s*note\b`)
	dottedEdge      = regexp.MustCompile(`-\.\s*(?:\|([^|]*)\|\s*)?\.?->`)
	dottedLabelEdge = regexp.MustCompile(`-\.\s*([^.|][^.]*?)\s*\.->`)
	bracketLabel    = regexp.MustCompile(`\[([^\[\]"]+)\]`)
	edgeLabelArrow  = regexp.MustCompile(`\|([^|]*)\|`)
	ampDecl         = regexp.MustCompile(`^\s*[A-Za-z_][\w]*(\[[^\]]*\]|\([^)]*\)|\{[^}]*\})?(\s*&\s*[A-Za-z_][\w]*(\[[^\]]*\]|\([^)]*\)|\{[^}]*\})?)+\s*$`)
)

// Normalize rewrites diagram text into a valid `flowchart TD`. Empty input
// yields a minimal single-node diagram.
func Normalize(input string) string {
	text := strings.TrimPrefix(input, "\uFEFF")
	text = strings.NewReplacer("\u200B", "", "\u200C", "", "\u200D", "", "\uFEFF", "").Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if fenceLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		lines = append(lines, line)
	}

	// Drop leading/trailing blank lines.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return minimalDiagram
	}

	var out []string
	sawHeader := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		if headerLine.MatchString(trimmed) {
			if !sawHeader {
				out = append(out, "flowchart TD")
				sawHeader = true
			}
			continue
		}
		if noteLine.MatchString(trimmed) {
			continue
		}
		out = append(out, normalizeBody(line)...)
	}
	if !sawHeader {
		out = append([]string{"flowchart TD"}, out...)
	}
	return strings.Join(out, "\n")
}

func normalizeBody(line string) []string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	body := strings.TrimSpace(line)

	// Dotted labeled edges become plain labeled arrows.
	body = dottedLabelEdge.ReplaceAllString(body, "-->|$1|")
	body = dottedEdge.ReplaceAllStringFunc(body, func(m string) string {
		sub := dottedEdge.FindStringSubmatch(m)
		if len(sub) > 1 && strings.TrimSpace(sub[1]) != "" {
			return "-->|" + strings.TrimSpace(sub[1]) + "|"
		}
		return "-->"
	})

	// Arrow glyphs inside edge labels break the edge parser.
	body = edgeLabelArrow.ReplaceAllStringFunc(body, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.NewReplacer("-->", "→", "->", "→", "<-", "←", "=>", "⇒").Replace(inner)
		return "|" + inner + "|"
	})

	// Quote square-bracket labels containing whitespace or punctuation.
	body = bracketLabel.ReplaceAllStringFunc(body, func(m string) string {
		inner := m[1 : len(m)-1]
		if strings.ContainsAny(inner, " \t(){}:;,/+'") {
			return fmt.Sprintf("[%q]", inner)
		}
		return m
	})

	// Ampersand-shorthand declarations expand to one node per line.
	if ampDecl.MatchString(body) && !strings.Contains(body, "-->") {
		parts := strings.Split(body, "&")
		expanded := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				expanded = append(expanded, indent+part)
			}
		}
		if len(expanded) > 1 {
			return expanded
		}
	}

	return []string{indent + body}
}
