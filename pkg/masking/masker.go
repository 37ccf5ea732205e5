// Package masking scrubs credential material from free-form text before it
// leaves the service. Sandbox container logs are the main consumer: generated
// backends print their own DATABASE_URL and SECRET_KEY during startup, and
// those logs get attached to failure reports and persisted artifacts.
package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// Masker applies the built-in credential patterns to text.
type Masker struct {
	patterns []*CompiledPattern
}

// NewMasker creates a masker with the built-in pattern set.
func NewMasker() *Masker {
	return &Masker{patterns: builtinPatterns()}
}

// Mask replaces every credential match in the text. Patterns apply in a
// fixed order so output is deterministic.
func (m *Masker) Mask(text string) string {
	for _, pattern := range m.patterns {
		text = pattern.Regex.ReplaceAllString(text, pattern.Replacement)
	}
	return text
}
