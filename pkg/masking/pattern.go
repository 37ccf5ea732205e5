package masking

import "regexp"

// builtinPatterns compiles the credential patterns in application order.
// Connection-string and certificate patterns run before the generic key/value
// ones so URL credentials are not half-eaten by the password pattern first.
func builtinPatterns() []*CompiledPattern {
	return []*CompiledPattern{
		{
			Name:        "certificate",
			Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "SSL/TLS certificates and private key blocks",
		},
		{
			Name:        "database_url",
			Regex:       regexp.MustCompile(`(?i)\b([a-z][a-z0-9+]*)://([^:/\s@]+):([^@\s]+)@`),
			Replacement: `$1://$2:__MASKED_PASSWORD__@`,
			Description: "Credentials embedded in connection URLs",
		},
		{
			Name:        "api_key",
			Regex:       regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{12,}["']?`),
			Replacement: `$1=__MASKED_API_KEY__`,
			Description: "API keys",
		},
		{
			Name:        "secret_key",
			Regex:       regexp.MustCompile(`(?i)(secret[_-]?key)["']?\s*[:=]\s*["']?[^"'\s\n]{6,}["']?`),
			Replacement: `$1=__MASKED_SECRET_KEY__`,
			Description: "Secret keys, including the sandbox SECRET_KEY env",
		},
		{
			Name:        "token",
			Regex:       regexp.MustCompile(`(?i)(token|bearer|jwt)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-.]{20,}["']?`),
			Replacement: `$1=__MASKED_TOKEN__`,
			Description: "Access tokens",
		},
		{
			Name:        "password",
			Regex:       regexp.MustCompile(`(?i)(password|pwd|passwd)["']?\s*[:=]\s*["']?[^"'\s\n]{6,}["']?`),
			Replacement: `$1=__MASKED_PASSWORD__`,
			Description: "Password assignments",
		},
	}
}
