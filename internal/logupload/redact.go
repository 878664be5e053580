package logupload

import (
	"regexp"
)

// redactions are applied in order.
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[OPENAI_API_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|api_secret|secret[_-]?key)\s*[:=]\s*["']?[a-zA-Z0-9_\-]{16,}["']?`), "[API_KEY_REDACTED]"},
	// domain is kept, it helps debugging form issues
	{regexp.MustCompile(`([a-zA-Z0-9._%+-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`), "[EMAIL]@$2"},
	{regexp.MustCompile(`\+?[0-9]{10,15}`), "[PHONE_REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_\-.]+`), "Bearer [TOKEN_REDACTED]"},
}

// Redact replaces secret shaped substrings: API keys, email local parts,
// phone numbers and bearer tokens.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}
