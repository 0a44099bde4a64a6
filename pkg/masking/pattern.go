package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns covers the secret shapes a governance-agent audit trail
// most commonly leaks: cloud credentials, bearer tokens, and PEM key
// blocks embedded in free-form tool output or error strings.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{
		name:        "aws_access_key",
		pattern:     `\bAKIA[0-9A-Z]{16}\b`,
		replacement: "[MASKED_AWS_KEY]",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)\bBearer\s+[A-Za-z0-9\-_.]{8,}`,
		replacement: "Bearer [MASKED]",
	},
	{
		name:        "basic_auth_url",
		pattern:     `(?i)\b(https?://)[^\s:/@]+:[^\s:/@]+@`,
		replacement: "${1}[MASKED]@",
	},
	{
		name:        "private_key_block",
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[MASKED_PRIVATE_KEY]",
	},
}

// compileBuiltinPatterns compiles builtinPatterns once at Service
// construction. A malformed pattern is logged and skipped rather than
// failing startup.
func compileBuiltinPatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", p.name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{Name: p.name, Regex: re, Replacement: p.replacement})
	}
	return compiled
}
