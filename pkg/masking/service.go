package masking

import "log/slog"

// Service applies secret-shape redaction to audit payloads before they are
// durably stored (WAL) or surfaced to a human reviewer (GET /pending,
// SPEC_FULL §C.6). Stateless aside from its compiled patterns; safe for
// concurrent use.
type Service struct {
	maskers  []Masker
	patterns []*CompiledPattern
}

// NewService builds a Service with the built-in secret-shape masker and
// regex pattern set, compiling patterns eagerly.
func NewService() *Service {
	patterns := compileBuiltinPatterns()
	slog.Info("masking service initialized", "patterns", len(patterns))
	return &Service{
		maskers:  []Masker{&SecretShapeMasker{}},
		patterns: patterns,
	}
}

// Mask runs every registered masker, then every compiled pattern, over
// data and returns the result. Always returns a usable string — a masker
// that cannot parse data returns it unchanged rather than erroring.
func (s *Service) Mask(data string) string {
	if data == "" {
		return data
	}

	masked := data
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
