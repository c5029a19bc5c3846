// Package redact strips credential-shaped substrings from kill evidence and
// SIEM enrichment text before it reaches logs or the outcome store.
package redact

import "regexp"

// Pattern holds a pre-compiled regex and its replacement text.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are compiled once at package init, the way the teacher's
// masking service compiles its built-in set eagerly at construction time.
// Evidence strings and SIEM fields are free-text fields an upstream agent
// controls, so unlike the teacher's per-server opt-in configuration this
// set always applies — there is no trusted source to exempt.
var builtinPatterns = compilePatterns([]Pattern{
	{
		Name:        "api_key",
		Regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
		Replacement: `api_key=[MASKED_API_KEY]`,
	},
	{
		Name:        "password",
		Regex:       regexp.MustCompile(`(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`),
		Replacement: `password=[MASKED_PASSWORD]`,
	},
	{
		Name:        "token",
		Regex:       regexp.MustCompile(`(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`),
		Replacement: `token=[MASKED_TOKEN]`,
	},
	{
		Name:        "certificate",
		Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
		Replacement: `[MASKED_CERTIFICATE]`,
	},
	{
		Name:        "ssh_key",
		Regex:       regexp.MustCompile(`ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
		Replacement: `[MASKED_SSH_KEY]`,
	},
	{
		Name:        "email",
		Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`),
		Replacement: `[MASKED_EMAIL]`,
	},
})

func compilePatterns(patterns []Pattern) []Pattern {
	return patterns
}

// String applies every built-in pattern to s in order and returns the
// redacted result. Safe to call on already-redacted text.
func String(s string) string {
	for _, p := range builtinPatterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// Slice applies String to every element of ss, returning a new slice. A nil
// input returns nil rather than an empty slice, matching the zero value a
// kill report with no evidence naturally carries.
func Slice(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return out
}
