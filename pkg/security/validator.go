// Package security enforces the shell command surface and caller identity
// for credentialed operations: an allowlist-backed command validator with
// argument and environment sanitization, and a security context doing
// token authentication, role-based authorization, per-actor rate limiting,
// and audit logging.
package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// forbiddenMetachars are the shell metacharacter sequences rejected in
// command arguments. Single-character entries subsume their doubled forms
// (`>` covers `>>`, `<` covers `<<`).
var forbiddenMetachars = []string{";", "|", "&", "`", "$(", "${", "*", "?", "<", ">", "\x00"}

// sensitiveEnvPatterns match environment variable names that must never
// reach an agent subprocess. Matching is case-insensitive on the name.
var sensitiveEnvPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^AWS_`),
	regexp.MustCompile(`(?i)PASSWORD`),
	regexp.MustCompile(`(?i)SECRET`),
	regexp.MustCompile(`(?i)TOKEN`),
	regexp.MustCompile(`(?i)^API_?KEY`),
	regexp.MustCompile(`(?i)CREDENTIAL`),
	regexp.MustCompile(`(?i)PRIVATE_KEY`),
}

// safeEnvVars are always preserved regardless of the sensitive patterns.
var safeEnvVars = map[string]struct{}{
	"PATH":     {},
	"HOME":     {},
	"USER":     {},
	"LOGNAME":  {},
	"NODE_ENV": {},
	"LANG":     {},
	"LC_ALL":   {},
	"TZ":       {},
	"TERM":     {},
	"SHELL":    {},
	"TMPDIR":   {},
	"PWD":      {},
}

// CommandValidator gates shell invocations against a fixed allowlist of
// command base names and rejects arguments carrying shell metacharacters.
// It is immutable after construction and safe for concurrent use.
type CommandValidator struct {
	allowed      map[string]struct{}
	maxArgLength int
}

// LoadCommandValidator reads the allowlist file (a JSON array of command
// base names) and returns a validator enforcing it. A relative path is
// resolved against configDir.
func LoadCommandValidator(configDir, path string, maxArgLength int) (*CommandValidator, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command allowlist %s: %w", path, err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parsing command allowlist %s: %w", path, err)
	}

	return NewCommandValidator(names, maxArgLength), nil
}

// NewCommandValidator builds a validator from an in-memory allowlist.
// Entries are reduced to their base names; empty entries are ignored.
func NewCommandValidator(names []string, maxArgLength int) *CommandValidator {
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		base := filepath.Base(strings.TrimSpace(name))
		if base == "" || base == "." || base == string(filepath.Separator) {
			continue
		}
		allowed[base] = struct{}{}
	}
	return &CommandValidator{allowed: allowed, maxArgLength: maxArgLength}
}

// Size returns the number of allowlisted commands.
func (v *CommandValidator) Size() int {
	return len(v.allowed)
}

// IsCommandAllowed reports whether the command's base name is on the
// allowlist. The full path is irrelevant; /usr/bin/npm and npm are the
// same command.
func (v *CommandValidator) IsCommandAllowed(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	_, ok := v.allowed[filepath.Base(command)]
	return ok
}

// ValidateArguments rejects any argument containing a forbidden shell
// metacharacter or exceeding the configured length cap.
func (v *CommandValidator) ValidateArguments(args []string) error {
	for i, arg := range args {
		if v.maxArgLength > 0 && len(arg) > v.maxArgLength {
			return fmt.Errorf("argument %d exceeds maximum length of %d bytes", i, v.maxArgLength)
		}
		if meta, found := containsForbiddenMetachar(arg); found {
			return fmt.Errorf("argument %d contains forbidden metacharacter %q", i, meta)
		}
	}
	return nil
}

// ValidateInvocation checks the command and its arguments in one pass.
func (v *CommandValidator) ValidateInvocation(command string, args []string) error {
	if !v.IsCommandAllowed(command) {
		return fmt.Errorf("command %q is not on the allowlist", filepath.Base(command))
	}
	return v.ValidateArguments(args)
}

func containsForbiddenMetachar(arg string) (string, bool) {
	for _, meta := range forbiddenMetachars {
		if strings.Contains(arg, meta) {
			if meta == "\x00" {
				return "NUL", true
			}
			return meta, true
		}
	}
	return "", false
}

// SanitizeEnvironment returns a copy of env with sensitive variables
// removed. CAWS_-prefixed variables and the common safe set (PATH, HOME,
// USER, NODE_ENV, ...) are always preserved; everything matching a
// sensitive name pattern is dropped.
func SanitizeEnvironment(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for name, value := range env {
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, "CAWS_") {
			out[name] = value
			continue
		}
		if _, safe := safeEnvVars[upper]; safe {
			out[name] = value
			continue
		}
		if isSensitiveEnvName(name) {
			continue
		}
		out[name] = value
	}
	return out
}

func isSensitiveEnvName(name string) bool {
	for _, pattern := range sensitiveEnvPatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// SanitizeText strips NUL and non-printable control characters from
// caller-supplied free text, keeping tabs and newlines. Credentialed
// submission paths run task descriptions through this before enqueueing.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
