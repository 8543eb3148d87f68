package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "command-allowlist.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return dir
}

func TestLoadCommandValidator(t *testing.T) {
	dir := writeAllowlist(t, `["npm", "git", "node", "/usr/bin/jq"]`)

	v, err := LoadCommandValidator(dir, "command-allowlist.json", 4096)
	require.NoError(t, err)

	assert.Equal(t, 4, v.Size())
	assert.True(t, v.IsCommandAllowed("jq"), "allowlist entries reduce to base names")
}

func TestLoadCommandValidator_MissingFile(t *testing.T) {
	_, err := LoadCommandValidator(t.TempDir(), "command-allowlist.json", 4096)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading command allowlist")
}

func TestLoadCommandValidator_InvalidJSON(t *testing.T) {
	dir := writeAllowlist(t, `{"commands": ["npm"]}`)

	_, err := LoadCommandValidator(dir, "command-allowlist.json", 4096)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing command allowlist")
}

func TestCommandValidator_IsCommandAllowed(t *testing.T) {
	v := NewCommandValidator([]string{"npm", "git", "node"}, 4096)

	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"base name", "npm", true},
		{"absolute path resolves to base name", "/usr/bin/npm", true},
		{"nested path", "/usr/local/bin/node", true},
		{"not on allowlist", "rm", false},
		{"path to disallowed command", "/bin/bash", false},
		{"case sensitive", "NPM", false},
		{"empty command", "", false},
		{"whitespace only", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, v.IsCommandAllowed(tt.command))
		})
	}
}

func TestCommandValidator_ValidateArguments(t *testing.T) {
	v := NewCommandValidator([]string{"npm"}, 64)

	valid := [][]string{
		{"test", "--coverage"},
		{"install", "--save-dev", "typescript@5.3"},
		{"run", "build", "--", "--mode=production"},
		{"--prefix", "/srv/app"},
		{"price is $5"},
		{"(parenthesized)"},
		{},
	}
	for _, args := range valid {
		assert.NoError(t, v.ValidateArguments(args), "args %q should be accepted", args)
	}

	invalid := []struct {
		name string
		args []string
	}{
		{"command chaining", []string{"test;rm -rf /"}},
		{"pipe", []string{"test", "a|b"}},
		{"background", []string{"a&b"}},
		{"backtick", []string{"`whoami`"}},
		{"command substitution", []string{"$(whoami)"}},
		{"variable expansion", []string{"${HOME}/x"}},
		{"glob star", []string{"src/*.ts"}},
		{"glob question mark", []string{"file?.txt"}},
		{"redirect in", []string{"a<b"}},
		{"redirect out", []string{"a>b"}},
		{"append redirect", []string{"a>>b"}},
		{"heredoc", []string{"a<<EOF"}},
		{"null byte", []string{"abc\x00def"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateArguments(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "forbidden metacharacter")
		})
	}
}

func TestCommandValidator_ValidateArgumentsLengthCap(t *testing.T) {
	v := NewCommandValidator([]string{"npm"}, 8)

	assert.NoError(t, v.ValidateArguments([]string{"12345678"}))

	err := v.ValidateArguments([]string{"123456789"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum length")
}

// Every forbidden metacharacter must be rejected wherever it appears in an
// argument; arguments built from the ordinary character set must pass.
func TestCommandValidator_MetacharacterSweep(t *testing.T) {
	v := NewCommandValidator([]string{"npm"}, 4096)

	metachars := []string{";", "|", "&", "`", "$(", "${", "*", "?", "<", ">", "\x00"}
	positions := []func(meta string) string{
		func(m string) string { return m + "suffix" },
		func(m string) string { return "pre" + m + "post" },
		func(m string) string { return "prefix" + m },
	}
	for _, meta := range metachars {
		for _, build := range positions {
			arg := build(meta)
			assert.Error(t, v.ValidateArguments([]string{arg}),
				"argument %q should be rejected", arg)
		}
	}

	safe := []string{
		"plain", "--flag", "a=b", "path/to/file.txt", "v1.2.3",
		"with space", "comma,list", "colon:pair", "dollar$alone", "(parens)",
	}
	for _, arg := range safe {
		assert.NoError(t, v.ValidateArguments([]string{arg}),
			"argument %q should be accepted", arg)
	}
}

func TestCommandValidator_ValidateInvocation(t *testing.T) {
	v := NewCommandValidator([]string{"npm"}, 4096)

	assert.NoError(t, v.ValidateInvocation("/usr/bin/npm", []string{"test", "--coverage"}))

	err := v.ValidateInvocation("/bin/curl", []string{"-s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on the allowlist")

	err = v.ValidateInvocation("npm", []string{"test;rm -rf /"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden metacharacter")
}

func TestSanitizeEnvironment(t *testing.T) {
	env := map[string]string{
		"AWS_SECRET_ACCESS_KEY": "x",
		"NODE_ENV":              "test",
		"PATH":                  "/usr/bin:/bin",
		"HOME":                  "/home/ci",
		"USER":                  "ci",
		"GITHUB_TOKEN":          "ghp_abc",
		"DB_PASSWORD":           "hunter2",
		"MY_SECRET_VALUE":       "s",
		"API_KEY":               "k",
		"api_key_backup":        "k2",
		"STRIPE_CREDENTIALS":    "c",
		"DEPLOY_PRIVATE_KEY":    "pem",
		"CAWS_API_KEY":          "caws",
		"CAWS_PROJECT":          "arbiter",
		"BUILD_NUMBER":          "42",
	}

	got := SanitizeEnvironment(env)

	kept := []string{"NODE_ENV", "PATH", "HOME", "USER", "CAWS_API_KEY", "CAWS_PROJECT", "BUILD_NUMBER"}
	for _, name := range kept {
		assert.Contains(t, got, name)
	}

	stripped := []string{
		"AWS_SECRET_ACCESS_KEY", "GITHUB_TOKEN", "DB_PASSWORD", "MY_SECRET_VALUE",
		"API_KEY", "api_key_backup", "STRIPE_CREDENTIALS", "DEPLOY_PRIVATE_KEY",
	}
	for _, name := range stripped {
		assert.NotContains(t, got, name)
	}

	assert.Equal(t, "test", got["NODE_ENV"])
	assert.Len(t, got, len(kept))
}

func TestSanitizeEnvironment_DoesNotMutateInput(t *testing.T) {
	env := map[string]string{"GITHUB_TOKEN": "ghp_abc", "PATH": "/bin"}
	SanitizeEnvironment(env)
	assert.Len(t, env, 2)
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "deploy service v2", "deploy service v2"},
		{"null byte stripped", "abc\x00def", "abcdef"},
		{"control characters stripped", "a\x01b\x1bc\x7fd", "abcd"},
		{"newline and tab kept", "line1\n\tline2", "line1\n\tline2"},
		{"unicode kept", "déploiement №42", "déploiement №42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.in))
		})
	}
}
