package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes stripped from
// subprocess environments (tesseract, screen capture tools) so an
// external binary never inherits a secret. Prefix entries cover every
// variable starting with them; exact-only names live in
// sensitiveEnvExact.
var sensitiveEnvPrefixes = []string{
	"THINKDROP_",
	"OPENAI_",
	"ANTHROPIC_",
	"HF_TOKEN",
	"HUGGING_FACE_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"SLACK_TOKEN",
	"SLACK_BOT_TOKEN",
}

// sensitiveEnvExact are environment variable names stripped exactly.
// API_KEY is the daemon's own bearer key list. DATABASE_URL and
// DB_PASSWORD are exact-only so DB_PORT and DATABASE_HOST survive.
var sensitiveEnvExact = map[string]struct{}{
	"API_KEY":                    {},
	"AWS_SECRET_ACCESS_KEY":      {},
	"DATABASE_URL":               {},
	"DB_PASSWORD":                {},
	"OTEL_EXPORTER_OTLP_HEADERS": {},
}

// SanitizedEnv returns a copy of os.Environ() with sensitive variables
// removed. If store is non-nil, any credential values registered in it
// are also scrubbed from the remaining variable values.
func SanitizedEnv(store *CredentialStore) []string {
	env := os.Environ()
	result := make([]string, 0, len(env))

	var secrets []string
	if store != nil {
		secrets = store.Values()
	}

	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		if isSensitiveEnvVar(key) {
			continue
		}

		// Short values ("yes", "1") would over-match, so only secrets of
		// at least 8 characters are scrubbed from surviving entries.
		sanitized := entry
		for _, secret := range secrets {
			if secret != "" && len(secret) >= 8 && strings.Contains(sanitized, secret) {
				sanitized = strings.ReplaceAll(sanitized, secret, RedactPlaceholder)
			}
		}

		result = append(result, sanitized)
	}

	return result
}

// isSensitiveEnvVar checks if an environment variable name matches a
// known sensitive prefix or exact name.
func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)

	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}

	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}

	return false
}

// ErrRestrictedPath is returned when a path points into a restricted
// system area (/proc, /sys, /dev).
var ErrRestrictedPath = errors.New("access to restricted path is not allowed")

// ValidatePath checks that a filesystem path does not reach into
// sensitive system resources. The path is made absolute and symlinks
// are followed (best-effort) before checking, so relative and symlinked
// forms cannot bypass it. Configured directories (skills dir, tesseract
// path) go through here at validation time.
func ValidatePath(path string) error {
	cleaned := filepath.Clean(path)
	abs, err := filepath.Abs(cleaned)
	if err == nil {
		cleaned = abs
	}
	resolved, err := filepath.EvalSymlinks(cleaned)
	if err == nil {
		cleaned = resolved
	}
	normalized := strings.ToLower(cleaned)

	blockedPrefixes := []string{"/proc/", "/sys/", "/dev/"}
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return fmt.Errorf("%w: %s", ErrRestrictedPath, path)
		}
	}
	return nil
}
