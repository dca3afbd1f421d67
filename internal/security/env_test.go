package security

import (
	"strings"
	"testing"
)

func TestIsSensitiveEnvVar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sensitive bool
	}{
		{"API_KEY", true},
		{"THINKDROP_API_KEY", true},
		{"OPENAI_API_KEY", true},
		{"ANTHROPIC_API_KEY", true},
		{"HF_TOKEN", true},
		{"AWS_SECRET_ACCESS_KEY", true},
		{"AWS_SESSION_TOKEN", true},
		{"GITHUB_TOKEN", true},
		{"GH_TOKEN", true},
		{"OTEL_EXPORTER_OTLP_HEADERS", true},
		{"DATABASE_URL", true},
		{"DB_PASSWORD", true},
		{"DB_PORT", false},
		{"DATABASE_HOST", false},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", false},
		{"PATH", false},
		{"HOME", false},
		{"USER", false},
		{"DISPLAY", false},
		{"TESSDATA_PREFIX", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := isSensitiveEnvVar(tt.name)
			if got != tt.sensitive {
				t.Errorf("isSensitiveEnvVar(%q) = %v, want %v", tt.name, got, tt.sensitive)
			}
		})
	}
}

func TestIsSensitiveEnvVar_CaseInsensitive(t *testing.T) {
	t.Parallel()

	if !isSensitiveEnvVar("api_key") {
		t.Error("expected lower case api_key to be sensitive")
	}
	if !isSensitiveEnvVar("Github_Token") {
		t.Error("expected mixed case Github_Token to be sensitive")
	}
}

func TestSanitizedEnv_ResultExcludesSensitive(t *testing.T) {
	// Not parallel: reads the process environment.
	env := SanitizedEnv(nil)
	for _, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if isSensitiveEnvVar(key) {
			t.Errorf("sensitive var %q found in sanitized env", key)
		}
	}
}

func TestSanitizedEnv_ScrubsCredentialValues(t *testing.T) {
	t.Setenv("MEMORYD_TEST_LEAK", "prefix long-secret-value suffix")

	store := NewCredentialStore()
	store.Set("key", "long-secret-value")

	env := SanitizedEnv(store)
	found := false
	for _, entry := range env {
		if strings.HasPrefix(entry, "MEMORYD_TEST_LEAK=") {
			found = true
			if strings.Contains(entry, "long-secret-value") {
				t.Errorf("credential value survived sanitization: %s", entry)
			}
			if !strings.Contains(entry, RedactPlaceholder) {
				t.Errorf("expected placeholder in %s", entry)
			}
		}
	}
	if !found {
		t.Fatal("injected test variable missing from sanitized env")
	}
}

func TestSanitizedEnv_ShortSecretsNotScrubbed(t *testing.T) {
	t.Setenv("MEMORYD_TEST_SHORT", "yes")

	store := NewCredentialStore()
	store.Set("flag", "yes")

	env := SanitizedEnv(store)
	for _, entry := range env {
		if entry == "MEMORYD_TEST_SHORT=yes" {
			return
		}
	}
	t.Error("short value was scrubbed or variable missing")
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/proc/self/environ", true},
		{"/proc/1234/maps", true},
		{"/sys/kernel/something", true},
		{"/dev/mem", true},
		{"/home/user/file.txt", false},
		{"/tmp/thinkdrop/screens", false},
		{"/usr/bin/tesseract", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			err := ValidatePath(tt.path)
			if tt.wantErr && err == nil {
				t.Errorf("ValidatePath(%q) = nil, want error", tt.path)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidatePath(%q) = %v, want nil", tt.path, err)
			}
		})
	}
}
