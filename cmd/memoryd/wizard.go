package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
)

// wizardAnswers collects everything the starter template needs.
type wizardAnswers struct {
	Host        string
	Port        string
	APIKey      string
	MonitorOCR  bool
	WatchSkills bool
}

// runConfigWizard walks the user through the handful of settings worth
// asking about, renders a starter config, and writes it to target.
func runConfigWizard(target string) error {
	answers := wizardAnswers{
		Host:        "127.0.0.1",
		Port:        "3001",
		WatchSkills: true,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen host").
				Description("Bind address for the HTTP API. Keep 127.0.0.1 unless the API must be reachable from other machines.").
				Value(&answers.Host),
			huh.NewInput().
				Title("Listen port").
				Validate(validatePort).
				Value(&answers.Port),
			huh.NewInput().
				Title("API key").
				Description("Bearer token clients must present. Leave empty to disable authentication (local development only).").
				EchoMode(huh.EchoModePassword).
				Value(&answers.APIKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the screen OCR monitor?").
				Description("Periodically captures the screen, extracts text with tesseract, and stores it as searchable memories.").
				Affirmative("Yes").
				Negative("No").
				Value(&answers.MonitorOCR),
			huh.NewConfirm().
				Title("Watch the skills directory for changes?").
				Affirmative("Yes").
				Negative("No").
				Value(&answers.WatchSkills),
		),
	).WithShowHelp(true)

	if err := form.Run(); err != nil {
		return err
	}

	raw := []byte(renderStarterConfig(answers))
	if err := verifyGenerated(raw); err != nil {
		return fmt.Errorf("generated config failed validation: %w", err)
	}

	if _, err := os.Stat(target); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite?", target)).
			Affirmative("Overwrite").
			Negative("Cancel").
			Value(&overwrite)
		if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
			return err
		}
		if !overwrite {
			return fmt.Errorf("aborted: %s already exists", target)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// 0600: the file may contain the API key.
	if err := os.WriteFile(target, raw, 0o600); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", target)
	fmt.Println("Start the daemon with: memoryd start")
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

// renderStarterConfig writes out every module section so the file is a
// complete, editable picture of the service.
func renderStarterConfig(a wizardAnswers) string {
	return fmt.Sprintf(`version: "1"

modules:
  tracing.otel:
    enabled: false
    endpoint: localhost:4318
    sample_ratio: 1.0

  store.sqlite:
    path: ""  # empty: <data-dir>/user_memory.db

  embedder.local:
    model_path: ""  # empty: deterministic fallback embedder
    cache_size: 1000
    cache_ttl_ms: 86400000

  memory.service:
    min_similarity: 0.3
    max_age_days: 30

  retention.janitor:
    enabled: true
    max_days: 1825
    purge_days: 365
    check_interval_hours: 24

  monitor.screen:
    enabled: %t
    user_id: default_user
    capture_interval_ms: 10000
    idle_timeout_ms: 300000
    diff_threshold: 0.15
    tesseract_path: tesseract

  skills.manager:
    dir: ""  # empty: ~/.thinkdrop/skills
    watch: %t

  cron.scheduler: {}

  gateway.http:
    host: %s
    port: %s
    api_keys: %q
    allowed_origins: ""
    audit_log: ""
`, a.MonitorOCR, a.WatchSkills, a.Host, a.Port, a.APIKey)
}
