// Package skills discovers, validates, and registers installed skills:
// named capabilities with a contract document and an executable inside
// the per-user sandbox directory. Manifests on disk are synced into the
// skill registry at startup, on directory changes, and on demand.
package skills

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// namePattern is the accepted skill-name shape: dot-separated lowercase
// segments, at least two, each starting with a letter.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)+$`)

// ValidateName checks a skill name against the naming pattern.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: skill name %q must match %s", memory.ErrInvalidInput, name, namePattern)
	}
	return nil
}

// ValidateSkill checks a skill's name, exec type, and that its
// executable resolves inside the sandbox directory. A relative ExecPath
// is taken relative to the sandbox; the field is rewritten to its
// cleaned absolute form.
func ValidateSkill(s *memory.InstalledSkill, sandbox string) error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.ExecType != memory.ExecTypeNode && s.ExecType != memory.ExecTypeShell {
		return fmt.Errorf("%w: execType must be node or shell, got %q", memory.ErrInvalidInput, s.ExecType)
	}
	if strings.TrimSpace(s.ExecPath) == "" {
		return fmt.Errorf("%w: execPath is required", memory.ErrInvalidInput)
	}

	path := s.ExecPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(sandbox, path)
	}
	resolved, err := security.EnsureWithin(sandbox, path)
	if err != nil {
		return fmt.Errorf("%w: execPath must be inside %s: %v", memory.ErrInvalidInput, sandbox, err)
	}
	s.ExecPath = resolved
	return nil
}
