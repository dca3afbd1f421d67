package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manifest file names looked for inside each skill directory.
const (
	manifestFile = "skill.json"
	contractFile = "contract.md"
)

// Manifest is the on-disk skill descriptor. Exec is relative to the
// skill directory unless absolute; ExecType is inferred from the file
// extension when omitted.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Exec        string `json:"exec"`
	ExecType    string `json:"execType,omitempty"`
}

// Candidate is one discovered skill: its parsed manifest, the directory
// it lives in, and the optional contract document.
type Candidate struct {
	Manifest Manifest
	Dir      string
	Contract string
}

// ExecPath returns the manifest's executable as an absolute path.
func (c Candidate) ExecPath() string {
	if filepath.IsAbs(c.Manifest.Exec) {
		return filepath.Clean(c.Manifest.Exec)
	}
	return filepath.Join(c.Dir, c.Manifest.Exec)
}

// readManifest loads and checks the manifest in dir. The name defaults
// to the directory name; the exec type is inferred from the extension.
func readManifest(dir string) (Candidate, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Candidate{}, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Candidate{}, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Exec == "" {
		return Candidate{}, fmt.Errorf("%s: exec is required", manifestFile)
	}
	if m.ExecType == "" {
		m.ExecType = inferExecType(m.Exec)
	}

	c := Candidate{Manifest: m, Dir: dir}
	if contract, err := os.ReadFile(filepath.Join(dir, contractFile)); err == nil {
		c.Contract = strings.TrimSpace(string(contract))
	}
	return c, nil
}

func inferExecType(exec string) string {
	switch strings.ToLower(filepath.Ext(exec)) {
	case ".js", ".mjs", ".cjs":
		return "node"
	case ".sh":
		return "shell"
	default:
		return ""
	}
}

// Scan walks the immediate subdirectories of dir looking for skill
// manifests. Directories without a readable manifest are skipped; a
// missing root yields no candidates.
func Scan(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skills: read dir %s: %w", dir, err)
	}

	var out []Candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := readManifest(filepath.Join(dir, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("skills: %s: %w", entry.Name(), err)
		}
		out = append(out, c)
	}
	return out, nil
}
