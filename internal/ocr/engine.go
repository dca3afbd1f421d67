// Package ocr extracts text from screen captures with a Tesseract
// subprocess and cleans the result into something worth embedding: the
// post-processing pipeline strips filenames, code, log markers, and OCR
// gibberish while preserving timestamps verbatim.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// Result is one recognition pass over an image.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	ElapsedMs  int64   `json:"elapsedMs"`
}

// Engine runs Tesseract as a subprocess, one recognition at a time. The
// binary is CPU-bound and not safe to share, so calls serialise on an
// internal lock.
type Engine struct {
	path string
	lang string
	env  []string
	log  *slog.Logger

	mu sync.Mutex
}

// NewEngine builds an engine around the given tesseract binary. An empty
// path falls back to "tesseract" on PATH. The subprocess runs with a
// sanitized environment so it never inherits the daemon's keys.
func NewEngine(path string, log *slog.Logger) *Engine {
	if path == "" {
		path = "tesseract"
	}
	return &Engine{path: path, lang: "eng", env: security.SanitizedEnv(nil), log: log}
}

// Available reports whether the tesseract binary can be resolved.
func (e *Engine) Available() bool {
	_, err := exec.LookPath(e.path)
	return err == nil
}

// ExtractText recognises English text in a PNG image. The image is piped
// over stdin and the TSV word table read from stdout, so no temp files
// are involved.
func (e *Engine) ExtractText(ctx context.Context, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("ocr: empty image")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	//nolint:gosec // binary path comes from validated config.
	cmd := exec.CommandContext(ctx, e.path, "stdin", "stdout",
		"--loglevel", "OFF", "-l", e.lang, "--psm", "3", "tsv")
	cmd.Stdin = bytes.NewReader(image)
	cmd.Env = e.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ocr: tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	text, confidence := parseTSV(stdout.String())
	res := &Result{
		Text:       text,
		Confidence: confidence,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	e.log.Debug("ocr pass", "chars", len(res.Text), "confidence", res.Confidence, "elapsed_ms", res.ElapsedMs)
	return res, nil
}

// parseTSV assembles word rows (level 5) from tesseract's TSV output into
// lines, and averages their confidences. line_num resets per paragraph,
// so lines are keyed by the (block, paragraph, line) triple.
func parseTSV(tsv string) (string, float64) {
	var (
		b        strings.Builder
		confSum  float64
		words    int
		lastLine string
	)

	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 { // header
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, err := strconv.Atoi(cols[0])
		if err != nil || level != 5 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		line := cols[2] + "/" + cols[3] + "/" + cols[4]
		if words > 0 {
			if line != lastLine {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(word)
		lastLine = line
		confSum += conf
		words++
	}

	if words == 0 {
		return "", 0
	}
	return b.String(), confSum / float64(words)
}
