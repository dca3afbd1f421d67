// Package monitor watches the active screen and turns meaningful changes
// into screen-capture memory records. Each tick walks a gate chain:
// idle check, window-title diff, pixel diff, OCR text length, text-hash
// dedup. Only a frame that clears every gate is embedded and stored.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/ocr"
)

// Sentinel errors for observer lifecycle operations.
var (
	ErrAlreadyStarted = errors.New("monitor: already started")
	ErrNotStarted     = errors.New("monitor: not started")
)

// Entity types attached to every screen-capture record.
const (
	entityApplication = "application"
	entityWindowTitle = "window_title"
)

// maxEmbedTextLen caps the text sent to the embedder.
const maxEmbedTextLen = 2000

// TickOutcome names the gate at which a tick ended.
type TickOutcome string

const (
	OutcomeCaptured  TickOutcome = "captured"
	OutcomeIdle      TickOutcome = "idle"
	OutcomeUnchanged TickOutcome = "unchanged"
	OutcomeShortText TickOutcome = "short_text"
	OutcomeSameText  TickOutcome = "same_text"
	OutcomeCoalesced TickOutcome = "coalesced"
	OutcomeError     TickOutcome = "error"
)

// TextRecognizer runs OCR over a captured frame (breaks the ocr engine
// dependency for tests).
type TextRecognizer interface {
	ExtractText(ctx context.Context, image []byte) (*ocr.Result, error)
}

// RecordWriter persists screen-capture records (breaks the store module
// dependency).
type RecordWriter interface {
	Insert(ctx context.Context, rec *memory.Record, entities []memory.Entity) error
}

// Publisher fans out activity events; nil disables publishing.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Observation is one successful capture, kept in a bounded ring for the
// recent-OCR query.
type Observation struct {
	MemoryID    string    `json:"memoryId"`
	AppName     string    `json:"appName"`
	WindowTitle string    `json:"windowTitle,omitempty"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	CapturedAt  time.Time `json:"capturedAt"`
}

// Stats is a snapshot of the observer counters.
type Stats struct {
	Running   bool   `json:"running"`
	Ticks     uint64 `json:"ticks"`
	Captures  uint64 `json:"captures"`
	Skips     uint64 `json:"skips"`
	Coalesced uint64 `json:"coalesced"`
	Failures  uint64 `json:"failures"`
}

// Config holds observer configuration.
type Config struct {
	UserID        string
	Interval      time.Duration // default 10s
	IdleTimeout   time.Duration // default 5m
	DiffThreshold float64       // default 0.15
	MinTextLen    int           // default 10
	MaxRecent     int           // default 50
	ScreensDir    string        // empty = no PNG persistence
	Logger        *slog.Logger
	Now           func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.UserID == "" {
		c.UserID = memory.DefaultUserID
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.DiffThreshold <= 0 {
		c.DiffThreshold = 0.15
	}
	if c.MinTextLen <= 0 {
		c.MinTextLen = 10
	}
	if c.MaxRecent <= 0 {
		c.MaxRecent = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Observer runs the capture loop.
type Observer struct {
	cfg        Config
	win        WindowSource
	screen     ScreenSource
	idle       IdleSource
	recognizer TextRecognizer
	embedder   memory.Embedder
	writer     RecordWriter
	pub        Publisher
	detector   *ocr.TextChangeDetector

	// tickMu serialises ticks; TryLock coalesces overruns.
	tickMu sync.Mutex

	// stateMu guards the diff state and the recent ring.
	stateMu         sync.Mutex
	lastAppName     string
	lastWindowTitle string
	lastScreenshot  []byte
	recent          []Observation

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks     atomic.Uint64
	captures  atomic.Uint64
	skips     atomic.Uint64
	coalesced atomic.Uint64
	failures  atomic.Uint64
}

// New creates an Observer. The idle source and publisher may be nil.
func New(cfg Config, src *Sources, recognizer TextRecognizer, embedder memory.Embedder, writer RecordWriter, pub Publisher) (*Observer, error) {
	if src == nil || src.Window == nil || src.Screen == nil {
		return nil, errors.New("monitor: nil capture sources")
	}
	if recognizer == nil {
		return nil, errors.New("monitor: nil TextRecognizer")
	}
	if embedder == nil {
		return nil, errors.New("monitor: nil Embedder")
	}
	if writer == nil {
		return nil, errors.New("monitor: nil RecordWriter")
	}
	return &Observer{
		cfg:        cfg.withDefaults(),
		win:        src.Window,
		screen:     src.Screen,
		idle:       src.Idle,
		recognizer: recognizer,
		embedder:   embedder,
		writer:     writer,
		pub:        pub,
		detector:   ocr.NewTextChangeDetector(),
	}, nil
}

// Start begins the capture loop. Returns ErrAlreadyStarted if called
// twice.
func (o *Observer) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.run(ctx)
	return nil
}

// Stop cancels the loop and awaits the in-flight tick until ctx expires.
func (o *Observer) Stop(ctx context.Context) error {
	o.runMu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.runMu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if outcome, err := o.Tick(ctx); err != nil && ctx.Err() == nil {
				o.cfg.Logger.Warn("monitor: tick failed", "outcome", string(outcome), "error", err)
			}
		}
	}
}

// Tick runs one observation pass. Concurrent calls coalesce: if a tick is
// already in flight the new one returns immediately.
func (o *Observer) Tick(ctx context.Context) (TickOutcome, error) {
	if !o.tickMu.TryLock() {
		o.coalesced.Add(1)
		return OutcomeCoalesced, nil
	}
	defer o.tickMu.Unlock()

	o.ticks.Add(1)
	outcome, err := o.observe(ctx)
	switch {
	case err != nil:
		o.failures.Add(1)
	case outcome == OutcomeCaptured:
		o.captures.Add(1)
	default:
		o.skips.Add(1)
	}
	return outcome, err
}

func (o *Observer) observe(ctx context.Context) (TickOutcome, error) {
	now := o.cfg.Now().UTC()

	if o.idle != nil {
		idle, err := o.idle.IdleTime(ctx)
		if err != nil {
			o.cfg.Logger.Debug("monitor: idle probe failed", "error", err)
		} else if idle >= o.cfg.IdleTimeout {
			return OutcomeIdle, nil
		}
	}

	info, err := o.win.ActiveWindow(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("monitor: active window: %w", err)
	}

	o.stateMu.Lock()
	titleChanged := info.AppName != o.lastAppName || info.Title != o.lastWindowTitle
	prev := o.lastScreenshot
	o.stateMu.Unlock()

	frame, err := o.screen.CaptureScreen(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("monitor: capture: %w", err)
	}

	if !titleChanged {
		ratio, err := DiffRatio(prev, frame)
		if err != nil {
			return OutcomeError, err
		}
		if ratio <= o.cfg.DiffThreshold {
			return OutcomeUnchanged, nil
		}
	}

	// Committed to a capture: the new frame becomes the diff base even if
	// a text gate skips below, otherwise an unchanged title would force a
	// re-capture every tick.
	o.stateMu.Lock()
	o.lastAppName = info.AppName
	o.lastWindowTitle = info.Title
	o.lastScreenshot = frame
	o.stateMu.Unlock()

	res, err := o.recognizer.ExtractText(ctx, frame)
	if err != nil {
		return OutcomeError, fmt.Errorf("monitor: ocr: %w", err)
	}
	proc := ocr.Process(res.Text)
	if len(proc.Text) < o.cfg.MinTextLen {
		return OutcomeShortText, nil
	}
	if changed, _ := o.detector.Check(proc.Text); !changed {
		return OutcomeSameText, nil
	}

	return o.persist(ctx, now, info, frame, proc, res.Confidence)
}

func (o *Observer) persist(ctx context.Context, now time.Time, info WindowInfo, frame []byte, proc ocr.Processed, confidence float64) (TickOutcome, error) {
	embedText := composeEmbedText(info, proc.Text)

	emb, err := o.embedder.Embed(ctx, embedText)
	if err != nil {
		return OutcomeError, fmt.Errorf("monitor: embed: %w", err)
	}

	rec := &memory.Record{
		ID:            memory.NewRecordID(now),
		UserID:        o.cfg.UserID,
		Type:          memory.TypeScreenCapture,
		SourceText:    embedText,
		Metadata:      screenMetadata(info, confidence, proc),
		ExtractedText: proc.Text,
		Embedding:     emb.Vector,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if o.cfg.ScreensDir != "" {
		if path, err := o.saveScreenshot(rec.ID, frame); err != nil {
			o.cfg.Logger.Warn("monitor: save screenshot failed", "error", err)
		} else {
			rec.Screenshot = path
		}
	}

	entities := make([]memory.Entity, 0, 2)
	for _, e := range []struct{ typ, value string }{
		{entityApplication, info.AppName},
		{entityWindowTitle, info.Title},
	} {
		if e.value == "" {
			continue
		}
		entities = append(entities, memory.Entity{
			ID:              memory.NewEntityID(now),
			MemoryID:        rec.ID,
			Value:           e.value,
			Type:            e.typ,
			EntityType:      e.typ,
			NormalizedValue: strings.ToLower(e.value),
			CreatedAt:       now,
		})
	}

	if err := o.writer.Insert(ctx, rec, entities); err != nil {
		return OutcomeError, fmt.Errorf("monitor: insert: %w", err)
	}

	o.remember(Observation{
		MemoryID:    rec.ID,
		AppName:     info.AppName,
		WindowTitle: info.Title,
		Text:        proc.Text,
		Confidence:  confidence,
		CapturedAt:  now,
	})

	if o.pub != nil {
		o.pub.Publish(events.TypeScreenCaptured, map[string]any{
			"memoryId": rec.ID,
			"appName":  info.AppName,
		})
	}

	o.cfg.Logger.Info("monitor: screen captured",
		"memory_id", rec.ID,
		"app", info.AppName,
		"chars", len(proc.Text),
		"embedding_source", emb.Source,
	)
	return OutcomeCaptured, nil
}

func composeEmbedText(info WindowInfo, text string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{info.AppName, info.Title, text} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, " ")
	if len(s) > maxEmbedTextLen {
		s = s[:maxEmbedTextLen]
	}
	return s
}

func screenMetadata(info WindowInfo, confidence float64, proc ocr.Processed) string {
	doc := struct {
		Source       string   `json:"source"`
		AppName      string   `json:"appName"`
		WindowTitle  string   `json:"windowTitle,omitempty"`
		Confidence   float64  `json:"ocrConfidence"`
		FileNames    []string `json:"fileNames,omitempty"`
		CodeSnippets []string `json:"codeSnippets,omitempty"`
	}{
		Source:       "screen_monitor",
		AppName:      info.AppName,
		WindowTitle:  info.Title,
		Confidence:   confidence,
		FileNames:    proc.FileNames,
		CodeSnippets: proc.CodeSnippets,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (o *Observer) saveScreenshot(id string, frame []byte) (string, error) {
	if err := os.MkdirAll(o.cfg.ScreensDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(o.cfg.ScreensDir, id+".png")
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (o *Observer) remember(obs Observation) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.recent = append(o.recent, obs)
	if len(o.recent) > o.cfg.MaxRecent {
		o.recent = o.recent[len(o.recent)-o.cfg.MaxRecent:]
	}
}

// Recent returns up to n observations, newest first. n <= 0 returns all.
func (o *Observer) Recent(n int) []Observation {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if n <= 0 || n > len(o.recent) {
		n = len(o.recent)
	}
	out := make([]Observation, 0, n)
	for i := len(o.recent) - 1; i >= len(o.recent)-n; i-- {
		out = append(out, o.recent[i])
	}
	return out
}

// Stats returns a snapshot of the observer counters.
func (o *Observer) Stats() Stats {
	o.runMu.Lock()
	running := o.cancel != nil
	o.runMu.Unlock()

	return Stats{
		Running:   running,
		Ticks:     o.ticks.Load(),
		Captures:  o.captures.Load(),
		Skips:     o.skips.Load(),
		Coalesced: o.coalesced.Load(),
		Failures:  o.failures.Load(),
	}
}
