package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// WindowInfo identifies the foreground window at capture time.
type WindowInfo struct {
	AppName string
	Title   string
}

// WindowSource reports the active foreground window (breaks the platform
// dependency for tests).
type WindowSource interface {
	ActiveWindow(ctx context.Context) (WindowInfo, error)
}

// ScreenSource captures the primary display as a PNG.
type ScreenSource interface {
	CaptureScreen(ctx context.Context) ([]byte, error)
}

// IdleSource reports how long since the last user input.
type IdleSource interface {
	IdleTime(ctx context.Context) (time.Duration, error)
}

// Sources bundles the platform capture dependencies.
type Sources struct {
	Window WindowSource
	Screen ScreenSource
	Idle   IdleSource // nil when the platform offers no idle probe
}

// ErrUnsupportedPlatform is returned on platforms without capture
// helpers.
var ErrUnsupportedPlatform = errors.New("monitor: unsupported platform")

// NewSources wires exec-backed capture sources for the current platform.
// All probing goes through external helper binaries so the daemon itself
// stays CGO-free.
func NewSources(log *slog.Logger) (*Sources, error) {
	switch runtime.GOOS {
	case "darwin":
		return darwinSources()
	case "linux":
		return linuxSources(log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}
}

// runCommand executes a capture helper with a sanitized environment and
// returns its stdout.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	//nolint:gosec // fixed helper binaries with fixed argv.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = security.SanitizedEnv(nil)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// --- darwin ---

func darwinSources() (*Sources, error) {
	for _, bin := range []string{"screencapture", "osascript", "ioreg"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("monitor: %s not found: %w", bin, err)
		}
	}
	return &Sources{
		Window: darwinWindow{},
		Screen: darwinScreen{},
		Idle:   darwinIdle{},
	}, nil
}

const frontmostScript = `tell application "System Events"
	set proc to first application process whose frontmost is true
	set appName to name of proc
	set winTitle to ""
	try
		set winTitle to name of front window of proc
	end try
	return appName & linefeed & winTitle
end tell`

type darwinWindow struct{}

func (darwinWindow) ActiveWindow(ctx context.Context) (WindowInfo, error) {
	out, err := runCommand(ctx, "osascript", "-e", frontmostScript)
	if err != nil {
		return WindowInfo{}, fmt.Errorf("monitor: frontmost window: %w", err)
	}
	lines := strings.SplitN(out, "\n", 2)
	info := WindowInfo{AppName: strings.TrimSpace(lines[0])}
	if len(lines) > 1 {
		info.Title = strings.TrimSpace(lines[1])
	}
	return info, nil
}

type darwinScreen struct{}

func (darwinScreen) CaptureScreen(ctx context.Context) ([]byte, error) {
	f, err := os.CreateTemp("", "capture-*.png")
	if err != nil {
		return nil, fmt.Errorf("monitor: temp file: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()

	if _, err := runCommand(ctx, "screencapture", "-x", "-t", "png", path); err != nil {
		return nil, fmt.Errorf("monitor: screencapture: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("monitor: read capture: %w", err)
	}
	return data, nil
}

// ioreg reports HIDIdleTime in nanoseconds.
var hidIdlePattern = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

type darwinIdle struct{}

func (darwinIdle) IdleTime(ctx context.Context) (time.Duration, error) {
	out, err := runCommand(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		return 0, fmt.Errorf("monitor: ioreg: %w", err)
	}
	m := hidIdlePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("monitor: HIDIdleTime not reported")
	}
	ns, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("monitor: parse HIDIdleTime: %w", err)
	}
	return time.Duration(ns), nil
}

// --- linux (X11) ---

func linuxSources(log *slog.Logger) (*Sources, error) {
	for _, bin := range []string{"xdotool", "import"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("monitor: %s not found: %w", bin, err)
		}
	}
	src := &Sources{Window: x11Window{}, Screen: x11Screen{}}
	if _, err := exec.LookPath("xprintidle"); err == nil {
		src.Idle = x11Idle{}
	} else {
		log.Warn("monitor: xprintidle not found, idle detection disabled")
	}
	return src, nil
}

// WM_CLASS(STRING) = "instance", "Class"
var wmClassPattern = regexp.MustCompile(`"[^"]*",\s*"([^"]+)"`)

type x11Window struct{}

func (x11Window) ActiveWindow(ctx context.Context) (WindowInfo, error) {
	id, err := runCommand(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return WindowInfo{}, fmt.Errorf("monitor: active window id: %w", err)
	}
	id = strings.TrimSpace(id)

	title, err := runCommand(ctx, "xdotool", "getwindowname", id)
	if err != nil {
		return WindowInfo{}, fmt.Errorf("monitor: window name: %w", err)
	}

	info := WindowInfo{Title: strings.TrimSpace(title)}
	if out, err := runCommand(ctx, "xprop", "-id", id, "WM_CLASS"); err == nil {
		if m := wmClassPattern.FindStringSubmatch(out); m != nil {
			info.AppName = m[1]
		}
	}
	if info.AppName == "" {
		info.AppName = "unknown"
	}
	return info, nil
}

type x11Screen struct{}

func (x11Screen) CaptureScreen(ctx context.Context) ([]byte, error) {
	//nolint:gosec // fixed argv, no caller input.
	cmd := exec.CommandContext(ctx, "import", "-window", "root", "-silent", "png:-")
	cmd.Env = security.SanitizedEnv(nil)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("monitor: import: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type x11Idle struct{}

func (x11Idle) IdleTime(ctx context.Context) (time.Duration, error) {
	out, err := runCommand(ctx, "xprintidle")
	if err != nil {
		return 0, fmt.Errorf("monitor: xprintidle: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("monitor: parse idle time: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
