package gateway

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKeys is a comma-separated list of accepted bearer keys. Empty
	// disables authentication (logged as a warning at startup).
	APIKeys string `yaml:"api_keys"`

	// AllowedOrigins is a comma-separated CORS allow-list. Empty disables
	// cross-origin access; "*" allows any origin.
	AllowedOrigins string `yaml:"allowed_origins"`

	// AuditLog is a path for JSONL audit output. Empty disables the file;
	// auth and destructive-action events then only reach the main logger.
	AuditLog string `yaml:"audit_log"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps envelope request bodies. Oversize bodies are
	// rejected with PAYLOAD_TOO_LARGE before any parsing.
	MaxBodyBytes int `yaml:"max_body_bytes"`

	RateLimits security.RateLimitConfig `yaml:"rate_limits"`
}

// defaults fills zero values with sensible defaults. The write timeout
// stays above the 30 s action deadline so the deadline fires first.
func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 3001
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 35 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = security.DefaultMaxPayloadSize
	}
}

// addr returns the listen address.
func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// keys returns the parsed bearer key list, empties dropped.
func (c *Config) keys() []string {
	return splitCSV(c.APIKeys)
}

// origins returns the parsed CORS allow-list.
func (c *Config) origins() []string {
	return splitCSV(c.AllowedOrigins)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
