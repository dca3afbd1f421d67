package security

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_WritesJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger := NewAuditLogger(AuditLoggerConfig{
		Writer: &buf,
		Now:    func() time.Time { return fixedTime },
	})

	logger.Log(AuditEvent{
		Type:   EventMemoryDelete,
		Action: "memory.delete",
		UserID: "default_user",
		Detail: "mem_1700000000000_abcdef12",
	})

	var got AuditEvent
	if err := json.NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatalf("failed to decode JSONL: %v", err)
	}

	if got.Type != EventMemoryDelete {
		t.Errorf("type = %q, want %q", got.Type, EventMemoryDelete)
	}
	if got.Action != "memory.delete" {
		t.Errorf("action = %q, want memory.delete", got.Action)
	}
	if got.UserID != "default_user" {
		t.Errorf("user_id = %q, want default_user", got.UserID)
	}
	if !got.Timestamp.Equal(fixedTime) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, fixedTime)
	}
}

func TestAuditLogger_RedactsDetailAndMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("my-secret-key")

	logger := NewAuditLogger(AuditLoggerConfig{
		Writer:   &buf,
		Redactor: r,
	})

	meta := map[string]string{
		"header": "value is my-secret-key here",
	}
	logger.Log(AuditEvent{
		Type:     EventAuthFailure,
		Detail:   "attempt with my-secret-key",
		Metadata: meta,
	})

	output := buf.String()
	if strings.Contains(output, "my-secret-key") {
		t.Errorf("secret found in audit output: %s", output)
	}
	if !strings.Contains(output, RedactPlaceholder) {
		t.Errorf("expected placeholder in audit output: %s", output)
	}

	// The caller's map must not be mutated.
	if meta["header"] != "value is my-secret-key here" {
		t.Errorf("caller metadata mutated: %q", meta["header"])
	}
}

func TestAuditLogger_OnEventCallback(t *testing.T) {
	t.Parallel()

	var events []AuditEvent
	logger := NewAuditLogger(AuditLoggerConfig{
		OnEvent: func(e AuditEvent) { events = append(events, e) },
	})

	logger.Log(AuditEvent{Type: EventAuthSuccess})
	logger.Log(AuditEvent{Type: EventRateLimit})

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventAuthSuccess || events[1].Type != EventRateLimit {
		t.Errorf("event order = %v, %v", events[0].Type, events[1].Type)
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEvent{Type: EventAuthFailure, Detail: "concurrent"})
		}()
	}
	wg.Wait()

	// Every line must decode cleanly: no interleaved writes.
	dec := json.NewDecoder(&buf)
	count := 0
	for dec.More() {
		var e AuditEvent
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("corrupt JSONL line %d: %v", count, err)
		}
		count++
	}
	if count != 20 {
		t.Errorf("decoded %d events, want 20", count)
	}
}

func TestAuditLogger_NilWriter(t *testing.T) {
	t.Parallel()

	logger := NewAuditLogger(AuditLoggerConfig{})
	// Must not panic with neither writer nor callback.
	logger.Log(AuditEvent{Type: EventMemoryClear})
}
