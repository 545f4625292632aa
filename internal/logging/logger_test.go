package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogrusLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json").With("component", "test")
	log.Warn(context.Background(), "vault overdue", "vault_id", "v1", "err", errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "vault overdue" || entry["level"] != "warning" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["component"] != "test" || entry["vault_id"] != "v1" || entry["err"] != "boom" {
		t.Fatalf("missing fields in %v", entry)
	}
}

func TestLogrusLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "error", "text")
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at error level, got %q", buf.String())
	}
	log.Error(context.Background(), "shown", "odd")
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "BADKEY") {
		t.Fatalf("expected error line with dangling key, got %q", buf.String())
	}
}
