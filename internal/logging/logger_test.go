package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")
	logger.Debug("swept", "accounts", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "swept" || entry["service"] != "moneyledger" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewWithWriterTextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "not-a-level", "text")
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug should be filtered at default info level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Fatalf("expected text output, got %s", out)
	}
}
