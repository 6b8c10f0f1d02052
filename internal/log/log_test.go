package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	Logger = NewJSONLogger(&buf, "debug")
	initComponentLoggers()
	defer Init("info", false, "")

	SLIP39.Info().Int("group", 1).Msg("group configured")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "slip39" {
		t.Errorf("component = %v, want slip39", entry["component"])
	}
	if entry["message"] != "group configured" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestWithWallet(t *testing.T) {
	var buf bytes.Buffer
	Logger = NewJSONLogger(&buf, "info")
	initComponentLoggers()
	defer Init("info", false, "")

	l := WithWallet("W1")
	l.Info().Msg("created")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["wallet"] != "W1" || entry["component"] != "wallet" {
		t.Errorf("fields = %v", entry)
	}
}

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	Logger = NewJSONLogger(&buf, "debug")
	initComponentLoggers()
	defer Init("info", false, "")

	WithSession("abc").Debug().Msg("share accepted")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["session"] != "abc" || entry["component"] != "slip39" {
		t.Errorf("fields = %v", entry)
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsm.log")
	if err := Init("warn", true, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Init("info", false, "")

	Store.Info().Msg("filtered")
	Store.Warn().Int("slot", 16).Msg("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("file line is not JSON: %v", err)
	}
	if entry["message"] != "kept" || entry["component"] != "store" {
		t.Errorf("fields = %v", entry)
	}
}
