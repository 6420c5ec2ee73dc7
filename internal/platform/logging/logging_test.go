package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatLog(t *testing.T) {
	tests := []struct {
		tag, msg, want string
	}{
		{"ASR", "stream opened", "[ASR] stream opened"},
		{"", "plain", "plain"},
		{"ASR", "[SESSION] already tagged", "[SESSION] already tagged"},
		{" AUDIO ", " trimmed ", "[AUDIO] trimmed"},
	}
	for _, tt := range tests {
		if got := FormatLog(tt.tag, tt.msg); got != tt.want {
			t.Errorf("FormatLog(%q, %q) = %q, want %q", tt.tag, tt.msg, got, tt.want)
		}
	}
}

func TestLoggerWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, err := New(Config{Level: "info", Dir: dir, Filename: "server.log", Console: &console})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.InfoTag("ASR", "reconnecting attempt=%d", 3)
	logger.WarnTag("AUDIO", "frame rejected", "client_id", "c1")
	logger.DebugTag("AUDIO", "suppressed at info level")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out := console.String()
	if !strings.Contains(out, "[ASR] reconnecting attempt=3") {
		t.Errorf("console missing formatted message: %q", out)
	}
	if !strings.Contains(out, "client_id=c1") {
		t.Errorf("console missing key/value attrs: %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Errorf("debug record leaked at info level: %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "server.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file has %d records, want 2", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if rec["client_id"] != "c1" || rec["level"] != "WARN" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestLoggerMapFields(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Config{Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	logger.Debug("fields", map[string]any{"b": 2, "a": 1})
	out := console.String()
	if strings.Index(out, "a=1") > strings.Index(out, "b=2") {
		t.Errorf("map fields should be sorted: %q", out)
	}
}

func TestRotateArchivesAndCleans(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "info", Dir: dir, Filename: "server.log", Console: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	old := filepath.Join(dir, "server-2000-01-01.log")
	if err := os.WriteFile(old, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	prevDate := logger.currentDate

	logger.checkAndRotate(time.Now().AddDate(0, 0, 1))

	if _, err := os.Stat(filepath.Join(dir, "server-"+prevDate+".log")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expired log should be removed, stat err = %v", err)
	}
}

func TestNilLoggerTagsAreNoops(t *testing.T) {
	var l *Logger
	l.InfoTag("ASR", "nothing")
	l.ErrorTag("ASR", "nothing")
}
