package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Fatalf("DefaultLogDirPath() error = %v", err)
	}
	if want := filepath.Join("membersonly", "live", "logs"); !strings.HasSuffix(path, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", path, want)
	}
}

func readRecords(t *testing.T, path string) []jsonlRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", path, err)
	}
	var records []jsonlRecord
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var record jsonlRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func TestJSONLSinkWritesRecordsAndStartsNewParts(t *testing.T) {
	tmp := t.TempDir()
	sink, err := openJSONLSink(tmp, 180, 10)
	if err != nil {
		t.Fatalf("openJSONLSink() error = %v", err)
	}

	event := Event{
		Time:    time.Unix(1700000000, 0),
		Level:   slog.LevelDebug,
		Message: "stream event routed",
		Fields: map[string]any{
			"event":    "message",
			"category": "messages",
		},
	}
	for i := 0; i < 6; i++ {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("part files = %d, want at least 2", len(entries))
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), logFilePrefix+sink.runTag) || !strings.HasSuffix(entry.Name(), logFileSuffix) {
			t.Fatalf("unexpected log filename %q", entry.Name())
		}
		for _, record := range readRecords(t, filepath.Join(tmp, entry.Name())) {
			if record.Level != "DEBUG" || record.Msg != "stream event routed" || record.Fields["category"] != "messages" {
				t.Fatalf("record = %#v", record)
			}
		}
	}
}

func TestJSONLSinkPrunesOldParts(t *testing.T) {
	tmp := t.TempDir()
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("%s20200101-000000-%03d%s", logFilePrefix, i, logFileSuffix)
		if err := os.WriteFile(filepath.Join(tmp, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	sink, err := openJSONLSink(tmp, 1024, 3)
	if err != nil {
		t.Fatalf("openJSONLSink() error = %v", err)
	}
	defer sink.Close()

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	want := []string{
		logFilePrefix + "20200101-000000-003" + logFileSuffix,
		logFilePrefix + "20200101-000000-004" + logFileSuffix,
		fmt.Sprintf("%s%s-001%s", logFilePrefix, sink.runTag, logFileSuffix),
		"notes.txt",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("files = %v, want %v", names, want)
	}
}

func TestJSONLSinkRejectsWritesAfterClose(t *testing.T) {
	sink, err := openJSONLSink(t.TempDir(), 1024, 0)
	if err != nil {
		t.Fatalf("openJSONLSink() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.WriteEvent(Event{Time: time.Now(), Message: "late"}); err != os.ErrClosed {
		t.Fatalf("WriteEvent() after close = %v, want os.ErrClosed", err)
	}
}

func TestLoggerCloseStopsFilePersistence(t *testing.T) {
	tmp := t.TempDir()
	logger := New(true)
	logger.SetTerminalOutputEnabled(false)
	if err := logger.EnableFilePersistence(tmp, 1024); err != nil {
		t.Fatalf("EnableFilePersistence() error = %v", err)
	}

	logger.Info("before close", Field("access_token", "secret"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	entries, err := os.ReadDir(tmp)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir() entries=%d err=%v", len(entries), err)
	}
	records := readRecords(t, filepath.Join(tmp, entries[0].Name()))
	if len(records) != 1 || records[0].Msg != "before close" {
		t.Fatalf("records = %#v", records)
	}
	if records[0].Fields["access_token"] == "secret" {
		t.Fatalf("token persisted unredacted: %#v", records[0].Fields)
	}
}
