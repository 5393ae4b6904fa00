package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogFileMaxBytes = 5 * 1024 * 1024
	defaultLogFileKeep     = 20
	logFilePrefix          = "live-"
	logFileSuffix          = ".jsonl"
)

// jsonlSink writes one JSON object per event. Each process run gets its own
// series of part files; a part is closed once the next line would push it
// past maxBytes, and only the newest keep part files in dir survive.
type jsonlSink struct {
	mu       sync.Mutex
	dir      string
	runTag   string
	maxBytes int64
	keep     int

	part    int
	current *os.File
	written int64
	closed  bool
}

type jsonlRecord struct {
	TS     string         `json:"ts"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(root, "membersonly", "live", "logs"), nil
}

func openJSONLSink(dir string, maxBytes int64, keep int) (*jsonlSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	if keep <= 0 {
		keep = defaultLogFileKeep
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	sink := &jsonlSink{
		dir:      dir,
		runTag:   time.Now().UTC().Format("20060102-150405"),
		maxBytes: maxBytes,
		keep:     keep,
	}
	if err := sink.nextPartLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *jsonlSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (s *jsonlSink) WriteEvent(event Event) error {
	if s == nil {
		return nil
	}
	line, err := encodeJSONLRecord(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	full := s.written > 0 && s.written+int64(len(line)) > s.maxBytes
	if s.current == nil || full {
		if err := s.nextPartLocked(); err != nil {
			return err
		}
	}
	n, err := s.current.Write(line)
	s.written += int64(n)
	return err
}

func encodeJSONLRecord(event Event) ([]byte, error) {
	record := jsonlRecord{
		TS:    event.Time.UTC().Format(time.RFC3339Nano),
		Level: strings.ToUpper(event.Level.String()),
		Msg:   event.Message,
	}
	if len(event.Fields) > 0 {
		record.Fields = make(map[string]any, len(event.Fields))
		for key, value := range event.Fields {
			record.Fields[key] = jsonFieldValue(value)
		}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode log record: %w", err)
	}
	return append(payload, '\n'), nil
}

func (s *jsonlSink) nextPartLocked() error {
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}
	s.part++
	name := fmt.Sprintf("%s%s-%03d%s", logFilePrefix, s.runTag, s.part, logFileSuffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	s.current = f
	s.written = info.Size()
	s.pruneLocked()
	return nil
}

// pruneLocked removes the oldest part files beyond keep. Names sort by run
// tag then part number, so lexical order is age order.
func (s *jsonlSink) pruneLocked() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logFilePrefix) && strings.HasSuffix(name, logFileSuffix) {
			names = append(names, name)
		}
	}
	if len(names) <= s.keep {
		return
	}
	slices.Sort(names)
	for _, name := range names[:len(names)-s.keep] {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

func jsonFieldValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case error:
		return v.Error()
	case slog.Level:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}
