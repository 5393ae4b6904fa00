package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is a leveled structured logger. Loggers derived with With share
// output, file persistence and subscribers with their parent.
type Logger struct {
	core  *core
	attrs []slog.Attr
}

type core struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	out          io.Writer
	mu           sync.RWMutex
	sink         *jsonlSink
	nextID       int
	subscribers  map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	c := &core{
		pretty:      shouldPrettyPrint(),
		out:         os.Stderr,
		subscribers: map[int]func(Event){},
	}
	c.debugEnabled.Store(debug)
	c.terminalOut.Store(true)
	return &Logger{core: c}
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// With returns a logger that adds fields to every event it records.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(fields))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, fields...)
	return &Logger{core: l.core, attrs: attrs}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug events still reach the file sink when terminal debug output is off.
	l.log(slog.LevelDebug, msg, fields, l.core.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.terminalOut.Store(enabled)
}

// EnableFilePersistence starts writing every event, debug included, to
// JSONL files in dir. An empty dir means DefaultLogDirPath.
func (l *Logger) EnableFilePersistence(dir string, maxBytes int64) error {
	if l == nil {
		return nil
	}
	if dir == "" {
		defaultDir, err := DefaultLogDirPath()
		if err != nil {
			return err
		}
		dir = defaultDir
	}
	sink, err := openJSONLSink(dir, maxBytes, defaultLogFileKeep)
	if err != nil {
		return err
	}
	l.core.mu.Lock()
	old := l.core.sink
	l.core.sink = sink
	l.core.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.core.mu.Lock()
	sink := l.core.sink
	l.core.sink = nil
	l.core.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// Subscribe registers fn for every published event and returns a function
// that removes the registration.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	c := l.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, fields []slog.Attr, publish bool) {
	attrs := fields
	if len(l.attrs) > 0 {
		attrs = make([]slog.Attr, 0, len(l.attrs)+len(fields))
		attrs = append(attrs, l.attrs...)
		attrs = append(attrs, fields...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}
	c := l.core
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !publish {
		return
	}
	if c.terminalOut.Load() {
		c.emit(event)
	}
	c.publish(event)
}

func (c *core) emit(event Event) {
	if c.pretty {
		_, _ = io.WriteString(c.out, FormatEventANSI(event))
		return
	}
	_, _ = io.WriteString(c.out, FormatEventLine(event))
}

func (c *core) publish(event Event) {
	c.mu.RLock()
	if len(c.subscribers) == 0 {
		c.mu.RUnlock()
		return
	}
	callbacks := make([]func(Event), 0, len(c.subscribers))
	for _, cb := range c.subscribers {
		callbacks = append(callbacks, cb)
	}
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}
