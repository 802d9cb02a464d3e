package logger

import (
	"context"
	"fmt"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// String returns the formatted message.
func (e TestLogEntry) String() string {
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testSink struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived through With and
// WithPrefix share the same record so assertions can be made on the root.
type TestLogger struct {
	metadata map[string]interface{}
	sink     *testSink
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testSink{}}
}

func (c *TestLogger) WithContext(ctx context.Context) Logger { return c }
func (c *TestLogger) WithPrefix(prefix string) Logger        { return c }

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, sink: c.sink}
}

func (c *TestLogger) record(level string, msg string, args ...interface{}) {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.entries = append(c.sink.entries, TestLogEntry{level, msg, args, c.metadata})
}

// Entries returns a copy of everything logged so far.
func (c *TestLogger) Entries() []TestLogEntry {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	out := make([]TestLogEntry, len(c.sink.entries))
	copy(out, c.sink.entries)
	return out
}

// Count returns the number of entries logged at severity.
func (c *TestLogger) Count(severity string) int {
	var n int
	for _, e := range c.Entries() {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.record("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.record("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.record("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.record("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.record("ERROR", msg, args...) }

// Fatal records the entry but does not exit so tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) { c.record("FATAL", msg, args...) }

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool { return true }
