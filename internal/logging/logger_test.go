package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func testConfig(buf *bytes.Buffer) *Config {
	return &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testConfig(&buf))

	screenLogger := logger.WithScreen(0)
	screenLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "screen=0") {
		t.Errorf("Expected screen=0 in output, got: %s", output)
	}

	// CRTC context stacks on top of the screen context
	buf.Reset()
	crtcLogger := screenLogger.WithCrtc(42)
	crtcLogger.Info("crtc message")

	output = buf.String()
	if !strings.Contains(output, "screen=0") {
		t.Errorf("Expected screen=0 in crtc logger output, got: %s", output)
	}
	if !strings.Contains(output, "crtc_id=42") {
		t.Errorf("Expected crtc_id=42 in output, got: %s", output)
	}
}

func TestLoggerWithSequence(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testConfig(&buf))

	seqLogger := logger.WithSequence(123)
	seqLogger.Debug("queued vblank")

	output := buf.String()
	if !strings.Contains(output, "seq=123") {
		t.Errorf("Expected seq=123 in output, got: %s", output)
	}
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testConfig(&buf))

	logger.WithPrefix("Present").Info("pageflip queued")

	output := buf.String()
	if !strings.Contains(output, "source=Present") {
		t.Errorf("Expected source=Present in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testConfig(&buf))

	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(testConfig(&buf)))
	defer SetDefault(NewLogger(nil))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("Expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("Expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("Expected error message, got: %s", buf.String())
	}
}
