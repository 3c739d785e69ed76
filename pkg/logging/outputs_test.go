package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOutputColor(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		color    bool
	}{
		{"ColorDebug", DEBUG, true},
		{"ColorInfo", INFO, true},
		{"ColorWarn", WARN, true},
		{"ColorError", ERROR, true},
		{"NoColor", INFO, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := &bytes.Buffer{}
			console := &ConsoleOutput{
				writer: buffer,
				color:  tt.color,
			}

			entry := LogEntry{
				Time:     time.Now().UnixNano(),
				Severity: tt.severity,
				Message:  "test message",
				Rank:     -1,
				Stage:    -1,
			}

			err := console.Write(entry)
			require.NoError(t, err)

			output := buffer.String()
			if tt.color {
				assert.Contains(t, output, "\033[")
			} else {
				assert.NotContains(t, output, "\033[")
			}
		})
	}
}

func TestFileOutputWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	out, err := NewFileOutput(path)
	require.NoError(t, err)

	err = out.Write(LogEntry{
		Time:     time.Now().UnixNano(),
		Severity: INFO,
		Message:  "reweighted: ess=2500.0",
		File:     "sampler.go",
		Line:     248,
		RunID:    "run-1",
		Rank:     0,
		Stage:    3,
		Exponent: 0.25,
		Fields:   map[string]interface{}{"acceptance": 0.31},
	})
	require.NoError(t, err)
	require.NoError(t, out.Sync())
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "[sampler.go:248]")
	assert.Contains(t, line, "reweighted: ess=2500.0")
	assert.Contains(t, line, "run=run-1")
	assert.Contains(t, line, "stage=3 phi=0.250000")
	assert.Contains(t, line, "acceptance=0.31")
}

func TestFileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	for _, msg := range []string{"first", "second"} {
		out, err := NewFileOutput(path)
		require.NoError(t, err)
		require.NoError(t, out.Write(LogEntry{
			Time:     time.Now().UnixNano(),
			Severity: DEBUG,
			Message:  msg,
			Stage:    -1,
		}))
		require.NoError(t, out.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestNewFileOutputBadPath(t *testing.T) {
	_, err := NewFileOutput(filepath.Join(t.TempDir(), "missing", "run.log"))
	require.Error(t, err)
}

func TestFileOutputAsLoggerOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	out, err := NewFileOutput(path)
	require.NoError(t, err)

	logger := NewLogger(Config{Severity: INFO, Outputs: []Output{out}})
	ctx := WithRunID(context.Background(), "run-7")
	ctx = WithStage(ctx, StageInfo{Index: 1, Exponent: 0.1})
	logger.Info(ctx, "stage complete")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stage complete")
	assert.Contains(t, string(data), "run=run-7")
	assert.Contains(t, string(data), "stage=1 phi=0.100000")
}

func TestOutputSyncAndClose(t *testing.T) {
	tmpFile, err := os.CreateTemp(t.TempDir(), "log-test-*")
	require.NoError(t, err)

	console := &ConsoleOutput{
		writer: tmpFile,
		color:  false,
	}

	assert.NoError(t, console.Sync())
	assert.NoError(t, console.Close())

	// Non-syncable writers are a no-op.
	console = &ConsoleOutput{
		writer: &bytes.Buffer{},
		color:  false,
	}
	assert.NoError(t, console.Sync())
	assert.NoError(t, console.Close())
}
