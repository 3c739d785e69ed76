package logging

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOutput captures log entries for inspection.
type testOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (o *testOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
	return nil
}

func (o *testOutput) Sync() error  { return nil }
func (o *testOutput) Close() error { return nil }

func TestLoggerSeverityFiltering(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{Severity: INFO, Outputs: []Output{out}})

	ctx := context.Background()
	logger.Debug(ctx, "below threshold")
	logger.Info(ctx, "at threshold")
	logger.Error(ctx, "above threshold")

	require.Len(t, out.entries, 2)
	assert.Equal(t, INFO, out.entries[0].Severity)
	assert.Equal(t, ERROR, out.entries[1].Severity)
}

func TestLoggerContextFields(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{out}})

	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithRank(ctx, 3)
	ctx = WithStage(ctx, StageInfo{Index: 5, Exponent: 0.75})

	logger.Info(ctx, "reweighting complete: ess=%.1f", 2500.0)

	require.Len(t, out.entries, 1)
	e := out.entries[0]
	assert.Equal(t, "run-42", e.RunID)
	assert.Equal(t, 3, e.Rank)
	assert.Equal(t, 5, e.Stage)
	assert.InDelta(t, 0.75, e.Exponent, 1e-12)
	assert.Contains(t, e.Message, "ess=2500.0")
}

func TestLoggerDefaultFields(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{
		Severity:      DEBUG,
		Outputs:       []Output{out},
		DefaultFields: map[string]interface{}{"component": "sampler"},
	})

	logger.Info(context.Background(), "hello")

	require.Len(t, out.entries, 1)
	assert.Equal(t, "sampler", out.entries[0].Fields["component"])
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, DEBUG, ParseSeverity("DEBUG"))
	assert.Equal(t, WARN, ParseSeverity("WARN"))
	assert.Equal(t, INFO, ParseSeverity("bogus"))
}

func TestConsoleOutputFormatting(t *testing.T) {
	var sb strings.Builder
	out := &ConsoleOutput{writer: &sb, color: false}

	err := out.Write(LogEntry{
		Severity: INFO,
		Message:  "stage complete",
		File:     "sampler.go",
		Line:     10,
		RunID:    "run-1",
		Rank:     0,
		Stage:    2,
		Exponent: 0.5,
	})
	require.NoError(t, err)

	line := sb.String()
	assert.Contains(t, line, "stage complete")
	assert.Contains(t, line, "[run=run-1]")
	assert.Contains(t, line, "[rank=0]")
	assert.Contains(t, line, "[stage=2 phi=0.5000]")
}

func TestGetLoggerReturnsSingleton(t *testing.T) {
	l1 := GetLogger()
	l2 := GetLogger()
	assert.Same(t, l1, l2)
}
