package logging

import "context"

// LogEntry represents a structured log record with fields particularly
// relevant to sampling runs.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Sampler-specific fields
	RunID    string  // Identifier of the sampling run
	Rank     int     // Worker rank emitting the entry (-1 when unset)
	Stage    int     // Tempering stage index (-1 when unset)
	Exponent float64 // Tempering exponent at emission time

	// General structured data
	Fields map[string]interface{}
}

type contextKey int

const (
	runIDKey contextKey = iota
	rankKey
	stageKey
)

// StageInfo identifies the tempering stage a log entry belongs to.
type StageInfo struct {
	Index    int
	Exponent float64
}

// WithRunID attaches a run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves the run identifier from the context.
func GetRunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}

// WithRank attaches a worker rank to the context.
func WithRank(ctx context.Context, rank int) context.Context {
	return context.WithValue(ctx, rankKey, rank)
}

// GetRank retrieves the worker rank from the context.
func GetRank(ctx context.Context) (int, bool) {
	rank, ok := ctx.Value(rankKey).(int)
	return rank, ok
}

// WithStage attaches tempering stage information to the context.
func WithStage(ctx context.Context, info StageInfo) context.Context {
	return context.WithValue(ctx, stageKey, info)
}

// GetStage retrieves tempering stage information from the context.
func GetStage(ctx context.Context) (StageInfo, bool) {
	info, ok := ctx.Value(stageKey).(StageInfo)
	return info, ok
}
