package core

import (
	"context"
	"math/rand"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// Model is the forward model contract: it maps a parameter vector to a
// predicted observation vector. Evaluation failures surface as
// ModelEvaluation errors; during mutation they auto-reject the proposal,
// during initialization they abort the run.
type Model interface {
	Evaluate(ctx context.Context, params []float64) ([]float64, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, params []float64) ([]float64, error)

func (f ModelFunc) Evaluate(ctx context.Context, params []float64) ([]float64, error) {
	return f(ctx, params)
}

// Prior is a univariate prior distribution over one calibrated parameter.
type Prior interface {
	// Sample draws n values from the prior using the supplied source.
	Sample(n int, rng *rand.Rand) []float64
	// LogDensity evaluates the log prior density at x.
	LogDensity(x float64) float64
}

// Likelihood scores predicted observations against observed data.
type Likelihood interface {
	LogLikelihood(predicted, observed []float64) float64
}

// PriorSet maps parameter names to their priors, preserving insertion order.
// Parameter vectors are positional in that order. The set is read-only for
// the duration of a run and referenced, not copied, by the sampler.
type PriorSet struct {
	names  []string
	priors map[string]Prior
}

// NewPriorSet creates an empty prior set.
func NewPriorSet() *PriorSet {
	return &PriorSet{priors: make(map[string]Prior)}
}

// Add registers a named prior. Duplicate names are rejected.
func (ps *PriorSet) Add(name string, prior Prior) error {
	if name == "" {
		return errors.New(errors.InvalidInput, "prior name must be non-empty")
	}
	if _, exists := ps.priors[name]; exists {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "duplicate prior name"),
			errors.Fields{"name": name},
		)
	}
	ps.names = append(ps.names, name)
	ps.priors[name] = prior
	return nil
}

// Names returns the parameter names in insertion order.
func (ps *PriorSet) Names() []string {
	out := make([]string, len(ps.names))
	copy(out, ps.names)
	return out
}

// Dim returns the number of calibrated parameters.
func (ps *PriorSet) Dim() int { return len(ps.names) }

// SampleVectors draws n parameter vectors from the joint prior.
func (ps *PriorSet) SampleVectors(n int, rng *rand.Rand) [][]float64 {
	d := ps.Dim()
	vectors := make([][]float64, n)
	for i := range vectors {
		vectors[i] = make([]float64, d)
	}
	for j, name := range ps.names {
		draws := ps.priors[name].Sample(n, rng)
		for i := 0; i < n; i++ {
			vectors[i][j] = draws[i]
		}
	}
	return vectors
}

// LogDensity evaluates the joint log prior density at a parameter vector.
func (ps *PriorSet) LogDensity(params []float64) float64 {
	var total float64
	for j, name := range ps.names {
		total += ps.priors[name].LogDensity(params[j])
	}
	return total
}

// StageContext is the immutable per-stage value every worker receives at a
// stage boundary, so all workers observe identical stage state without
// shared globals.
type StageContext struct {
	Stage        int
	Exponent     float64
	ESSThreshold float64
	Seed         int64
}
