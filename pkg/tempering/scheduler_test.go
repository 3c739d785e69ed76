package tempering

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

func uniformWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

func TestSchedulerFullJumpOnFlatLikelihood(t *testing.T) {
	// Identical likelihoods leave the weights untouched for any delta, so
	// the scheduler jumps straight to exponent 1.
	n := 100
	logLikes := make([]float64, n)
	for i := range logLikes {
		logLikes[i] = -3.5
	}

	s := NewScheduler(0.5)
	delta, err := s.NextIncrement(logLikes, uniformWeights(n))
	require.NoError(t, err)
	assert.Equal(t, 1.0, delta)
	assert.Equal(t, 1.0, s.Exponent())
	assert.True(t, s.Done())
}

func TestSchedulerMonotoneAndTerminatesAtOne(t *testing.T) {
	// A spread of likelihoods forces several stages; the exponent sequence
	// must be strictly non-decreasing and land exactly on 1 within a
	// bounded number of stages.
	rng := rand.New(rand.NewSource(42))
	n := 1000
	logLikes := make([]float64, n)
	for i := range logLikes {
		logLikes[i] = -50 * rng.Float64() * rng.Float64()
	}

	s := NewScheduler(0.8)
	prev := 0.0
	stages := 0
	for !s.Done() {
		stages++
		require.LessOrEqual(t, stages, 200, "schedule did not terminate")

		delta, err := s.NextIncrement(logLikes, uniformWeights(n))
		require.NoError(t, err)
		assert.Greater(t, delta, 0.0)
		assert.GreaterOrEqual(t, s.Exponent(), prev)
		prev = s.Exponent()
	}
	assert.Equal(t, 1.0, s.Exponent(), "terminal exponent must be exactly 1")
	assert.Greater(t, stages, 1, "spread likelihoods should need multiple stages")
	assert.Len(t, s.History(), stages)
}

func TestSchedulerBisectionHitsESSTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 5000
	logLikes := make([]float64, n)
	for i := range logLikes {
		logLikes[i] = -100 * rng.Float64()
	}

	threshold := 0.5
	s := NewScheduler(threshold)
	weights := uniformWeights(n)

	delta, err := s.NextIncrement(logLikes, weights)
	require.NoError(t, err)
	require.Less(t, delta, 1.0, "first stage should not jump to 1")

	ess := candidateESS(logLikes, weights, delta)
	assert.InEpsilon(t, threshold*float64(n), ess, 0.05)
}

func TestSchedulerNoValidIncrement(t *testing.T) {
	// One particle utterly dominates: any positive increment collapses the
	// population onto it.
	n := 10
	logLikes := make([]float64, n)
	for i := range logLikes {
		logLikes[i] = math.Inf(-1)
	}
	logLikes[0] = 0

	s := NewScheduler(0.5)
	_, err := s.NextIncrement(logLikes, uniformWeights(n))
	require.Error(t, err)
	assert.Equal(t, errors.NoValidIncrement, errors.CodeOf(err))
	assert.Equal(t, 0.0, s.Exponent(), "failed search must not advance the exponent")
}

func TestSchedulerRejectsAfterDone(t *testing.T) {
	n := 4
	logLikes := make([]float64, n)
	s := NewScheduler(0.5)

	_, err := s.NextIncrement(logLikes, uniformWeights(n))
	require.NoError(t, err)
	require.True(t, s.Done())

	_, err = s.NextIncrement(logLikes, uniformWeights(n))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestSchedulerLengthMismatch(t *testing.T) {
	s := NewScheduler(0.5)
	_, err := s.NextIncrement([]float64{0, 0}, []float64{1})
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestSchedulerLowThresholdNeverBisects(t *testing.T) {
	// A near-zero target ESS is always satisfied by the maximal increment,
	// so the schedule completes in one stage.
	rng := rand.New(rand.NewSource(3))
	n := 100
	logLikes := make([]float64, n)
	for i := range logLikes {
		logLikes[i] = -10 * rng.Float64()
	}

	s := NewScheduler(1e-9)
	delta, err := s.NextIncrement(logLikes, uniformWeights(n))
	require.NoError(t, err)
	assert.Equal(t, 1.0, delta)
	assert.True(t, s.Done())
}
