package smc

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/smc-go/internal/testutil"
	"github.com/XiaoConstantine/smc-go/pkg/comm"
	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
	"github.com/XiaoConstantine/smc-go/pkg/tempering"
)

func conjugateCase(t *testing.T) *testutil.ConjugateCase {
	t.Helper()
	c, err := testutil.NewConjugateCase(2.0, 0.0, 2.0, 0.5, 20, 99)
	require.NoError(t, err)
	return c
}

func sampleSerial(t *testing.T, cfg Config, c *testutil.ConjugateCase) []*core.ParticleStep {
	t.Helper()
	s, err := NewSampler(cfg, c.Model, c.Priors, c.Likelihood, c.Observed, comm.Single())
	require.NoError(t, err)

	history, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, history)
	return history
}

func TestSamplerRecoversConjugatePosterior(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end sampling is slow")
	}

	c := conjugateCase(t)

	for _, seed := range []int64{1, 7, 42, 99, 123} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			cfg := Config{
				NumParticles: 5000,
				NumMCMCSteps: 1,
				ESSThreshold: 0.5,
				Seed:         seed,
			}

			history := sampleSerial(t, cfg, c)
			final := history[len(history)-1]

			assert.Equal(t, 1.0, final.Exponent(), "final stage must target the untempered posterior")

			mean := final.WeightedMean()[0]
			variance := final.WeightedVariance()[0]
			ess := final.EffectiveSampleSize()

			stderr := math.Sqrt(c.PosteriorVar / ess)
			assert.InDelta(t, c.PosteriorMean, mean, 3*stderr,
				"weighted mean should match the analytic posterior mean")
			assert.InEpsilon(t, c.PosteriorVar, variance, 0.2,
				"weighted variance should match the analytic posterior variance")
		})
	}
}

func TestSamplerHistoryOrdering(t *testing.T) {
	c := conjugateCase(t)
	cfg := Config{NumParticles: 500, Seed: 3}

	history := sampleSerial(t, cfg, c)

	assert.Equal(t, 0.0, history[0].Exponent(), "history starts with the prior snapshot")
	prev := -1.0
	for i, step := range history {
		assert.Greater(t, step.Exponent(), prev, "step %d", i)
		assert.Equal(t, cfg.NumParticles, step.Len())
		prev = step.Exponent()
	}
	assert.Equal(t, 1.0, history[len(history)-1].Exponent())
}

func TestSamplerDeterminismWithSeed(t *testing.T) {
	c := conjugateCase(t)
	cfg := Config{NumParticles: 800, NumMCMCSteps: 2, ESSThreshold: 0.5, Seed: 1234}

	first := sampleSerial(t, cfg, c)
	second := sampleSerial(t, cfg, c)

	require.Equal(t, len(first), len(second), "stage counts must match")
	f := first[len(first)-1]
	s := second[len(second)-1]
	assert.Equal(t, f.WeightedMean(), s.WeightedMean(),
		"same seed and inputs must give identical final weighted means")
	assert.Equal(t, f.Weights(), s.Weights())
}

func TestSamplerNeverResamplesAtTinyThreshold(t *testing.T) {
	// A threshold near zero satisfies the tempering search with the maximal
	// increment and never trips the resampling gate, so the final weights
	// stay non-uniform.
	c := conjugateCase(t)
	cfg := Config{NumParticles: 1000, ESSThreshold: 1e-9, Seed: 5}

	history := sampleSerial(t, cfg, c)
	final := history[len(history)-1]

	assert.Less(t, final.EffectiveSampleSize(), float64(final.Len()),
		"without resampling the weights cannot be uniform")

	weights := final.Weights()
	uniform := 1.0 / float64(len(weights))
	nonUniform := 0
	for _, w := range weights {
		if math.Abs(w-uniform) > 1e-12 {
			nonUniform++
		}
	}
	assert.Greater(t, nonUniform, 0)
}

func TestSamplerMultiWorkerMatchesPosterior(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end sampling is slow")
	}

	c := conjugateCase(t)
	cfg := Config{
		NumParticles: 5000,
		NumMCMCSteps: 1,
		ESSThreshold: 0.5,
		Seed:         42,
	}

	history, err := RunGroup(context.Background(), cfg, c.Model, c.Priors, c.Likelihood, c.Observed, 4)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	final := history[len(history)-1]
	assert.Equal(t, 1.0, final.Exponent())
	assert.Equal(t, cfg.NumParticles, final.Len())

	mean := final.WeightedMean()[0]
	stderr := math.Sqrt(c.PosteriorVar / final.EffectiveSampleSize())
	assert.InDelta(t, c.PosteriorMean, mean, 3*stderr)
}

func TestReweightReturnsAppliedIncrement(t *testing.T) {
	c := conjugateCase(t)
	s, err := NewSampler(Config{NumParticles: 200, Seed: 6}, c.Model, c.Priors, c.Likelihood, c.Observed, comm.Single())
	require.NoError(t, err)

	ctx := context.Background()
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	shard, err := s.initShard(ctx, s.cfg.NumParticles, rng)
	require.NoError(t, err)

	global := make([]core.Particle, len(shard))
	for i, p := range shard {
		global[i] = p.Clone()
	}

	scheduler := tempering.NewScheduler(s.cfg.ESSThreshold)
	stageCtx := core.StageContext{Stage: 1, Exponent: 0, ESSThreshold: s.cfg.ESSThreshold, Seed: s.cfg.Seed}
	delta, newExponent, ess, err := s.reweight(ctx, stageCtx, shard, global, scheduler)
	require.NoError(t, err)

	assert.Greater(t, delta, 0.0)
	assert.InDelta(t, newExponent, delta, 1e-12, "first increment starts from exponent zero")
	assert.Greater(t, ess, 0.0)

	// Applying the returned increment to the coordinator copy must land on
	// exactly the weights the shards already hold.
	for i := range global {
		global[i].LogWeight += delta * global[i].LogLike
		assert.Equal(t, shard[i].LogWeight, global[i].LogWeight, "particle %d", i)
	}
}

func TestSamplerInitializationFailureIsFatal(t *testing.T) {
	c := conjugateCase(t)
	brokenModel := core.ModelFunc(func(context.Context, []float64) ([]float64, error) {
		return nil, fmt.Errorf("mesh generation failed")
	})

	cfg := Config{NumParticles: 100, Seed: 2}
	s, err := NewSampler(cfg, brokenModel, c.Priors, c.Likelihood, c.Observed, comm.Single())
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ModelEvaluation, errors.CodeOf(err))
}

func TestSamplerInitializationFailurePropagatesToAllWorkers(t *testing.T) {
	c := conjugateCase(t)
	brokenModel := core.ModelFunc(func(context.Context, []float64) ([]float64, error) {
		return nil, fmt.Errorf("mesh generation failed")
	})

	cfg := Config{NumParticles: 100, Seed: 2}
	_, err := RunGroup(context.Background(), cfg, brokenModel, c.Priors, c.Likelihood, c.Observed, 3)
	require.Error(t, err)
	assert.Equal(t, errors.ModelEvaluation, errors.CodeOf(err))
}

func TestNewSamplerValidation(t *testing.T) {
	c := conjugateCase(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero particles", Config{NumParticles: 0}},
		{"negative particles", Config{NumParticles: -5}},
		{"threshold above one", Config{NumParticles: 100, ESSThreshold: 1.5}},
		{"negative threshold", Config{NumParticles: 100, ESSThreshold: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSampler(tt.cfg, c.Model, c.Priors, c.Likelihood, c.Observed, comm.Single())
			require.Error(t, err)
			assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
		})
	}

	t.Run("fewer particles than workers", func(t *testing.T) {
		group, err := comm.NewGroup(8)
		require.NoError(t, err)
		_, err = NewSampler(Config{NumParticles: 4}, c.Model, c.Priors, c.Likelihood, c.Observed, group[0])
		require.Error(t, err)
	})

	t.Run("missing priors", func(t *testing.T) {
		_, err := NewSampler(Config{NumParticles: 10}, c.Model, core.NewPriorSet(), c.Likelihood, c.Observed, comm.Single())
		require.Error(t, err)
	})
}

func TestSamplerCanceledContext(t *testing.T) {
	c := conjugateCase(t)
	s, err := NewSampler(Config{NumParticles: 100, Seed: 4}, c.Model, c.Priors, c.Likelihood, c.Observed, comm.Single())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Sample(ctx)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INITIALIZED", stateInitialized.String())
	assert.Equal(t, "REWEIGHTING", stateReweighting.String())
	assert.Equal(t, "RESAMPLING", stateResampling.String())
	assert.Equal(t, "MUTATING", stateMutating.String())
	assert.Equal(t, "DONE", stateDone.String())
}
