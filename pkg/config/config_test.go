package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

const validYAML = `
sampler:
  num_particles: 2000
  num_mcmc_steps: 2
  ess_threshold: 0.6
  seed: 42
  workers: 4
priors:
  - name: stiffness
    distribution: normal
    mean: 1.0
    stddev: 0.5
  - name: damping
    distribution: uniform
    min: 0.0
    max: 2.0
  - name: noise_floor
    distribution: lognormal
    mean: -1.0
    stddev: 0.3
likelihood:
  type: gaussian
  stddev: 0.1
observed: [1.1, 0.9, 1.05]
output:
  sqlite_path: runs.db
  parquet_path: posterior.parquet
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Sampler.NumParticles)
	assert.Equal(t, 0.6, cfg.Sampler.ESSThreshold)
	assert.Equal(t, int64(42), cfg.Sampler.Seed)
	assert.Equal(t, 4, cfg.Workers())
	assert.Equal(t, []string{"stiffness", "damping", "noise_floor"}, cfg.ParamNames())
	assert.Equal(t, "runs.db", cfg.Output.SQLitePath)
	assert.Len(t, cfg.Observed, 3)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Sampler.NumParticles)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("sampler: [not a map"))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestEngineConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	engine := cfg.EngineConfig()
	assert.Equal(t, 2000, engine.NumParticles)
	assert.Equal(t, 2, engine.NumMCMCSteps)
	assert.Equal(t, 0.6, engine.ESSThreshold)
	assert.Equal(t, int64(42), engine.Seed)
}

func TestBuildPriors(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	ps, err := cfg.BuildPriors()
	require.NoError(t, err)
	assert.Equal(t, 3, ps.Dim())
	assert.Equal(t, []string{"stiffness", "damping", "noise_floor"}, ps.Names())
}

func TestBuildLikelihood(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	like, err := cfg.BuildLikelihood()
	require.NoError(t, err)
	assert.NotNil(t, like)
}

func TestWorkersDefault(t *testing.T) {
	cfg := &RunConfig{}
	assert.Equal(t, 1, cfg.Workers())
}
