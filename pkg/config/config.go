// Package config loads and validates calibration run definitions from YAML.
// A RunConfig fully describes one run: the sampler settings, the priors, the
// likelihood, the observed data and the output destinations.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
	"github.com/XiaoConstantine/smc-go/pkg/likelihood"
	"github.com/XiaoConstantine/smc-go/pkg/priors"
	"github.com/XiaoConstantine/smc-go/pkg/smc"
)

// RunConfig is the top-level calibration run definition.
type RunConfig struct {
	// Sampler holds the SMC engine settings.
	Sampler SamplerConfig `yaml:"sampler" validate:"required"`
	// Priors lists the calibrated parameters in order.
	Priors []PriorConfig `yaml:"priors" validate:"required,min=1,dive"`
	// Likelihood describes the noise model.
	Likelihood LikelihoodConfig `yaml:"likelihood" validate:"required"`
	// Observed is the measured data vector the model output is scored against.
	Observed []float64 `yaml:"observed" validate:"required,min=1"`
	// Output controls where results are persisted.
	Output OutputConfig `yaml:"output"`
}

// SamplerConfig mirrors the engine settings. Zero values take the engine
// defaults.
type SamplerConfig struct {
	// NumParticles is the global population size. Default: none, required
	NumParticles int `yaml:"num_particles" validate:"required,min=1"`
	// NumMCMCSteps is the number of mutation steps per stage. Default: 1
	NumMCMCSteps int `yaml:"num_mcmc_steps" validate:"omitempty,min=1"`
	// ESSThreshold gates resampling, as a fraction of NumParticles. Default: 0.5
	ESSThreshold float64 `yaml:"ess_threshold" validate:"omitempty,gt=0,lte=1"`
	// CovScale scales the proposal covariance. Default: 2.38^2/d
	CovScale float64 `yaml:"cov_scale" validate:"omitempty,gt=0"`
	// Seed drives all randomness in the run. Default: 1
	Seed int64 `yaml:"seed"`
	// Workers is the number of data-parallel samplers. Default: 1
	Workers int `yaml:"workers" validate:"omitempty,min=1"`
	// MaxGoroutines bounds per-worker mutation parallelism. Default: 8
	MaxGoroutines int `yaml:"max_goroutines" validate:"omitempty,min=1"`
}

// PriorConfig declares one calibrated parameter and its prior distribution.
type PriorConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Distribution selects the prior family.
	Distribution string `yaml:"distribution" validate:"required,oneof=normal uniform lognormal"`
	// Mean and Stddev parameterize normal and lognormal priors.
	Mean   float64 `yaml:"mean"`
	Stddev float64 `yaml:"stddev"`
	// Min and Max parameterize uniform priors.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// LikelihoodConfig describes the noise model.
type LikelihoodConfig struct {
	Type   string  `yaml:"type" validate:"required,oneof=gaussian"`
	Stddev float64 `yaml:"stddev" validate:"required,gt=0"`
}

// OutputConfig controls result persistence. Empty paths disable the
// corresponding output.
type OutputConfig struct {
	// SQLitePath is the step-store database file.
	SQLitePath string `yaml:"sqlite_path"`
	// ParquetPath receives the final posterior snapshot.
	ParquetPath string `yaml:"parquet_path"`
}

// Load parses and validates a RunConfig from a YAML file.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path},
		)
	}
	return Parse(data)
}

// Parse parses and validates a RunConfig from YAML bytes.
func Parse(data []byte) (*RunConfig, error) {
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to parse YAML config")
	}

	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ValidationFailed, "invalid run configuration")
	}
	return &cfg, nil
}

// EngineConfig converts the sampler section to the engine's Config.
func (c *RunConfig) EngineConfig() smc.Config {
	return smc.Config{
		NumParticles:  c.Sampler.NumParticles,
		NumMCMCSteps:  c.Sampler.NumMCMCSteps,
		ESSThreshold:  c.Sampler.ESSThreshold,
		CovScale:      c.Sampler.CovScale,
		Seed:          c.Sampler.Seed,
		MaxGoroutines: c.Sampler.MaxGoroutines,
	}
}

// Workers returns the configured worker count, defaulting to 1.
func (c *RunConfig) Workers() int {
	if c.Sampler.Workers <= 0 {
		return 1
	}
	return c.Sampler.Workers
}

// ParamNames returns the calibrated parameter names in prior order.
func (c *RunConfig) ParamNames() []string {
	names := make([]string, len(c.Priors))
	for i, p := range c.Priors {
		names[i] = p.Name
	}
	return names
}

// BuildPriors constructs the ordered prior set from the declarations.
func (c *RunConfig) BuildPriors() (*core.PriorSet, error) {
	ps := core.NewPriorSet()
	for _, pc := range c.Priors {
		var prior core.Prior
		switch pc.Distribution {
		case "normal":
			prior = priors.NewNormal(pc.Mean, pc.Stddev)
		case "uniform":
			prior = priors.NewUniform(pc.Min, pc.Max)
		case "lognormal":
			prior = priors.NewLogNormal(pc.Mean, pc.Stddev)
		default:
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "unknown prior distribution"),
				errors.Fields{"name": pc.Name, "distribution": pc.Distribution},
			)
		}
		if err := ps.Add(pc.Name, prior); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// BuildLikelihood constructs the noise model from the declaration.
func (c *RunConfig) BuildLikelihood() (core.Likelihood, error) {
	switch c.Likelihood.Type {
	case "gaussian":
		like, err := likelihood.NewGaussian(c.Likelihood.Stddev)
		if err != nil {
			return nil, err
		}
		return like, nil
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown likelihood type"),
			errors.Fields{"type": c.Likelihood.Type},
		)
	}
}
