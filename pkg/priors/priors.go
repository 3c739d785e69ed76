// Package priors provides concrete prior distributions for Bayesian
// calibration runs. Sampling goes through the inverse CDF so a single
// math/rand stream drives every draw, which keeps runs reproducible from
// one seed.
package priors

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Normal is a Gaussian prior.
type Normal struct {
	dist distuv.Normal
}

// NewNormal creates a Gaussian prior with the given mean and standard deviation.
func NewNormal(mu, sigma float64) Normal {
	return Normal{dist: distuv.Normal{Mu: mu, Sigma: sigma}}
}

func (p Normal) Sample(n int, rng *rand.Rand) []float64 {
	return sampleQuantile(p.dist, n, rng)
}

func (p Normal) LogDensity(x float64) float64 {
	return p.dist.LogProb(x)
}

// Uniform is a flat prior on [Min, Max).
type Uniform struct {
	dist distuv.Uniform
}

// NewUniform creates a uniform prior on [min, max).
func NewUniform(min, max float64) Uniform {
	return Uniform{dist: distuv.Uniform{Min: min, Max: max}}
}

func (p Uniform) Sample(n int, rng *rand.Rand) []float64 {
	return sampleQuantile(p.dist, n, rng)
}

func (p Uniform) LogDensity(x float64) float64 {
	return p.dist.LogProb(x)
}

// LogNormal is a log-normal prior, for strictly positive parameters.
type LogNormal struct {
	dist distuv.LogNormal
}

// NewLogNormal creates a log-normal prior with the given location and scale
// of the underlying normal.
func NewLogNormal(mu, sigma float64) LogNormal {
	return LogNormal{dist: distuv.LogNormal{Mu: mu, Sigma: sigma}}
}

func (p LogNormal) Sample(n int, rng *rand.Rand) []float64 {
	return sampleQuantile(p.dist, n, rng)
}

func (p LogNormal) LogDensity(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return p.dist.LogProb(x)
}

// quantiler is satisfied by every distuv distribution used here.
type quantiler interface {
	Quantile(p float64) float64
}

func sampleQuantile(d quantiler, n int, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Quantile(rng.Float64())
	}
	return out
}
