package core

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// Particle is a candidate parameter vector with its log-likelihood at the
// current tempering exponent and an unnormalized log-weight.
type Particle struct {
	Params    []float64
	LogLike   float64
	LogWeight float64
}

// Clone returns a deep copy of the particle.
func (p Particle) Clone() Particle {
	params := make([]float64, len(p.Params))
	copy(params, p.Params)
	return Particle{
		Params:    params,
		LogLike:   p.LogLike,
		LogWeight: p.LogWeight,
	}
}

// ParticleStep is an immutable snapshot of the particle population at one
// tempering stage: the particles, their normalized weights (insertion order
// matches particle order) and the exponent the snapshot was taken at.
// Later stages create new ParticleStep values rather than mutating this one.
type ParticleStep struct {
	particles []Particle
	weights   []float64
	exponent  float64
}

// NewParticleStep snapshots a population at the given tempering exponent.
// Normalized weights are derived from the particles' unnormalized log-weights
// via a log-sum-exp reduction. Fails with a DegenerateWeights error when
// every particle carries zero likelihood.
func NewParticleStep(particles []Particle, exponent float64) (*ParticleStep, error) {
	if len(particles) == 0 {
		return nil, errors.New(errors.InvalidInput, "particle step requires at least one particle")
	}

	logWeights := make([]float64, len(particles))
	owned := make([]Particle, len(particles))
	for i, p := range particles {
		owned[i] = p.Clone()
		logWeights[i] = p.LogWeight
	}

	weights, err := Normalize(logWeights)
	if err != nil {
		return nil, err
	}

	return &ParticleStep{
		particles: owned,
		weights:   weights,
		exponent:  exponent,
	}, nil
}

// Len returns the number of particles in the snapshot.
func (s *ParticleStep) Len() int { return len(s.particles) }

// Dim returns the number of calibrated parameters.
func (s *ParticleStep) Dim() int {
	if len(s.particles) == 0 {
		return 0
	}
	return len(s.particles[0].Params)
}

// Exponent returns the tempering exponent the snapshot was taken at.
func (s *ParticleStep) Exponent() float64 { return s.exponent }

// Particle returns a copy of the i-th particle.
func (s *ParticleStep) Particle(i int) Particle {
	return s.particles[i].Clone()
}

// Particles returns a deep copy of the particle population.
func (s *ParticleStep) Particles() []Particle {
	out := make([]Particle, len(s.particles))
	for i, p := range s.particles {
		out[i] = p.Clone()
	}
	return out
}

// Weights returns a copy of the normalized weight vector.
func (s *ParticleStep) Weights() []float64 {
	out := make([]float64, len(s.weights))
	copy(out, s.weights)
	return out
}

// Weight returns the normalized weight of the i-th particle.
func (s *ParticleStep) Weight(i int) float64 { return s.weights[i] }

// EffectiveSampleSize returns 1/sum(w_i^2) over the normalized weights.
// The result lies in [1, N]: N for uniform weights, 1 when a single
// particle holds all the weight.
func (s *ParticleStep) EffectiveSampleSize() float64 {
	var sumSq float64
	for _, w := range s.weights {
		sumSq += w * w
	}
	return 1.0 / sumSq
}

// WeightedMean returns the per-parameter weighted mean of the population.
func (s *ParticleStep) WeightedMean() []float64 {
	d := s.Dim()
	mean := make([]float64, d)
	for i, p := range s.particles {
		w := s.weights[i]
		for j := 0; j < d; j++ {
			mean[j] += w * p.Params[j]
		}
	}
	return mean
}

// WeightedCovariance returns the weighted covariance matrix of the
// population (maximum-likelihood normalization, weights sum to 1). It feeds
// both diagnostics and the mutation kernel's proposal covariance.
func (s *ParticleStep) WeightedCovariance() *mat.SymDense {
	d := s.Dim()
	mean := s.WeightedMean()
	cov := mat.NewSymDense(d, nil)
	diff := make([]float64, d)

	for i, p := range s.particles {
		w := s.weights[i]
		for j := 0; j < d; j++ {
			diff[j] = p.Params[j] - mean[j]
		}
		for j := 0; j < d; j++ {
			for k := j; k < d; k++ {
				cov.SetSym(j, k, cov.At(j, k)+w*diff[j]*diff[k])
			}
		}
	}
	return cov
}

// WeightedVariance returns the per-parameter weighted variance, the diagonal
// of the weighted covariance.
func (s *ParticleStep) WeightedVariance() []float64 {
	d := s.Dim()
	mean := s.WeightedMean()
	variance := make([]float64, d)
	for i, p := range s.particles {
		w := s.weights[i]
		for j := 0; j < d; j++ {
			diff := p.Params[j] - mean[j]
			variance[j] += w * diff * diff
		}
	}
	return variance
}

// Normalize converts unnormalized log-weights to normalized linear weights
// using a log-sum-exp reduction: the max log-weight is subtracted before
// exponentiating so the largest term is exactly 1. Fails with a
// DegenerateWeights error if every log-weight is -Inf.
func Normalize(logWeights []float64) ([]float64, error) {
	if len(logWeights) == 0 {
		return nil, errors.New(errors.InvalidInput, "no log-weights to normalize")
	}

	maxLW := math.Inf(-1)
	for _, lw := range logWeights {
		if lw > maxLW {
			maxLW = lw
		}
	}
	if math.IsInf(maxLW, -1) || math.IsNaN(maxLW) {
		return nil, errors.WithFields(
			errors.New(errors.DegenerateWeights, "all particle weights are zero"),
			errors.Fields{"num_particles": len(logWeights)},
		)
	}

	weights := make([]float64, len(logWeights))
	var total float64
	for i, lw := range logWeights {
		weights[i] = math.Exp(lw - maxLW)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights, nil
}
