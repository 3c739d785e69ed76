// Package likelihood provides noise models scoring predicted observations
// against observed data.
package likelihood

import (
	"math"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// Gaussian is an i.i.d. Gaussian noise model with known standard deviation.
type Gaussian struct {
	stddev float64
}

// NewGaussian creates a Gaussian likelihood. The noise standard deviation
// must be strictly positive.
func NewGaussian(stddev float64) (Gaussian, error) {
	if stddev <= 0 || math.IsNaN(stddev) {
		return Gaussian{}, errors.WithFields(
			errors.New(errors.InvalidInput, "noise stddev must be positive"),
			errors.Fields{"stddev": stddev},
		)
	}
	return Gaussian{stddev: stddev}, nil
}

// Stddev returns the noise standard deviation.
func (g Gaussian) Stddev() float64 { return g.stddev }

// LogLikelihood returns the Gaussian log-likelihood of the observations
// given the predictions. Mismatched lengths score as impossible.
func (g Gaussian) LogLikelihood(predicted, observed []float64) float64 {
	if len(predicted) != len(observed) {
		return math.Inf(-1)
	}

	n := float64(len(observed))
	variance := g.stddev * g.stddev

	var sumSq float64
	for i, p := range predicted {
		d := p - observed[i]
		sumSq += d * d
	}

	return -0.5*n*math.Log(2*math.Pi*variance) - sumSq/(2*variance)
}
