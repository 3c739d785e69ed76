// Package testutil provides deterministic models and calibration cases
// shared by the package tests.
package testutil

import (
	"context"
	"math/rand"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/likelihood"
	"github.com/XiaoConstantine/smc-go/pkg/priors"
)

// ConstantModel predicts its single parameter replicated n times: the
// forward model of the 1-D location problem y_i = theta + noise.
func ConstantModel(n int) core.Model {
	return core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
		out := make([]float64, n)
		for i := range out {
			out[i] = params[0]
		}
		return out, nil
	})
}

// ConjugateCase is a 1-D linear Gaussian calibration problem with a
// closed-form posterior: theta ~ N(PriorMean, PriorVar) a priori,
// observations y_i = theta + N(0, NoiseStddev^2).
type ConjugateCase struct {
	Observed   []float64
	Model      core.Model
	Priors     *core.PriorSet
	Likelihood core.Likelihood

	PriorMean   float64
	PriorVar    float64
	NoiseStddev float64

	PosteriorMean float64
	PosteriorVar  float64
}

// NewConjugateCase synthesizes numObs observations at the given true
// parameter value and computes the analytic posterior moments.
func NewConjugateCase(trueTheta, priorMean, priorStddev, noiseStddev float64, numObs int, seed int64) (*ConjugateCase, error) {
	rng := rand.New(rand.NewSource(seed))

	observed := make([]float64, numObs)
	var sumY float64
	for i := range observed {
		observed[i] = trueTheta + noiseStddev*rng.NormFloat64()
		sumY += observed[i]
	}

	ps := core.NewPriorSet()
	if err := ps.Add("theta", priors.NewNormal(priorMean, priorStddev)); err != nil {
		return nil, err
	}

	like, err := likelihood.NewGaussian(noiseStddev)
	if err != nil {
		return nil, err
	}

	priorVar := priorStddev * priorStddev
	noiseVar := noiseStddev * noiseStddev
	postVar := 1.0 / (1.0/priorVar + float64(numObs)/noiseVar)
	postMean := postVar * (priorMean/priorVar + sumY/noiseVar)

	return &ConjugateCase{
		Observed:      observed,
		Model:         ConstantModel(numObs),
		Priors:        ps,
		Likelihood:    like,
		PriorMean:     priorMean,
		PriorVar:      priorVar,
		NoiseStddev:   noiseStddev,
		PosteriorMean: postMean,
		PosteriorVar:  postVar,
	}, nil
}
