// Package mutation rejuvenates particle diversity after resampling by
// running a fixed number of random-walk Metropolis-Hastings steps per
// particle, leaving the tempered posterior invariant.
package mutation

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
	"github.com/XiaoConstantine/smc-go/pkg/logging"
)

// Config contains configuration options for the mutation kernel.
type Config struct {
	// Steps is the number of MCMC steps per particle per stage. Default: 1
	Steps int `json:"steps"`
	// CovScale scales the weighted population covariance into the proposal
	// covariance. Default: 2.38^2/d (optimal-scaling heuristic)
	CovScale float64 `json:"cov_scale"`
	// MaxGoroutines bounds the parallelism of per-particle chains. Default: 8
	MaxGoroutines int `json:"max_goroutines"`
}

// Stats captures per-stage acceptance diagnostics. They inform tuning only;
// correctness never depends on them.
type Stats struct {
	Proposed      int
	Accepted      int
	ModelFailures int
}

// AcceptanceRate returns the fraction of proposals accepted this stage.
func (s Stats) AcceptanceRate() float64 {
	if s.Proposed == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Proposed)
}

// Kernel is an adaptive random-walk Metropolis-Hastings mutator. The
// proposal covariance is re-estimated from the weighted population before
// each stage's mutation; each particle's chain is independent, so chains run
// in parallel with deterministic per-particle random streams.
type Kernel struct {
	cfg        Config
	model      core.Model
	priors     *core.PriorSet
	likelihood core.Likelihood
	observed   []float64
	seed       int64
	logger     *logging.Logger
}

// NewKernel creates a mutation kernel. Zero config fields fall back to
// defaults at use time.
func NewKernel(cfg Config, model core.Model, priors *core.PriorSet, like core.Likelihood, observed []float64, seed int64) *Kernel {
	if cfg.Steps <= 0 {
		cfg.Steps = 1
	}
	if cfg.MaxGoroutines <= 0 {
		cfg.MaxGoroutines = 8
	}
	return &Kernel{
		cfg:        cfg,
		model:      model,
		priors:     priors,
		likelihood: like,
		observed:   observed,
		seed:       seed,
		logger:     logging.GetLogger(),
	}
}

// LogLikelihood evaluates the forward model at params and scores it against
// the observed data. Model failures surface as ModelEvaluation errors; the
// caller decides whether they are fatal.
func (k *Kernel) LogLikelihood(ctx context.Context, params []float64) (float64, error) {
	predicted, err := k.model.Evaluate(ctx, params)
	if err != nil {
		return 0, errors.Wrap(err, errors.ModelEvaluation, "forward model evaluation failed")
	}
	return k.likelihood.LogLikelihood(predicted, k.observed), nil
}

// ProposalCovariance computes the stage's proposal covariance:
// covScale * weighted_covariance(step), with the scale defaulting to
// 2.38^2/d. A diagonal jitter retry ladder keeps the result factorizable;
// a population collapsed below numerical rank falls back to per-parameter
// weighted variances.
func (k *Kernel) ProposalCovariance(step *core.ParticleStep) *mat.SymDense {
	d := step.Dim()
	scale := k.cfg.CovScale
	if scale <= 0 {
		scale = 2.38 * 2.38 / float64(d)
	}

	cov := step.WeightedCovariance()
	scaled := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			scaled.SetSym(i, j, scale*cov.At(i, j))
		}
	}
	return scaled
}

// factorize Cholesky-decomposes cov, adding diagonal jitter on failure.
func factorize(cov *mat.SymDense) (*mat.Cholesky, bool) {
	d := cov.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return &chol, true
	}

	for jitter := 1e-10; jitter <= 1e-4; jitter *= 10 {
		jittered := mat.NewSymDense(d, nil)
		jittered.CopySym(cov)
		for i := 0; i < d; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+jitter)
		}
		if chol.Factorize(jittered) {
			return &chol, true
		}
	}
	return nil, false
}

// diagonalFallback builds a diagonal proposal from the covariance diagonal
// with a small variance floor.
func diagonalFallback(cov *mat.SymDense) *mat.Cholesky {
	d := cov.SymmetricDim()
	diag := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		v := cov.At(i, i)
		if v < 1e-12 {
			v = 1e-12
		}
		diag.SetSym(i, i, v)
	}
	var chol mat.Cholesky
	chol.Factorize(diag)
	return &chol
}

// Mutate runs cfg.Steps MH steps on every particle in the shard at the given
// tempering exponent, using the supplied proposal covariance. globalOffset
// is the shard's starting index in the global population; together with the
// stage index it seeds a private random stream per particle, so results do
// not depend on goroutine scheduling.
//
// Model evaluation failures during mutation auto-reject the proposal and are
// counted in Stats; they never abort the stage.
func (k *Kernel) Mutate(ctx context.Context, shard []core.Particle, exponent float64, cov *mat.SymDense, stage, globalOffset int) ([]core.Particle, Stats, error) {
	if err := errors.CheckContext(ctx, "mutation"); err != nil {
		return nil, Stats{}, err
	}

	chol, ok := factorize(cov)
	if !ok {
		chol = diagonalFallback(cov)
		k.logger.Warn(ctx, "proposal covariance not positive definite, using diagonal fallback")
	}
	d := cov.SymmetricDim()
	var lower mat.TriDense
	chol.LTo(&lower)

	out := make([]core.Particle, len(shard))
	var mu sync.Mutex
	var stats Stats

	p := pool.New().WithMaxGoroutines(k.cfg.MaxGoroutines)
	for i := range shard {
		i := i
		p.Go(func() {
			rng := rand.New(rand.NewSource(k.seed + int64(stage)<<32 + int64(globalOffset+i)))
			particle, local := k.mutateParticle(ctx, shard[i], exponent, &lower, d, rng)

			mu.Lock()
			out[i] = particle
			stats.Proposed += local.Proposed
			stats.Accepted += local.Accepted
			stats.ModelFailures += local.ModelFailures
			mu.Unlock()
		})
	}
	p.Wait()

	if err := errors.CheckContext(ctx, "mutation"); err != nil {
		return nil, Stats{}, err
	}

	k.logger.Debug(ctx, "mutation stage complete: proposed=%d accepted=%d rate=%.3f model_failures=%d",
		stats.Proposed, stats.Accepted, stats.AcceptanceRate(), stats.ModelFailures)

	return out, stats, nil
}

// mutateParticle runs the per-particle chain. Rejections leave the particle
// unchanged, including its previously computed likelihood.
func (k *Kernel) mutateParticle(ctx context.Context, p core.Particle, exponent float64, lower *mat.TriDense, d int, rng *rand.Rand) (core.Particle, Stats) {
	current := p.Clone()
	currentPrior := k.priors.LogDensity(current.Params)
	var stats Stats

	z := make([]float64, d)
	proposal := make([]float64, d)

	for step := 0; step < k.cfg.Steps; step++ {
		if ctx.Err() != nil {
			break
		}
		stats.Proposed++

		for j := range z {
			z[j] = rng.NormFloat64()
		}
		// proposal = current + L*z
		for j := 0; j < d; j++ {
			var dot float64
			for l := 0; l <= j; l++ {
				dot += lower.At(j, l) * z[l]
			}
			proposal[j] = current.Params[j] + dot
		}

		propPrior := k.priors.LogDensity(proposal)
		if math.IsInf(propPrior, -1) {
			continue // outside the prior support, no model evaluation needed
		}

		propLike, err := k.LogLikelihood(ctx, proposal)
		if err != nil {
			stats.ModelFailures++
			continue // auto-reject: treat as log-likelihood -Inf
		}
		if math.IsInf(propLike, -1) {
			continue
		}

		logRatio := (propPrior + exponent*propLike) - (currentPrior + exponent*current.LogLike)
		if logRatio >= 0 || rng.Float64() < math.Exp(logRatio) {
			copy(current.Params, proposal)
			current.LogLike = propLike
			currentPrior = propPrior
			stats.Accepted++
		}
	}

	return current, stats
}
