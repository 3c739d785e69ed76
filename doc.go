// Package smc is a Go implementation of Sequential Monte Carlo sampling for
// Bayesian parameter estimation: calibrating the uncertain parameters of a
// computational model against observed data.
//
// The engine draws a particle population from the prior and moves it to the
// posterior through an adaptively chosen sequence of tempered distributions,
// raising the likelihood to an exponent that grows from 0 to 1. It focuses
// on making it easy to:
//   - Calibrate any forward model exposing a single Evaluate method
//   - Keep runs reproducible from one seed, independent of parallelism
//   - Scale one run across data-parallel workers without MPI
//   - Persist and inspect every tempering stage
//
// Key Components:
//
//   - Core: Fundamental abstractions like Model, Prior, Likelihood, Particle
//     and ParticleStep for defining calibration problems and inspecting
//     population snapshots.
//
//   - Priors: Normal, Uniform and LogNormal prior distributions, sampled
//     through the inverse CDF so a single seeded stream drives every draw.
//
//   - Likelihood: Gaussian noise model scoring model predictions against
//     observed data.
//
//   - Tempering: Adaptive scheduler that picks each likelihood-exponent
//     increment by bisection so the effective sample size lands on its
//     target, jumping straight to 1 when the population can absorb it.
//
//   - Resample: Systematic resampling, applied only when the effective
//     sample size falls below the configured threshold.
//
//   - Mutation: Adaptive Metropolis-Hastings rejuvenation with the proposal
//     covariance scaled from the weighted population covariance, running
//     particles concurrently with deterministic per-particle streams.
//
//   - Comm: In-process collectives (gather, scatter, broadcast, all-reduce)
//     keeping a fixed-size worker group in lockstep, with rank 0
//     coordinating the schedule.
//
//   - Storage: SQLite persistence of every stage and Parquet export of
//     population snapshots via Apache Arrow.
//
//   - Config: YAML run definitions with validated priors, likelihood,
//     sampler settings and output destinations.
//
// Simple Example:
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/XiaoConstantine/smc-go/pkg/comm"
//	    "github.com/XiaoConstantine/smc-go/pkg/core"
//	    "github.com/XiaoConstantine/smc-go/pkg/likelihood"
//	    "github.com/XiaoConstantine/smc-go/pkg/priors"
//	    "github.com/XiaoConstantine/smc-go/pkg/smc"
//	)
//
//	func main() {
//	    model := core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
//	        out := make([]float64, len(observed))
//	        for i := range out {
//	            out[i] = params[0]*x[i] + params[1]
//	        }
//	        return out, nil
//	    })
//
//	    ps := core.NewPriorSet()
//	    _ = ps.Add("slope", priors.NewNormal(0, 5))
//	    _ = ps.Add("intercept", priors.NewNormal(0, 5))
//
//	    like, _ := likelihood.NewGaussian(0.1)
//
//	    sampler, err := smc.NewSampler(smc.Config{
//	        NumParticles: 5000,
//	        NumMCMCSteps: 2,
//	        Seed:         42,
//	    }, model, ps, like, observed, comm.Single())
//	    if err != nil {
//	        log.Fatalf("Failed to build sampler: %v", err)
//	    }
//
//	    history, err := sampler.Sample(context.Background())
//	    if err != nil {
//	        log.Fatalf("Sampling failed: %v", err)
//	    }
//
//	    posterior := history[len(history)-1]
//	    fmt.Printf("Posterior mean: %v\n", posterior.WeightedMean())
//	}
//
// Running across workers splits the population into shards that initialize,
// reweight and mutate in parallel while sharing one tempering schedule:
//
//	history, err := smc.RunGroup(ctx, cfg, model, ps, like, observed, 4)
//
// Advanced Features:
//
//   - Structured Logging: Stage-aware log entries carrying the run ID,
//     worker rank and tempering exponent through the context.
//
//   - Error Handling: Coded errors distinguishing invalid input, degenerate
//     weights, failed tempering searches and model evaluation failures.
//
//   - Deterministic Parallelism: Per-particle random streams derived from
//     the seed, the stage index and the particle's global index, so results
//     are identical at any goroutine or worker count.
//
//   - Robust Proposals: Cholesky factorization with a jitter ladder and a
//     diagonal fallback, so mutation survives degenerate populations.
//
//   - Model Fault Tolerance: A model failure during mutation rejects the
//     proposal instead of aborting the run.
//
//   - Arrow Support: Integration with Apache Arrow for efficient Parquet
//     export of posterior populations.
//
// For command-line use, see cmd/smc-calibrate.
package smc
