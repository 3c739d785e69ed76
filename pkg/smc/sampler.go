// Package smc implements the Sequential Monte Carlo sampling engine:
// particles drawn from the priors are pushed through an adaptive
// likelihood-tempering schedule with ESS-gated systematic resampling and
// Metropolis-Hastings rejuvenation, coordinated across data-parallel
// workers. The output is the ordered history of population snapshots, one
// per tempering stage.
package smc

import (
	"context"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/XiaoConstantine/smc-go/pkg/comm"
	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
	"github.com/XiaoConstantine/smc-go/pkg/logging"
	"github.com/XiaoConstantine/smc-go/pkg/mutation"
	"github.com/XiaoConstantine/smc-go/pkg/resample"
	"github.com/XiaoConstantine/smc-go/pkg/tempering"
)

// Config contains configuration options for an SMC run.
type Config struct {
	// NumParticles is the global population size. Default: none, required
	NumParticles int `json:"num_particles"`
	// NumMCMCSteps is the number of mutation steps per particle per stage. Default: 1
	NumMCMCSteps int `json:"num_mcmc_steps"`
	// ESSThreshold gates resampling and targets the tempering search, as a
	// fraction of NumParticles. Default: 0.5
	ESSThreshold float64 `json:"ess_threshold"`
	// CovScale scales the proposal covariance. Default: 2.38^2/d
	CovScale float64 `json:"cov_scale"`
	// Seed drives all randomness in the run. Default: 1
	Seed int64 `json:"seed"`
	// MaxGoroutines bounds per-worker mutation parallelism. Default: 8
	MaxGoroutines int `json:"max_goroutines"`
}

func (c *Config) applyDefaults() {
	if c.NumMCMCSteps <= 0 {
		c.NumMCMCSteps = 1
	}
	if c.ESSThreshold == 0 {
		c.ESSThreshold = 0.5
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.MaxGoroutines <= 0 {
		c.MaxGoroutines = 8
	}
}

// state is the sampler's per-stage state machine.
type state int

const (
	stateInitialized state = iota
	stateReweighting
	stateResampling
	stateMutating
	stateDone
)

func (s state) String() string {
	return [...]string{"INITIALIZED", "REWEIGHTING", "RESAMPLING", "MUTATING", "DONE"}[s]
}

// Sampler drives the SMC stage loop on one worker. Every worker in the
// group runs the identical loop; rank 0 additionally coordinates the
// tempering schedule, global normalization and resampling.
type Sampler struct {
	cfg        Config
	model      core.Model
	priors     *core.PriorSet
	likelihood core.Likelihood
	observed   []float64
	comm       comm.Communicator
	kernel     *mutation.Kernel
	logger     *logging.Logger
	runID      string
}

// Option defines functional options for sampler construction.
type Option func(*Sampler)

// WithRunID overrides the generated run identifier, so multiple workers of
// one run share it in logs and storage.
func WithRunID(id string) Option {
	return func(s *Sampler) {
		s.runID = id
	}
}

// NewSampler validates the configuration and builds a sampler bound to one
// communicator member. All members of a group must be constructed with
// identical configuration and inputs.
func NewSampler(cfg Config, model core.Model, priors *core.PriorSet, like core.Likelihood, observed []float64, communicator comm.Communicator, opts ...Option) (*Sampler, error) {
	cfg.applyDefaults()

	if cfg.NumParticles <= 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "num_particles must be positive"),
			errors.Fields{"num_particles": cfg.NumParticles},
		)
	}
	if cfg.NumParticles < communicator.Size() {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "num_particles must be at least the worker count"),
			errors.Fields{"num_particles": cfg.NumParticles, "workers": communicator.Size()},
		)
	}
	if cfg.ESSThreshold <= 0 || cfg.ESSThreshold > 1 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "ess_threshold must be in (0, 1]"),
			errors.Fields{"ess_threshold": cfg.ESSThreshold},
		)
	}
	if priors == nil || priors.Dim() == 0 {
		return nil, errors.New(errors.InvalidInput, "at least one prior is required")
	}

	kernel := mutation.NewKernel(mutation.Config{
		Steps:         cfg.NumMCMCSteps,
		CovScale:      cfg.CovScale,
		MaxGoroutines: cfg.MaxGoroutines,
	}, model, priors, like, observed, cfg.Seed)

	s := &Sampler{
		cfg:        cfg,
		model:      model,
		priors:     priors,
		likelihood: like,
		observed:   observed,
		comm:       communicator,
		kernel:     kernel,
		logger:     logging.GetLogger(),
		runID:      uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunID identifies this run in logs and storage.
func (s *Sampler) RunID() string { return s.runID }

// header is the per-stage control message rank 0 broadcasts after running
// the tempering search: increment, exact new exponent and the global
// maximum log-weight used to stabilize the distributed ESS reduction.
// A NaN increment aborts the run on every member; the second slot then
// carries the error code.
const headerLen = 3

// Sample runs the full tempering loop and returns the ordered snapshot
// history. The history is authoritative on rank 0; other ranks return a nil
// history with a nil error but hold their consistent final shard state.
//
// Fatal errors (degenerate weights, failed tempering search, initialization
// model failures, communication breakdown) abort the whole run on every
// member. Model failures during mutation only auto-reject proposals.
func (s *Sampler) Sample(ctx context.Context) ([]*core.ParticleStep, error) {
	ctx = logging.WithRunID(ctx, s.runID)
	ctx = logging.WithRank(ctx, s.comm.Rank())

	root := s.comm.Rank() == 0
	sizes := comm.ShardSizes(s.cfg.NumParticles, s.comm.Size())
	offset := 0
	for r := 0; r < s.comm.Rank(); r++ {
		offset += sizes[r]
	}

	if root {
		s.logger.Info(ctx, "starting SMC run: particles=%d workers=%d ess_threshold=%.2f mcmc_steps=%d seed=%d",
			s.cfg.NumParticles, s.comm.Size(), s.cfg.ESSThreshold, s.cfg.NumMCMCSteps, s.cfg.Seed)
	}

	// INITIALIZED: draw the shard from the priors and evaluate every
	// particle's likelihood once. At exponent 0 the tempered likelihood is
	// identically 0, so initial weights are uniform.
	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(s.comm.Rank())))
	shard, initErr := s.initShard(ctx, sizes[s.comm.Rank()], rng)
	if err := s.syncInitFailure(ctx, initErr); err != nil {
		return nil, err
	}

	var history []*core.ParticleStep
	var global []core.Particle // root's copy of the full population
	scheduler := tempering.NewScheduler(s.cfg.ESSThreshold)
	resampler := resample.NewSystematic()
	rootRng := rand.New(rand.NewSource(s.cfg.Seed + int64(s.comm.Size())))

	// Initial snapshot at exponent 0.
	gathered, err := s.comm.Gather(ctx, shard)
	if err != nil {
		return nil, err
	}
	if root {
		global = gathered
		step, err := core.NewParticleStep(global, 0)
		if err != nil {
			s.abort(ctx, err)
			return nil, err
		}
		history = append(history, step)
	}

	current := stateReweighting
	stage := 0
	exponent := 0.0
	var stageESS float64

	for current != stateDone {
		if err := errors.CheckContext(ctx, "sampling stage"); err != nil {
			return nil, err
		}

		switch current {
		case stateReweighting:
			stage++
			stageCtx := core.StageContext{
				Stage:        stage,
				Exponent:     exponent,
				ESSThreshold: s.cfg.ESSThreshold,
				Seed:         s.cfg.Seed,
			}
			delta, newExponent, ess, err := s.reweight(ctx, stageCtx, shard, global, scheduler)
			if err != nil {
				return nil, err
			}
			exponent = newExponent
			stageESS = ess

			if root {
				// Keep the coordinator's population copy in sync with the
				// same increment the shards applied.
				for i := range global {
					global[i].LogWeight += delta * global[i].LogLike
				}
			}

			logCtx := logging.WithStage(ctx, logging.StageInfo{Index: stage, Exponent: exponent})
			if root {
				s.logger.Info(logCtx, "reweighted: ess=%.1f threshold=%.1f",
					ess, s.cfg.ESSThreshold*float64(s.cfg.NumParticles))
			}

			if ess < s.cfg.ESSThreshold*float64(s.cfg.NumParticles) {
				current = stateResampling
			} else {
				current = stateMutating
			}

		case stateResampling:
			var resampled []core.Particle
			if root {
				step, err := core.NewParticleStep(global, exponent)
				if err != nil {
					s.abort(ctx, err)
					return nil, err
				}
				newStep, err := resampler.Resample(step, rootRng)
				if err != nil {
					s.abort(ctx, err)
					return nil, err
				}
				resampled = newStep.Particles()
				global = resampled
				logCtx := logging.WithStage(ctx, logging.StageInfo{Index: stage, Exponent: exponent})
				s.logger.Info(logCtx, "resampled population: ess=%.1f", stageESS)
			}
			shard, err = s.comm.Scatter(ctx, resampled)
			if err != nil {
				return nil, err
			}
			current = stateMutating

		case stateMutating:
			shard, err = s.mutateShard(ctx, shard, global, exponent, stage, offset)
			if err != nil {
				return nil, err
			}

			// Snapshot the mutated population with the stage's weights.
			gathered, err := s.comm.Gather(ctx, shard)
			if err != nil {
				return nil, err
			}
			if root {
				global = gathered
				step, err := core.NewParticleStep(global, exponent)
				if err != nil {
					s.abort(ctx, err)
					return nil, err
				}
				history = append(history, step)
			}

			if exponent >= 1 {
				current = stateDone
			} else {
				current = stateReweighting
			}
		}
	}

	if root {
		s.logger.Info(ctx, "SMC run complete: stages=%d final_ess=%.1f", stage, stageESS)
		return history, nil
	}
	return nil, nil
}

// initShard draws the worker's shard from the priors and evaluates each
// particle's full log-likelihood. A model failure here is fatal: a particle
// with undefined likelihood cannot enter the population.
func (s *Sampler) initShard(ctx context.Context, size int, rng *rand.Rand) ([]core.Particle, error) {
	vectors := s.priors.SampleVectors(size, rng)
	shard := make([]core.Particle, size)
	for i, params := range vectors {
		ll, err := s.kernel.LogLikelihood(ctx, params)
		if err != nil {
			return nil, errors.WithFields(err, errors.Fields{"phase": "initialization"})
		}
		shard[i] = core.Particle{Params: params, LogLike: ll, LogWeight: 0}
	}
	return shard, nil
}

// syncInitFailure lets every member learn whether any shard failed to
// initialize, so a fatal initialization error aborts all workers instead of
// deadlocking the survivors at the next collective.
func (s *Sampler) syncInitFailure(ctx context.Context, initErr error) error {
	flag := 0.0
	if initErr != nil {
		flag = 1.0
	}
	failures, err := s.comm.AllReduceSum(ctx, []float64{flag})
	if err != nil {
		return err
	}
	if failures[0] > 0 {
		if initErr != nil {
			s.logger.Error(ctx, "initialization failed: %v", initErr)
			return initErr
		}
		return errors.New(errors.ModelEvaluation, "initialization failed on another worker")
	}
	return nil
}

// reweight runs one tempering increment: rank 0 searches for the increment
// on the gathered population, broadcasts the stage header, and all ranks
// apply the incremental weight update and join the global ESS reduction.
// It returns the applied increment, the new exponent and the global ESS.
func (s *Sampler) reweight(ctx context.Context, stageCtx core.StageContext, shard, global []core.Particle, scheduler *tempering.Scheduler) (float64, float64, float64, error) {
	header := make([]float64, headerLen)
	if s.comm.Rank() == 0 {
		logLikes := make([]float64, len(global))
		logWeights := make([]float64, len(global))
		for i, p := range global {
			logLikes[i] = p.LogLike
			logWeights[i] = p.LogWeight
		}
		weights, err := core.Normalize(logWeights)
		if err != nil {
			s.abortHeader(header, err)
		} else {
			delta, err := scheduler.NextIncrement(logLikes, weights)
			if err != nil {
				s.abortHeader(header, err)
			} else {
				header[0] = delta
				header[1] = scheduler.Exponent()
				header[2] = maxPostUpdateLogWeight(global, delta)
			}
		}
	}

	header, err := s.comm.Broadcast(ctx, header)
	if err != nil {
		return 0, 0, 0, err
	}
	if math.IsNaN(header[0]) {
		code := errors.ErrorCode(int(header[1]))
		if s.comm.Rank() == 0 {
			return 0, 0, 0, errors.New(code, "tempering search failed")
		}
		return 0, 0, 0, errors.New(code, "run aborted by coordinator")
	}
	delta, newExponent, maxLW := header[0], header[1], header[2]

	// Incremental importance-weight update at the new exponent.
	for i := range shard {
		shard[i].LogWeight += delta * shard[i].LogLike
	}

	// Global ESS: local contributions shifted by the global max log-weight,
	// then one all-reduce.
	var sumW, sumW2 float64
	for _, p := range shard {
		v := math.Exp(p.LogWeight - maxLW)
		sumW += v
		sumW2 += v * v
	}
	totals, err := s.comm.AllReduceSum(ctx, []float64{sumW, sumW2})
	if err != nil {
		return 0, 0, 0, err
	}
	if totals[0] == 0 || totals[1] == 0 {
		return 0, 0, 0, errors.WithFields(
			errors.New(errors.DegenerateWeights, "all particle weights collapsed during reweighting"),
			errors.Fields{"stage": stageCtx.Stage, "exponent": newExponent},
		)
	}
	ess := totals[0] * totals[0] / totals[1]

	return delta, newExponent, ess, nil
}

// mutateShard rejuvenates the local shard. The proposal covariance comes
// from the global weighted population, so rank 0 computes and broadcasts it.
func (s *Sampler) mutateShard(ctx context.Context, shard, global []core.Particle, exponent float64, stage, offset int) ([]core.Particle, error) {
	d := s.priors.Dim()
	covFlat := make([]float64, d*d)
	if s.comm.Rank() == 0 {
		step, err := core.NewParticleStep(global, exponent)
		if err != nil {
			s.abort(ctx, err)
			return nil, err
		}
		cov := s.kernel.ProposalCovariance(step)
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				covFlat[i*d+j] = cov.At(i, j)
			}
		}
	}
	covFlat, err := s.comm.Broadcast(ctx, covFlat)
	if err != nil {
		return nil, err
	}

	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov.SetSym(i, j, covFlat[i*d+j])
		}
	}

	logCtx := logging.WithStage(ctx, logging.StageInfo{Index: stage, Exponent: exponent})
	mutated, stats, err := s.kernel.Mutate(logCtx, shard, exponent, cov, stage, offset)
	if err != nil {
		return nil, err
	}
	if s.comm.Rank() == 0 {
		s.logger.Debug(logCtx, "shard mutated: acceptance=%.3f model_failures=%d",
			stats.AcceptanceRate(), stats.ModelFailures)
	}
	return mutated, nil
}

// abortHeader encodes a fatal coordinator error into the stage header.
func (s *Sampler) abortHeader(header []float64, err error) {
	header[0] = math.NaN()
	header[1] = float64(errors.CodeOf(err))
	s.logger.Error(context.Background(), "coordinator aborting run: %v", err)
}

// abort logs a fatal error on the coordinator. Members blocked on a
// collective are released by the caller canceling the shared context.
func (s *Sampler) abort(ctx context.Context, err error) {
	s.logger.Error(ctx, "fatal sampling error: %v", err)
}

func maxPostUpdateLogWeight(global []core.Particle, delta float64) float64 {
	maxLW := math.Inf(-1)
	for _, p := range global {
		lw := p.LogWeight + delta*p.LogLike
		if lw > maxLW {
			maxLW = lw
		}
	}
	return maxLW
}
