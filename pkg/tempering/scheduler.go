// Package tempering chooses the likelihood-tempering schedule for an SMC
// run: exponent increments large enough to make progress toward 1 but small
// enough that reweighting never collapses the effective sample size.
package tempering

import (
	"math"

	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

const (
	// deltaFloor is the smallest increment probed when checking whether any
	// valid increment exists at all.
	deltaFloor = 1e-12
	// landingTolerance snaps the exponent to exactly 1 when the remaining
	// distance is pure floating-point residue.
	landingTolerance = 1e-12
)

// Scheduler performs the adaptive exponent search. The exponent starts at 0,
// is monotonically non-decreasing across stages and terminates at exactly 1.
type Scheduler struct {
	essThreshold float64 // target ESS as a fraction of N
	tol          float64 // relative bisection tolerance on the ESS target
	maxIter      int     // bisection iteration cap

	exponent float64
	history  []float64 // increments taken, in stage order
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTolerance sets the relative bisection tolerance (default 1e-2).
func WithTolerance(tol float64) Option {
	return func(s *Scheduler) { s.tol = tol }
}

// WithMaxIterations sets the bisection iteration cap (default 50).
func WithMaxIterations(n int) Option {
	return func(s *Scheduler) { s.maxIter = n }
}

// NewScheduler creates a scheduler targeting ESS ≈ essThreshold*N after each
// incremental reweighting.
func NewScheduler(essThreshold float64, opts ...Option) *Scheduler {
	s := &Scheduler{
		essThreshold: essThreshold,
		tol:          1e-2,
		maxIter:      50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exponent returns the current tempering exponent.
func (s *Scheduler) Exponent() float64 { return s.exponent }

// Done reports whether the exponent has reached 1.
func (s *Scheduler) Done() bool { return s.exponent >= 1 }

// History returns the increments taken so far, in stage order.
func (s *Scheduler) History() []float64 {
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// NextIncrement searches for the next exponent increment delta such that
// reweighting by exp(delta*logLike_i) yields ESS close to essThreshold*N.
// If even the maximal increment keeps ESS at or above the target, the
// remaining distance to 1 is taken directly (final stage). The scheduler
// advances its exponent before returning.
//
// logLikes are the particles' full log-likelihoods; weights are the current
// normalized weights. Both span the whole population.
func (s *Scheduler) NextIncrement(logLikes, weights []float64) (float64, error) {
	if s.Done() {
		return 0, errors.New(errors.InvalidInput, "tempering schedule already complete")
	}
	if len(logLikes) != len(weights) {
		return 0, errors.WithFields(
			errors.New(errors.InvalidInput, "log-likelihood and weight vectors differ in length"),
			errors.Fields{"log_likes": len(logLikes), "weights": len(weights)},
		)
	}

	n := float64(len(weights))
	target := s.essThreshold * n
	remaining := 1 - s.exponent

	// Final stage: the full remaining increment keeps the population healthy.
	if candidateESS(logLikes, weights, remaining) >= target {
		s.advance(remaining)
		return remaining, nil
	}

	// Degenerate likelihood surface: even a vanishing increment collapses
	// the population onto a single particle.
	if candidateESS(logLikes, weights, deltaFloor) <= 1+1e-9 {
		return 0, errors.WithFields(
			errors.New(errors.NoValidIncrement, "minimal tempering increment collapses ESS to 1"),
			errors.Fields{"exponent": s.exponent},
		)
	}

	// Bisection: ESS(delta) decreases as delta grows, so shrink toward the
	// target from both sides.
	lo, hi := 0.0, remaining
	delta := remaining / 2
	for iter := 0; iter < s.maxIter; iter++ {
		delta = (lo + hi) / 2
		ess := candidateESS(logLikes, weights, delta)
		if math.Abs(ess-target) <= s.tol*target {
			break
		}
		if ess < target {
			hi = delta
		} else {
			lo = delta
		}
	}

	s.advance(delta)
	return delta, nil
}

func (s *Scheduler) advance(delta float64) {
	s.exponent += delta
	if 1-s.exponent < landingTolerance {
		s.exponent = 1
	}
	s.history = append(s.history, delta)
}

// candidateESS computes the effective sample size that would result from
// scaling each weight by exp(delta*logLike) and renormalizing. The reduction
// works in log space with a max shift for stability.
func candidateESS(logLikes, weights []float64, delta float64) float64 {
	maxLW := math.Inf(-1)
	logW := make([]float64, len(weights))
	for i, w := range weights {
		lw := math.Log(w) + delta*logLikes[i]
		logW[i] = lw
		if lw > maxLW {
			maxLW = lw
		}
	}
	if math.IsInf(maxLW, -1) || math.IsNaN(maxLW) {
		return 0
	}

	var sum, sumSq float64
	for _, lw := range logW {
		v := math.Exp(lw - maxLW)
		sum += v
		sumSq += v * v
	}
	return (sum * sum) / sumSq
}
