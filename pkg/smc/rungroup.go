package smc

import (
	"context"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/XiaoConstantine/smc-go/pkg/comm"
	"github.com/XiaoConstantine/smc-go/pkg/core"
)

// RunGroup executes one sampling run across an in-process group of workers,
// each holding an equal shard of the population, and returns the snapshot
// history from the coordinating worker. A fatal error on any worker cancels
// the rest, so no member is left blocked at a collective.
func RunGroup(ctx context.Context, cfg Config, model core.Model, priors *core.PriorSet, like core.Likelihood, observed []float64, workers int) ([]*core.ParticleStep, error) {
	group, err := comm.NewGroup(workers)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	samplers := make([]*Sampler, workers)
	for r := range samplers {
		samplers[r], err = NewSampler(cfg, model, priors, like, observed, group[r], WithRunID(runID))
		if err != nil {
			return nil, err
		}
	}

	var history []*core.ParticleStep
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for r := 0; r < workers; r++ {
		r := r
		p.Go(func(ctx context.Context) error {
			h, err := samplers[r].Sample(ctx)
			if err != nil {
				return err
			}
			if r == 0 {
				history = h
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return history, nil
}
