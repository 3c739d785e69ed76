// Package models provides built-in forward models so calibrations can run
// straight from a YAML file.
package models

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/XiaoConstantine/smc-go/pkg/core"
)

// ModelInfo describes a built-in forward model.
type ModelInfo struct {
	Name        string
	Description string
	// ParamNames documents the expected parameter order.
	ParamNames []string
}

type entry struct {
	info  ModelInfo
	build func(x []float64) core.Model
}

var registry = map[string]entry{
	"constant": {
		info: ModelInfo{
			Name:        "constant",
			Description: "Flat response: every observation equals the single parameter",
			ParamNames:  []string{"level"},
		},
		build: func(x []float64) core.Model {
			return core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
				if len(params) != 1 {
					return nil, fmt.Errorf("constant model takes 1 parameter, got %d", len(params))
				}
				out := make([]float64, len(x))
				for i := range out {
					out[i] = params[0]
				}
				return out, nil
			})
		},
	},
	"linear": {
		info: ModelInfo{
			Name:        "linear",
			Description: "Straight line: y = slope*x + intercept",
			ParamNames:  []string{"slope", "intercept"},
		},
		build: func(x []float64) core.Model {
			return core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
				if len(params) != 2 {
					return nil, fmt.Errorf("linear model takes 2 parameters, got %d", len(params))
				}
				out := make([]float64, len(x))
				for i, xi := range x {
					out[i] = params[0]*xi + params[1]
				}
				return out, nil
			})
		},
	},
	"polynomial": {
		info: ModelInfo{
			Name:        "polynomial",
			Description: "Polynomial in x: y = c0 + c1*x + c2*x^2 + ..., one coefficient per prior",
			ParamNames:  []string{"c0", "c1", "..."},
		},
		build: func(x []float64) core.Model {
			return core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
				if len(params) == 0 {
					return nil, fmt.Errorf("polynomial model needs at least 1 coefficient")
				}
				out := make([]float64, len(x))
				for i, xi := range x {
					// Horner evaluation, highest coefficient first.
					y := params[len(params)-1]
					for j := len(params) - 2; j >= 0; j-- {
						y = y*xi + params[j]
					}
					out[i] = y
				}
				return out, nil
			})
		},
	},
	"exponential": {
		info: ModelInfo{
			Name:        "exponential",
			Description: "Exponential decay: y = amplitude*exp(-rate*x)",
			ParamNames:  []string{"amplitude", "rate"},
		},
		build: func(x []float64) core.Model {
			return core.ModelFunc(func(_ context.Context, params []float64) ([]float64, error) {
				if len(params) != 2 {
					return nil, fmt.Errorf("exponential model takes 2 parameters, got %d", len(params))
				}
				out := make([]float64, len(x))
				for i, xi := range x {
					out[i] = params[0] * math.Exp(-params[1]*xi)
				}
				return out, nil
			})
		},
	},
}

// Get builds a named forward model over the given independent-variable grid.
func Get(name string, x []float64) (core.Model, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return e.build(x), nil
}

// GetInfo returns the description of a built-in model.
func GetInfo(name string) (ModelInfo, bool) {
	e, ok := registry[name]
	return e.info, ok
}

// ListAll returns the built-in model names in sorted order.
func ListAll() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
