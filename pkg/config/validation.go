package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Tag     string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "min":
		return fmt.Sprintf("%s must be at least", e.Field)
	case "max":
		return fmt.Sprintf("%s must be at most", e.Field)
	case "gt":
		return fmt.Sprintf("%s must be greater than", e.Field)
	case "lte":
		return fmt.Sprintf("%s must be at most", e.Field)
	case "oneof":
		return fmt.Sprintf("%s must be one of", e.Field)
	default:
		return fmt.Sprintf("%s failed validation", e.Field)
	}
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Validator provides configuration validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new configuration validator.
func NewValidator() (*Validator, error) {
	return &Validator{validate: validator.New()}, nil
}

// ValidateConfig validates a run configuration, combining struct tag
// validation with the cross-field rules the tags cannot express.
func (v *Validator) ValidateConfig(config *RunConfig) error {
	if config == nil {
		return ValidationErrors{
			ValidationError{
				Field:   "config",
				Tag:     "required",
				Value:   nil,
				Message: "config is nil",
			},
		}
	}

	var validationErrors ValidationErrors

	if err := v.validate.Struct(config); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				validationErrors = append(validationErrors, ValidationError{
					Field: e.Field(),
					Tag:   e.Tag(),
					Value: e.Value(),
				})
			}
		} else {
			validationErrors = append(validationErrors, ValidationError{
				Message: err.Error(),
			})
		}
	}

	validationErrors = append(validationErrors, v.validateCustomRules(config)...)

	if len(validationErrors) > 0 {
		return validationErrors
	}
	return nil
}

// validateCustomRules checks the per-distribution prior parameters and the
// relationship between the population size and the worker count.
func (v *Validator) validateCustomRules(config *RunConfig) ValidationErrors {
	var errors ValidationErrors

	seen := make(map[string]bool)
	for i, prior := range config.Priors {
		field := fmt.Sprintf("priors[%d]", i)

		if seen[prior.Name] {
			errors = append(errors, ValidationError{
				Field:   field,
				Tag:     "unique",
				Value:   prior.Name,
				Message: fmt.Sprintf("%s: duplicate parameter name %q", field, prior.Name),
			})
		}
		seen[prior.Name] = true

		switch prior.Distribution {
		case "normal", "lognormal":
			if prior.Stddev <= 0 {
				errors = append(errors, ValidationError{
					Field:   field,
					Tag:     "gt",
					Value:   prior.Stddev,
					Message: fmt.Sprintf("%s: stddev must be positive for %s priors", field, prior.Distribution),
				})
			}
		case "uniform":
			if prior.Max <= prior.Min {
				errors = append(errors, ValidationError{
					Field:   field,
					Tag:     "gtfield",
					Value:   prior.Max,
					Message: fmt.Sprintf("%s: max must exceed min for uniform priors", field),
				})
			}
		}
	}

	if config.Sampler.Workers > 0 && config.Sampler.NumParticles > 0 &&
		config.Sampler.NumParticles < config.Sampler.Workers {
		errors = append(errors, ValidationError{
			Field:   "sampler.num_particles",
			Tag:     "min",
			Value:   config.Sampler.NumParticles,
			Message: "sampler.num_particles must be at least the worker count",
		})
	}

	return errors
}
