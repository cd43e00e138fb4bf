package orchestrator

import (
	"fmt"

	"github.com/aescanero/velodago/pkg/domain"
)

// Validator performs the local checks made before any execution context is
// acquired.
type Validator struct{}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a pipeline request. The mode check comes first so a
// request without a mode always fails with domain.ErrMissingMode. Matrix
// shapes are not compared here; the construction step reports mismatches.
func (v *Validator) Validate(req *domain.Request) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}

	if !req.Params.Mode().IsSet() {
		return domain.ErrMissingMode
	}

	if req.Spliced == nil || req.Unspliced == nil {
		return domain.ErrMatrixRequired
	}

	return nil
}
