package predict

import (
	"fmt"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
)

// ValidationResult contains the outcome of model output validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// ValidateBatchOutput checks model output against the batch it came from.
// This validates:
// - one prediction per input image
// - prediction height and width match the input
// - prediction data matches its declared shape
//
// Channel count and dtype are left to CleanPrediction, which fails only the
// affected tile.
func ValidateBatchOutput(batch model.Batch, preds []model.Tensor) ValidationResult {
	result := ValidationResult{
		Passed: true,
	}

	// Check 1: Count
	if len(preds) != batch.Len() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("prediction count mismatch: have %d, expected %d", len(preds), batch.Len()))
		result.Passed = false
		return result
	}

	for i, t := range preds {
		// Check 2: Spatial shape
		if t.Height != batch.Height || t.Width != batch.Width {
			result.Errors = append(result.Errors,
				fmt.Sprintf("prediction %d is %dx%d, input is %dx%d", i, t.Height, t.Width, batch.Height, batch.Width))
			result.Passed = false
			continue
		}

		// Check 3: Data length
		if err := t.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("prediction %d: %v", i, err))
			result.Passed = false
			continue
		}

		if t.Channels != 1 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("prediction %d has %d channels", i, t.Channels))
		}
	}

	return result
}

// Error summarizes the validation errors.
func (r ValidationResult) Error() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("invalid model output: %v", r.Errors)
}
