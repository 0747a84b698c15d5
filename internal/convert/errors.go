package convert

import "fmt"

// Pipeline steps reported by StepError.
const (
	StepLoad     = "load"
	StepTopology = "topology"
	StepExport   = "export"
	StepVerify   = "verify"
)

// StepError wraps the error of one pipeline step.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap returns the step's error.
func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
