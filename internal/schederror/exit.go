package schederror

// ExitError pairs an error with the process exit code the CLI entrypoint
// should return for it, so cmd/onyx-scheduler can distinguish fatal
// scheduling faults from ordinary usage errors.
type ExitError struct {
	error
	ExitCode int
}

func NewExitError(err error, exitCode int) *ExitError {
	if err == nil {
		return nil
	}
	return &ExitError{err, exitCode}
}

func (e *ExitError) GetExitCode() int {
	if e == nil {
		return 0
	}
	return e.ExitCode
}
