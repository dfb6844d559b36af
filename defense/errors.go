package defense

import "fmt"

// RestoreError reports a failed repair. Sessions log and swallow it; it is
// exported so hosts and tests can recognise it.
type RestoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("defense: %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
