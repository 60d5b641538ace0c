package session

import "fmt"

// OpError labels a failed operation with the session and step it belongs
// to, for example "Destination Server: Create Box".
type OpError struct {
	Server string
	Op     string
	Err    error
}

// NewOpError wraps err for the named session s.
func NewOpError(s Session, op string, err error) *OpError {
	return &OpError{Server: s.Name(), Op: op, Err: err}
}

// Step is the human label of the failed step.
func (e *OpError) Step() string {
	if e.Server == "" {
		return e.Op
	}
	return fmt.Sprintf("%s Server: %s", e.Server, e.Op)
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %v", e.Step(), e.Err) }

func (e *OpError) Unwrap() error { return e.Err }
