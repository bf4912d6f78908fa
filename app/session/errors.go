package session

import "errors"

var (
	// ErrUnauthorized is returned by calendar facades when the user has no
	// valid credential. The dispatcher turns it into an authorization prompt.
	ErrUnauthorized = errors.New("session: user not authorized")

	// ErrNoFlow is returned when an auth code arrives without a current flow.
	ErrNoFlow = errors.New("session: no authorization flow in progress")

	// ErrExtraction is returned when the extraction service cannot produce
	// a usable draft from the text.
	ErrExtraction = errors.New("session: could not extract event from text")

	// ErrSessionExpired is returned when a continuation arrives after the state
	// was already resolved (double tap, restart, or stale keyboard).
	ErrSessionExpired = errors.New("session: conversation state expired")
)

// FacadeError wraps a backend failure with a stable code for log lines.
type FacadeError struct {
	Op   string
	Kind string
	Err  error
}

func (e *FacadeError) Error() string {
	return "session: " + e.Op + ": " + e.Err.Error()
}

func (e *FacadeError) Unwrap() error { return e.Err }

// Code exposes the error kind the way router summaries expect.
func (e *FacadeError) Code() string { return e.Kind }

// WrapFacade annotates err with the operation name and error kind.
// A nil err yields nil.
func WrapFacade(op, kind string, err error) error {
	if err == nil {
		return nil
	}
	return &FacadeError{Op: op, Kind: kind, Err: err}
}
