package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization is returned when the speech engine could not be
	// constructed. Every call retries construction until it succeeds.
	ErrInitialization = errors.New("speech engine initialization failed")
	// ErrTimeout is returned when an engine call did not settle within the
	// maximum operation time. The engine has been reset by the time it is
	// returned.
	ErrTimeout = errors.New("speech operation timed out")
	// ErrEngine is returned when the speech engine rejected a call.
	ErrEngine = errors.New("speech engine rejected the operation")
	// ErrStream is returned when the chat provider failed mid-stream.
	ErrStream = errors.New("response stream failed")
	// ErrMisuse is returned for calls that are invalid in the current state.
	ErrMisuse = errors.New("invalid speech operation")

	// ErrStreamAbandoned is returned by a response that was superseded by a
	// newer one before it completed.
	ErrStreamAbandoned = errors.New("response stream abandoned")
	// ErrCoordinatorClosed is returned by calls made after Close.
	ErrCoordinatorClosed = fmt.Errorf("%w: coordinator closed", ErrMisuse)
)

// OperationError describes a failed coordinator operation.
//
// It matches its Kind (one of the package sentinels) and its cause with
// errors.Is.
type OperationError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", operationLabel(e.Op), e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", operationLabel(e.Op), e.Kind, e.Err)
}

func (e *OperationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newOperationError(op string, kind, err error) *OperationError {
	return &OperationError{Op: op, Kind: kind, Err: err}
}

func misuse(op, reason string) *OperationError {
	return newOperationError(op, ErrMisuse, errors.New(reason))
}

const (
	opInitialize      = "initialize"
	opStartListening  = "startListening"
	opStopListening   = "stopListening"
	opPauseListening  = "pauseListening"
	opResumeListening = "resumeListening"
	opSpeak           = "speak"
	opStopSpeaking    = "stopSpeaking"
	opSetMuted        = "setMuted"
	opSetLanguage     = "setLanguage"
	opRespond         = "respond"
)

func operationLabel(op string) string {
	switch op {
	case opInitialize:
		return "could not start the speech engine"
	case opStartListening:
		return "could not start listening"
	case opStopListening:
		return "could not stop listening"
	case opPauseListening:
		return "could not pause listening"
	case opResumeListening:
		return "could not resume listening"
	case opSpeak:
		return "could not speak"
	case opStopSpeaking:
		return "could not stop speaking"
	case opSetMuted:
		return "could not change mute"
	case opSetLanguage:
		return "could not change language"
	case opRespond:
		return "could not get a response"
	default:
		return op
	}
}
