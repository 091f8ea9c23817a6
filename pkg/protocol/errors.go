package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout: no reply within a bounded wait. Fatal.
	ErrTimeout = errors.New("no reply from computing environment within deadline")

	// ErrHandshakeFailed: HELLO was not answered with READY in time. Fatal.
	ErrHandshakeFailed = errors.New("computing environment handshake failed")

	// ErrProtocolViolation: a reply token outside the expected vocabulary. Fatal.
	ErrProtocolViolation = errors.New("unexpected message from computing environment")

	// ErrTrainingFailed: the computing environment answered TRAIN with KO. Fatal.
	ErrTrainingFailed = errors.New("computing environment answered KO: recommendation model training failed")

	// ErrUnknownWorker: FINISHED from an identity that was never provisioned.
	ErrUnknownWorker = errors.New("report from unknown worker")

	// ErrMalformedReport: inbound worker message whose first frame is not FINISHED.
	ErrMalformedReport = errors.New("malformed worker report")

	ErrChannelClosed    = errors.New("channel closed")
	ErrNoWorkersStarted = errors.New("no worker could be started")
)

// Fatal reports whether err must terminate the run.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnknownWorker) && !errors.Is(err, ErrMalformedReport)
}

// PhaseError records the phase in which a fatal error ended the run.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("run failed during %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
