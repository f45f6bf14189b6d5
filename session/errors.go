package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionAlreadyActive = errors.New("a session is already active")
	ErrNoActiveSession      = errors.New("no recording in progress")
	ErrEmptyRecording       = errors.New("empty recording: no audio was captured")
)

// TranscriptionError wraps a failure of the speech-to-text service.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
