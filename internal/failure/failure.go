package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind string

const (
	// KindAcquisition means the audio source or provider connection could not be opened
	KindAcquisition Kind = "acquisition"
	// KindTranscription means the speech provider canceled the stream with an error
	KindTranscription Kind = "transcription"
	// KindAnnotation means a single fragment could not be annotated
	KindAnnotation Kind = "annotation"
	// KindFullAnalysis means the post-recording summary call failed
	KindFullAnalysis Kind = "full_analysis"
	// KindCorrection means the speaker correction call failed
	KindCorrection Kind = "correction"
	// KindPersistence means the finished record could not be stored
	KindPersistence Kind = "persistence"
)

// Fatal reports whether a failure of this kind aborts the session
func (k Kind) Fatal() bool {
	switch k {
	case KindAcquisition, KindTranscription, KindPersistence:
		return true
	}
	return false
}

// Error is a failure tagged with its taxonomy kind
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that produced it
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failure in %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure aborts the current session
func (e *Error) Fatal() bool {
	return e.Kind.Fatal()
}

// KindOf extracts the failure kind from an error chain
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsFatal reports whether err carries a fatal failure kind
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Fatal()
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
