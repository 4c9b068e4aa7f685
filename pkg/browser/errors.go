package browser

import (
	"errors"
	"fmt"

	"github.com/entrhq/notebridge/pkg/credentials"
)

// ErrorKind classifies a failed session or query operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidCredentials means normalization yielded no usable cookies.
	KindInvalidCredentials
	// KindSessionStart means the browser context could not be launched.
	KindSessionStart
	// KindInputNotFound means the question input never appeared.
	KindInputNotFound
	// KindNoResponse means no answer element was rendered.
	KindNoResponse
	// KindInteraction covers every other navigation or automation fault.
	KindInteraction
	// KindAuthExpired means the session is signed out.
	KindAuthExpired
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "Unknown",
	KindInvalidCredentials: "InvalidCredentials",
	KindSessionStart:       "SessionStartFailure",
	KindInputNotFound:      "InputNotFound",
	KindNoResponse:         "NoResponseFound",
	KindInteraction:        "InteractionError",
	KindAuthExpired:        "AuthExpired",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// QueryError is returned by Manager and query operations. ArtifactPath is
// set when a diagnostic screenshot was captured.
type QueryError struct {
	Kind         ErrorKind
	Op           string
	Err          error
	ArtifactPath string
}

func (e *QueryError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ArtifactPath != "" {
		msg += " (screenshot saved to " + e.ArtifactPath + ")"
	}
	return msg
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrInputNotFound)
// works for any QueryError of that kind.
func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	return ok && t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidCredentials = &QueryError{Kind: KindInvalidCredentials}
	ErrSessionStart       = &QueryError{Kind: KindSessionStart}
	ErrInputNotFound      = &QueryError{Kind: KindInputNotFound}
	ErrNoResponse         = &QueryError{Kind: KindNoResponse}
	ErrInteraction        = &QueryError{Kind: KindInteraction}
	ErrAuthExpired        = &QueryError{Kind: KindAuthExpired}
)

// ErrSessionClosed is returned by every operation on a closed Manager.
var ErrSessionClosed = errors.New("browser session is closed")

func closedError() *QueryError {
	return &QueryError{Kind: KindSessionStart, Op: "start", Err: ErrSessionClosed}
}

// KindOf extracts the error kind from err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	if errors.Is(err, credentials.ErrInvalidCredentials) {
		return KindInvalidCredentials
	}
	return KindUnknown
}
