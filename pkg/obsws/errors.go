package obsws

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned when an operation is attempted on a
	// terminated client, or when the connection dies while a caller is
	// waiting for its response.
	ErrDisconnected = errors.New("obsws: not connected")

	// ErrNoPassword is returned when the server requires authentication
	// but no password was configured.
	ErrNoPassword = errors.New("obsws: server requires authentication but no password was given")

	// ErrHandshakeTimeout is returned when the server does not send its
	// Hello message within the handshake timeout.
	ErrHandshakeTimeout = errors.New("obsws: timed out waiting for Hello")
)

// HandshakeError wraps any failure between opening the socket and receiving
// the Identified confirmation. Use errors.Is/As to inspect the cause
// (ErrHandshakeTimeout, ErrNoPassword, *CloseError, *RPCVersionError, ...).
type HandshakeError struct {
	// Stage names the step that failed: "hello", "identify" or "identified".
	Stage string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("obsws: handshake failed at %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CloseError reports that the server closed the connection, carrying the
// close code (standard WebSocket codes or the protocol's 4000 range, see
// the Close* constants) and the textual reason.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("obsws: connection closed by server (code %d): %s", e.Code, e.Reason)
}

// RPCVersionError reports that the server negotiated a different RPC
// version than the client requested. The session is not usable.
type RPCVersionError struct {
	Requested  uint32
	Negotiated uint32
}

func (e *RPCVersionError) Error() string {
	return fmt.Sprintf("obsws: requested RPC version %d but server negotiated %d",
		e.Requested, e.Negotiated)
}

// APIError is a request the server received and explicitly rejected. It
// carries the protocol status code and the optional comment; it is scoped
// to the one request that failed and says nothing about the session.
type APIError struct {
	Code    StatusCode
	Comment string
}

func (e *APIError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obsws: api error %d", e.Code)
	}
	return fmt.Sprintf("obsws: api error %d: %s", e.Code, e.Comment)
}

// ResponseShapeError reports that a request succeeded but its response data
// did not unmarshal into the type the caller asked for.
type ResponseShapeError struct {
	RequestType string
	Err         error
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("obsws: response to %q does not match the requested shape: %v",
		e.RequestType, e.Err)
}

func (e *ResponseShapeError) Unwrap() error { return e.Err }

// StatusCode classifies the outcome of a request as reported by the server.
type StatusCode int

// Status codes defined by the protocol. Success is never surfaced as an
// APIError; the rest explain a rejection.
const (
	StatusUnknown StatusCode = 0
	StatusSuccess StatusCode = 100

	StatusMissingRequestType                   StatusCode = 203
	StatusUnknownRequestType                   StatusCode = 204
	StatusGenericError                         StatusCode = 205
	StatusUnsupportedRequestBatchExecutionType StatusCode = 206
	StatusNotReady                             StatusCode = 207

	StatusMissingRequestField StatusCode = 300
	StatusMissingRequestData  StatusCode = 301

	StatusInvalidRequestField     StatusCode = 400
	StatusInvalidRequestFieldType StatusCode = 401
	StatusRequestFieldOutOfRange  StatusCode = 402
	StatusRequestFieldEmpty       StatusCode = 403
	StatusTooManyRequestFields    StatusCode = 404

	StatusOutputRunning       StatusCode = 500
	StatusOutputNotRunning    StatusCode = 501
	StatusOutputPaused        StatusCode = 502
	StatusOutputNotPaused     StatusCode = 503
	StatusOutputDisabled      StatusCode = 504
	StatusStudioModeActive    StatusCode = 505
	StatusStudioModeNotActive StatusCode = 506

	StatusResourceNotFound        StatusCode = 600
	StatusResourceAlreadyExists   StatusCode = 601
	StatusInvalidResourceType     StatusCode = 602
	StatusNotEnoughResources      StatusCode = 603
	StatusInvalidResourceState    StatusCode = 604
	StatusInvalidInputKind        StatusCode = 605
	StatusResourceNotConfigurable StatusCode = 606
	StatusInvalidFilterKind       StatusCode = 607

	StatusResourceCreationFailed  StatusCode = 700
	StatusResourceActionFailed    StatusCode = 701
	StatusRequestProcessingFailed StatusCode = 702
	StatusCannotAct               StatusCode = 703
)
