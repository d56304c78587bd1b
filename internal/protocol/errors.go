package protocol

import "errors"

// ErrCode is a member of the closed wire error taxonomy (spec §7). These
// strings are surfaced verbatim in {success:false, error:...} responses.
type ErrCode string

const (
	ErrInvalidConnection   ErrCode = "Invalid connection"
	ErrInvalidRequest      ErrCode = "Invalid request"
	ErrUnknown             ErrCode = "Unknown error"
	ErrPeerNotFound        ErrCode = "Peer not found"
	ErrPeerNotAuthed       ErrCode = "Peer not authenticated"
	ErrPeerNotSubscribed   ErrCode = "Peer is not subscribed to channel"
	ErrChannelNotFound     ErrCode = "Channel not found"
	ErrRecipientNotFound   ErrCode = "Recipient not found"
)

// RouteError wraps an ErrCode so route handlers can return it as a normal
// Go error and have the dispatcher fold it into {success:false,...} without
// every handler constructing the response envelope itself.
type RouteError struct {
	Code ErrCode
}

func (e *RouteError) Error() string { return string(e.Code) }

func NewRouteError(code ErrCode) *RouteError { return &RouteError{Code: code} }

// AsRouteError extracts the wire error code for a response, falling back to
// Unknown for anything that isn't a recognized RouteError (a Store failure,
// for instance, must never leak its internal message onto the wire).
func AsRouteError(err error) ErrCode {
	if err == nil {
		return ""
	}
	var re *RouteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrUnknown
}
