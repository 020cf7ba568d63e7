// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"errors"
	"fmt"

	"github.com/creachadair/trpc/wire"
)

// SessionID identifies one connected peer from the server's perspective.
type SessionID int

// FirstSessionID is the ID assigned to the first session added to a server.
// Subsequent sessions are numbered consecutively.
const FirstSessionID SessionID = 100

// RequestID is the 32-bit tag at the head of every message.
//
// The values below FirstRequestID are reserved sentinels that mark control
// messages. All other values are per-peer request IDs, allocated from
// FirstRequestID upward, so a single comparison distinguishes a control
// message from a correlation ID.
type RequestID uint32

const (
	TagNotify       RequestID = 1 // [1, event, args...]: one-way notification
	TagCall         RequestID = 2 // [2, function, id, args...]: server to client call
	TagCallResponse RequestID = 3 // [3, id, results...]: response to a server call

	// FirstRequestID is the first ordinary request ID allocated by each
	// session and client.
	FirstRequestID RequestID = 4
)

// IsReserved reports whether id is one of the sentinel tags.
func (id RequestID) IsReserved() bool { return id < FirstRequestID }

func (id RequestID) String() string {
	switch id {
	case TagNotify:
		return "NOTIFY"
	case TagCall:
		return "CALL"
	case TagCallResponse:
		return "CALL_RESPONSE"
	case 0:
		return "INVALID"
	default:
		return fmt.Sprintf("#%d", uint32(id))
	}
}

// tagCodec encodes the leading tag and embedded request IDs.
var tagCodec = wire.Uint32

func scanTag(s *wire.Scanner) (RequestID, error) {
	v, err := tagCodec.Scan(s)
	return RequestID(v), err
}

// Method declares the name and wire signature of a remote function.
//
// For a call issued by a Client the name has the form "Handler.Function".
// For a call or notification issued by a Server, the name is the name
// registered on the client with OnCall or OnNotify.
type Method struct {
	Name    string
	Params  []wire.Codec
	Results []wire.Codec
}

func (m Method) String() string {
	return m.Name + wire.Signature(m.Params) + " " + wire.Signature(m.Results)
}

// A Callback receives the decoded results of a call, in the order declared by
// the Results of its Method.
type Callback func(results []any)

// A Reply delivers the results of a call to its caller. The results must match
// the declared Results of the function, in order. A Reply may be invoked from
// any goroutine, but only once; later invocations report ErrReplied and send
// nothing.
type Reply func(results ...any) error

var (
	// ErrUnknownFunc is reported for a call or notification naming a handler
	// or function that is not registered. This usually indicates that the
	// peers disagree about the protocol version.
	ErrUnknownFunc = errors.New("unknown function")

	// ErrUnmatchedResponse is reported for a response whose request ID does
	// not match any pending call. This is a late or duplicate response, or a
	// peer bug. It is never treated as success.
	ErrUnmatchedResponse = errors.New("unmatched response")

	// ErrReservedTag is reported when a client sends a message with a tag
	// that only the server may send.
	ErrReservedTag = errors.New("reserved tag")

	// ErrMalformed is reported for a message that cannot be decoded
	// according to the declared signature. It is fatal to the connection,
	// since the stream offers no point to resynchronize.
	ErrMalformed = errors.New("malformed message")

	// ErrReplied is reported by a Reply invoked more than once.
	ErrReplied = errors.New("reply already sent")

	// ErrClosed is reported when sending on a session or client whose
	// connection has been closed.
	ErrClosed = errors.New("connection closed")

	// ErrBadName is reported for a client call whose name does not have the
	// form "Handler.Function".
	ErrBadName = errors.New("invalid method name")

	// ErrNotStarted is reported for a call on a client that is not running.
	ErrNotStarted = errors.New("client not started")

	// ErrSuppressed is reported by CallWait when a BeforeResponse hook
	// declined delivery of the response.
	ErrSuppressed = errors.New("response suppressed")
)

// MessageError describes a failure to dispatch an inbound message. It wraps
// one of the sentinel errors of this package.
type MessageError struct {
	Session SessionID // zero on the client side
	Tag     RequestID // the leading tag of the message
	Name    string    // the handler, function, or event name, if known
	Err     error
}

// Error satisfies the error interface.
func (m *MessageError) Error() string {
	var who string
	if m.Session != 0 {
		who = fmt.Sprintf("session %d: ", m.Session)
	}
	if m.Name != "" {
		return fmt.Sprintf("%smessage %v %q: %v", who, m.Tag, m.Name, m.Err)
	}
	return fmt.Sprintf("%smessage %v: %v", who, m.Tag, m.Err)
}

// Unwrap reports the underlying error of m.
func (m *MessageError) Unwrap() error { return m.Err }

// IsFatal reports whether err terminates the connection it occurred on.
func IsFatal(err error) bool { return errors.Is(err, ErrMalformed) }

// malformed wraps err as a fatal decoding error.
func malformed(err error) error { return fmt.Errorf("%w: %w", ErrMalformed, err) }

// checkDone reports an error if s has unconsumed input after a message has
// been fully decoded according to its declared signature.
func checkDone(s *wire.Scanner) error {
	if s.Len() != 0 {
		return malformed(fmt.Errorf("%d unexpected trailing bytes", s.Len()))
	}
	return nil
}
