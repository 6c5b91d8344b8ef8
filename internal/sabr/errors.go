package sabr

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the buffer ends before a complete part.
	ErrTruncated = errors.New("sabr: truncated part")

	// ErrInvalidPartType is returned for a part type tag the protocol never uses.
	ErrInvalidPartType = errors.New("sabr: invalid part type")

	// ErrPartTooLarge is returned when a declared part size exceeds the
	// decoder's ceiling.
	ErrPartTooLarge = errors.New("sabr: part size exceeds limit")

	// ErrInvalidPayload is returned when a part payload cannot be decoded.
	ErrInvalidPayload = errors.New("sabr: invalid part payload")
)

// MalformedMessageError reports a part that could not be decoded. It is fatal
// to the current parse; the transport is expected to re-establish the stream.
type MalformedMessageError struct {
	Offset   int      // offset of the part envelope in the buffer
	PartType PartType // zero when the type itself could not be read
	Need     int      // bytes required, when known
	Have     int      // bytes available
	Err      error    // one of the sentinel errors above
	Detail   string
}

func (e *MalformedMessageError) Error() string {
	msg := fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	if e.PartType != 0 {
		msg += fmt.Sprintf(" (part %s)", e.PartType)
	}
	if e.Need > 0 {
		msg += fmt.Sprintf(": need %d bytes, have %d", e.Need, e.Have)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// MediaSegmentMismatchError is returned when a segment arrives out of
// sequence for its format. It is recoverable: the segment is dropped and the
// caller may resync.
type MediaSegmentMismatchError struct {
	Format   FormatID
	Expected int64
	Received int64
}

func (e *MediaSegmentMismatchError) Error() string {
	return fmt.Sprintf("sabr: segment sequence mismatch for format %s: expected %d, received %d",
		e.Format, e.Expected, e.Received)
}

// ProtocolStateError is returned when a message is not valid in the
// Processor's current state, e.g. a MEDIA_END with no open segment.
// Format is zero when the message does not identify one.
type ProtocolStateError struct {
	State    State
	PartType PartType
	Format   FormatID
	HeaderID uint32
	Reason   string
}

func (e *ProtocolStateError) Error() string {
	if !e.Format.IsZero() {
		return fmt.Sprintf("sabr: %s in state %s (format %s, header %d): %s", e.PartType, e.State, e.Format, e.HeaderID, e.Reason)
	}
	return fmt.Sprintf("sabr: %s in state %s (header %d): %s", e.PartType, e.State, e.HeaderID, e.Reason)
}

// ServerError is returned when the server sends a SABR_ERROR part.
type ServerError struct {
	Type string
	Code int32
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("sabr: server error %q (code %d)", e.Type, e.Code)
}

// IsRecoverable reports whether err leaves the Processor usable so that the
// caller can drop the affected segment and carry on with the stream.
func IsRecoverable(err error) bool {
	var mismatch *MediaSegmentMismatchError
	var state *ProtocolStateError
	return errors.As(err, &mismatch) || errors.As(err, &state)
}
