package session

import (
	"sync"
	"time"

	"sabr-processor/internal/sabr"
)

// SessionID uniquely identifies one logical SABR stream.
type SessionID string

// Session is the in-memory state of one stream: the Processor driving it
// and the assembler for chunks that split parts.
//
// A Processor is single-threaded, so every use of processor or stream must
// hold mu. Ended is written with both mu and the repository lock held, so
// holding either is enough to read it.
type Session struct {
	ID        SessionID
	CreatedAt time.Time
	Ended     bool

	mu        sync.Mutex
	processor *sabr.Processor
	stream    *sabr.Stream
	bytesIn   int64
}

// Options configures a new session. Zero values select the service defaults.
type Options struct {
	LiveSegmentToleranceMs int `json:"live_segment_tolerance_ms"`
}

// FeedResult is what one uploaded chunk produced.
type FeedResult struct {
	Parts []sabr.SabrPart
	// Errors holds recoverable errors; the affected segments were dropped.
	Errors []error
	// ServerError is set when the stream was terminated by the server. The
	// session is ended when this happens.
	ServerError *sabr.ServerError
}
