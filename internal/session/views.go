package session

import (
	"errors"

	"sabr-processor/internal/sabr"
)

// PartView is the JSON form of an emitted part. Segment bytes are reported
// by size only; the service inspects streams, it does not serve media.
type PartView struct {
	Kind             string  `json:"kind"`
	Format           string  `json:"format,omitempty"`
	VideoID          string  `json:"video_id,omitempty"`
	MimeType         string  `json:"mime_type,omitempty"`
	HeaderID         *uint32 `json:"header_id,omitempty"`
	SequenceNumber   *int64  `json:"sequence_number,omitempty"`
	InitSegment      bool    `json:"init_segment,omitempty"`
	ContentOffset    *int64  `json:"content_offset,omitempty"`
	Size             *int    `json:"size,omitempty"`
	StartMs          *int64  `json:"start_ms,omitempty"`
	DurationMs       int64   `json:"duration_ms,omitempty"`
	ContentLength    *int64  `json:"content_length,omitempty"`
	EndSegmentNumber int64   `json:"end_segment_number,omitempty"`
	LastSegment      bool    `json:"last_segment,omitempty"`
	SeekReason       string  `json:"seek_reason,omitempty"`
	TimeMs           *int64  `json:"time_ms,omitempty"`
	URL              string  `json:"url,omitempty"`
}

// ErrorView is the JSON form of a recoverable or fatal stream error.
type ErrorView struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Format   string `json:"format,omitempty"`
	Expected *int64 `json:"expected,omitempty"`
	Received *int64 `json:"received,omitempty"`
	State    string `json:"state,omitempty"`
	Part     string `json:"part,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
	Code     *int32 `json:"code,omitempty"`
}

// NewPartView converts a part for JSON output.
func NewPartView(p sabr.SabrPart) PartView {
	v := PartView{Kind: p.Kind()}
	switch p := p.(type) {
	case *sabr.FormatInitializedPart:
		v.Format = p.Format.String()
		v.VideoID = p.VideoID
		v.MimeType = p.MimeType
		v.EndSegmentNumber = p.EndSegmentNumber
		v.DurationMs = p.DurationMs
	case *sabr.MediaSegmentDataPart:
		v.Format = p.Format.String()
		v.HeaderID = ptr(p.HeaderID)
		v.SequenceNumber = ptr(p.SequenceNumber)
		v.InitSegment = p.IsInitSegment
		v.ContentOffset = ptr(p.ContentOffset)
		v.Size = ptr(len(p.Data))
	case *sabr.MediaSegmentEndPart:
		v.Format = p.Format.String()
		v.HeaderID = ptr(p.HeaderID)
		v.SequenceNumber = ptr(p.SequenceNumber)
		v.InitSegment = p.IsInitSegment
		v.StartMs = ptr(p.StartMs)
		v.DurationMs = p.DurationMs
		v.ContentLength = ptr(p.ContentLength)
		v.LastSegment = p.LastSegment
	case *sabr.MediaSeekPart:
		v.Format = p.Format.String()
		v.SeekReason = p.Reason.String()
		v.TimeMs = ptr(p.TimeMs)
	case *sabr.RedirectPart:
		v.URL = p.URL
	}
	return v
}

// NewPartViews converts every part in parts.
func NewPartViews(parts []sabr.SabrPart) []PartView {
	out := make([]PartView, 0, len(parts))
	for _, p := range parts {
		out = append(out, NewPartView(p))
	}
	return out
}

// NewErrorView converts a stream error for JSON output.
func NewErrorView(err error) ErrorView {
	v := ErrorView{Type: "internal", Message: err.Error()}

	var (
		mismatch  *sabr.MediaSegmentMismatchError
		state     *sabr.ProtocolStateError
		malformed *sabr.MalformedMessageError
		server    *sabr.ServerError
	)
	switch {
	case errors.As(err, &mismatch):
		v.Type = "sequence_mismatch"
		v.Format = mismatch.Format.String()
		v.Expected = ptr(mismatch.Expected)
		v.Received = ptr(mismatch.Received)
	case errors.As(err, &state):
		v.Type = "protocol_state"
		v.State = state.State.String()
		v.Part = state.PartType.String()
		if !state.Format.IsZero() {
			v.Format = state.Format.String()
		}
	case errors.As(err, &malformed):
		v.Type = "malformed"
		v.Offset = ptr(malformed.Offset)
		if malformed.PartType != 0 {
			v.Part = malformed.PartType.String()
		}
	case errors.As(err, &server):
		v.Type = "server_error"
		v.Code = ptr(server.Code)
	}
	return v
}

// NewErrorViews converts every error in errs.
func NewErrorViews(errs []error) []ErrorView {
	out := make([]ErrorView, 0, len(errs))
	for _, err := range errs {
		out = append(out, NewErrorView(err))
	}
	return out
}

func ptr[T any](v T) *T { return &v }
