package sabr

import (
	"fmt"
)

// Message is a decoded UMP part. The set of implementations is closed.
type Message interface {
	PartType() PartType
	appendPayload(b []byte) []byte
}

// FormatID identifies one audio, video or caption rendition. It is a
// comparable value and is used directly as a map key.
type FormatID struct {
	Itag         int32  `json:"itag"`
	LastModified uint64 `json:"last_modified,omitempty"`
	XTags        string `json:"xtags,omitempty"` // language, drc and other variant tags
}

func (f FormatID) String() string {
	s := fmt.Sprintf("%d", f.Itag)
	if f.LastModified != 0 {
		s += fmt.Sprintf(":%d", f.LastModified)
	}
	if f.XTags != "" {
		s += ":" + f.XTags
	}
	return s
}

// IsZero reports whether f carries no itag.
func (f FormatID) IsZero() bool { return f.Itag == 0 }

func formatLess(a, b FormatID) bool {
	if a.Itag != b.Itag {
		return a.Itag < b.Itag
	}
	if a.LastModified != b.LastModified {
		return a.LastModified < b.LastModified
	}
	return a.XTags < b.XTags
}

// TimeRange is a span expressed in timescale ticks.
type TimeRange struct {
	StartTicks    int64
	DurationTicks int64
	Timescale     int32
}

// StartMs returns the range start in milliseconds.
func (r TimeRange) StartMs() int64 { return ticksToMs(r.StartTicks, r.Timescale) }

// DurationMs returns the range duration in milliseconds.
func (r TimeRange) DurationMs() int64 { return ticksToMs(r.DurationTicks, r.Timescale) }

func ticksToMs(ticks int64, timescale int32) int64 {
	if timescale <= 0 {
		return 0
	}
	return ticks * 1000 / int64(timescale)
}

// MediaHeader describes the segment whose bytes follow in MEDIA parts
// carrying the same HeaderID.
type MediaHeader struct {
	HeaderID             uint32
	VideoID              string
	Itag                 int32
	LastModified         uint64
	XTags                string
	StartRange           int64
	CompressionAlgorithm int32
	IsInitSegment        bool
	SequenceNumber       int64
	StartMs              int64
	DurationMs           int64
	FormatID             *FormatID
	ContentLength        int64
	TimeRange            *TimeRange
}

func (*MediaHeader) PartType() PartType { return PartMediaHeader }

// Format returns the header's format, falling back to the flat itag fields
// when no FormatID message is present.
func (h *MediaHeader) Format() (FormatID, bool) {
	if h.FormatID != nil && !h.FormatID.IsZero() {
		return *h.FormatID, true
	}
	if h.Itag != 0 {
		return FormatID{Itag: h.Itag, LastModified: h.LastModified, XTags: h.XTags}, true
	}
	return FormatID{}, false
}

// Duration returns the segment duration in milliseconds, preferring the
// tick-based time range.
func (h *MediaHeader) Duration() int64 {
	if h.TimeRange != nil && h.TimeRange.Timescale > 0 {
		return h.TimeRange.DurationMs()
	}
	return h.DurationMs
}

// Start returns the segment start in milliseconds.
func (h *MediaHeader) Start() int64 {
	if h.TimeRange != nil && h.TimeRange.Timescale > 0 {
		return h.TimeRange.StartMs()
	}
	return h.StartMs
}

// MediaData carries a slice of segment bytes. Data aliases the decode buffer.
type MediaData struct {
	HeaderID uint32
	Data     []byte
}

func (*MediaData) PartType() PartType { return PartMedia }

// MediaEnd closes the segment opened by the header with HeaderID.
type MediaEnd struct {
	HeaderID uint32
}

func (*MediaEnd) PartType() PartType { return PartMediaEnd }

// SabrSeek is a server directive to move the playback position.
type SabrSeek struct {
	SeekTimeTicks int64
	Timescale     int32
	SeekSource    int32
}

func (*SabrSeek) PartType() PartType { return PartSabrSeek }

// Directive converts the wire message into a SeekDirective that applies to
// every initialized format.
func (s *SabrSeek) Directive() SeekDirective {
	return SeekDirective{TimeMs: ticksToMs(s.SeekTimeTicks, s.Timescale), Source: s.SeekSource}
}

// LiveMetadata reports the head of a live stream and its seekable window.
type LiveMetadata struct {
	HeadSequenceNumber   int64
	HeadSequenceTimeMs   int64
	WallTimeMs           int64
	PostLiveDvr          bool
	MinSeekableTimeTicks int64
	MinSeekableTimescale int32
	MaxSeekableTimeTicks int64
	MaxSeekableTimescale int32
}

func (*LiveMetadata) PartType() PartType { return PartLiveMetadata }

// FormatInitializationMetadata announces a format before its first segment.
type FormatInitializationMetadata struct {
	VideoID           string
	FormatID          *FormatID
	EndTimeMs         int64
	EndSegmentNumber  int64
	MimeType          string
	DurationUnits     int64
	DurationTimescale int64
}

func (*FormatInitializationMetadata) PartType() PartType { return PartFormatInitializationMetadata }

// NextRequestPolicy tells the client how to shape its next poll.
type NextRequestPolicy struct {
	TargetAudioReadaheadMs int32
	TargetVideoReadaheadMs int32
	BackoffTimeMs          int32
	PlaybackCookie         []byte
	VideoID                string
}

func (*NextRequestPolicy) PartType() PartType { return PartNextRequestPolicy }

// SabrRedirect points the client at a different streaming URL.
type SabrRedirect struct {
	URL string
}

func (*SabrRedirect) PartType() PartType { return PartSabrRedirect }

// SabrError is a terminal error sent by the server.
type SabrError struct {
	Type string
	Code int32
}

func (*SabrError) PartType() PartType { return PartSabrError }

// StreamProtectionStatus reports the attestation status of the stream.
type StreamProtectionStatus struct {
	Status int32
}

func (*StreamProtectionStatus) PartType() PartType { return PartStreamProtectionStatus }

// ClientAbrStateUpdate pushes an authoritative ABR state to the client.
type ClientAbrStateUpdate struct {
	State ClientAbrState
}

func (*ClientAbrStateUpdate) PartType() PartType { return PartClientAbrState }

// UnknownPart is a well-formed part of a type this package does not interpret.
type UnknownPart struct {
	Type    PartType
	Payload []byte
}

func (u *UnknownPart) PartType() PartType { return u.Type }
