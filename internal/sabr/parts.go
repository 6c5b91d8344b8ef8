package sabr

// SabrPart is a unit of output handed to the playback buffer. The Processor
// keeps no reference to a part once it has been returned.
type SabrPart interface {
	Kind() string
	sabrPart()
}

// FormatInitializedPart is emitted once per format, on the first header or
// initialization metadata seen for it.
type FormatInitializedPart struct {
	Format           FormatID
	VideoID          string
	MimeType         string
	EndSegmentNumber int64
	DurationMs       int64
}

// MediaSegmentDataPart carries opaque segment bytes for the playback buffer.
type MediaSegmentDataPart struct {
	Format         FormatID
	HeaderID       uint32
	SequenceNumber int64
	IsInitSegment  bool
	ContentOffset  int64
	Data           []byte
}

// MediaSegmentEndPart marks a segment as complete.
type MediaSegmentEndPart struct {
	Format         FormatID
	HeaderID       uint32
	SequenceNumber int64
	IsInitSegment  bool
	StartMs        int64
	DurationMs     int64
	ContentLength  int64 // bytes actually received
	LastSegment    bool
}

// SeekReason records why a MediaSeekPart was emitted.
type SeekReason int

const (
	SeekReasonServer SeekReason = iota
	SeekReasonClient
)

func (r SeekReason) String() string {
	if r == SeekReasonClient {
		return "client"
	}
	return "server"
}

// MediaSeekPart tells the playback buffer to drop queued data for Format
// before accepting further segments.
type MediaSeekPart struct {
	Format FormatID
	Reason SeekReason
	TimeMs int64
}

// RedirectPart tells the transport to continue the stream at URL.
type RedirectPart struct {
	URL string
}

func (*FormatInitializedPart) Kind() string { return "format_initialized" }
func (*MediaSegmentDataPart) Kind() string  { return "media_segment_data" }
func (*MediaSegmentEndPart) Kind() string   { return "media_segment_end" }
func (*MediaSeekPart) Kind() string         { return "media_seek" }
func (*RedirectPart) Kind() string          { return "redirect" }

func (*FormatInitializedPart) sabrPart() {}
func (*MediaSegmentDataPart) sabrPart()  {}
func (*MediaSegmentEndPart) sabrPart()   {}
func (*MediaSeekPart) sabrPart()         {}
func (*RedirectPart) sabrPart()          {}

// ProcessMediaHeaderResult is returned by ProcessMediaHeader. Part is a
// *FormatInitializedPart on a format's cold start and nil otherwise.
type ProcessMediaHeaderResult struct {
	Part           SabrPart
	Format         FormatID
	SequenceNumber int64
}

// ProcessMediaResult is returned by ProcessMediaData. Part is nil when the
// data belongs to a dropped segment.
type ProcessMediaResult struct {
	Part *MediaSegmentDataPart
}

// ProcessMediaEndResult is returned by ProcessMediaEnd. IsNewSegment is
// false when the segment was already covered by a buffered range, so the
// playback buffer can skip rather than append it.
type ProcessMediaEndResult struct {
	Part         *MediaSegmentEndPart
	IsNewSegment bool
}

// ProcessSabrSeekResult is returned by ProcessSeek. SeekParts are ordered by
// format and must be applied before further segments for those formats.
type ProcessSabrSeekResult struct {
	SeekParts []*MediaSeekPart
}

// ProcessFormatInitializationResult is returned by
// ProcessFormatInitialization. Part is nil if the format was already known.
type ProcessFormatInitializationResult struct {
	Part *FormatInitializedPart
}

// Result collects the parts produced by one call to Process.
type Result struct {
	Parts []SabrPart
}

func (r *Result) add(p SabrPart) {
	if p != nil {
		r.Parts = append(r.Parts, p)
	}
}
