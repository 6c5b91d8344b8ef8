package sabr

import (
	"bytes"
	"io"
	"log/slog"
	"sort"
)

// State is the structural state of a Processor.
type State int

const (
	// StateIdle means no segment has been opened since construction or reset.
	StateIdle State = iota
	// StateAwaitingHeader means every opened segment has been completed.
	StateAwaitingHeader
	// StateAwaitingData means at least one segment is open.
	StateAwaitingData
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAwaitingData:
		return "awaiting_data"
	default:
		return "unknown"
	}
}

// Config configures a Processor.
type Config struct {
	// LiveSegmentToleranceMs is how far a live segment's duration may drift
	// from the format's target duration before it is taken at face value.
	// If <= 0, DefaultLiveSegmentToleranceMs is used.
	LiveSegmentToleranceMs int

	// Logger receives debug output. Nil disables logging.
	Logger *slog.Logger
}

// SeekDirective asks the Processor to restart the named formats at TimeMs.
// An empty Formats list applies to every initialized format.
type SeekDirective struct {
	TimeMs  int64
	Formats []FormatID
	Source  int32
	Reason  SeekReason
}

// LiveState is the live-stream position last reported by the server.
type LiveState struct {
	HeadSequenceNumber int64 `json:"head_sequence_number"`
	HeadSequenceTimeMs int64 `json:"head_sequence_time_ms"`
	WallTimeMs         int64 `json:"wall_time_ms"`
	MinSeekableMs      int64 `json:"min_seekable_ms"`
	MaxSeekableMs      int64 `json:"max_seekable_ms"`
	PostLiveDvr        bool  `json:"post_live_dvr"`
}

type initializedFormat struct {
	videoID          string
	mimeType         string
	endSegmentNumber int64
	durationMs       int64
	targetDurationMs int64
	initCompleted    bool
}

type openSegment struct {
	headerID      uint32
	format        FormatID
	sequence      int64
	isInit        bool
	startMs       int64
	durationMs    int64
	received      int64
	contentLength int64
}

// Processor turns decoded SABR messages into parts for the playback buffer.
// It is driven by a single goroutine: one call per message, in wire order.
// A Processor is not safe for concurrent use.
type Processor struct {
	log       *slog.Logger
	tracker   *AbrStateTracker
	validator *SequenceValidator

	formats   map[FormatID]*initializedFormat
	open      map[uint32]*openSegment
	discarded map[uint32]FormatID

	state     State
	seeking   bool
	live      bool
	liveState LiveState

	nextRequestPolicy      *NextRequestPolicy
	streamProtectionStatus int32
}

// NewProcessor returns a Processor in the idle state.
func NewProcessor(cfg Config) *Processor {
	if cfg.LiveSegmentToleranceMs <= 0 {
		cfg.LiveSegmentToleranceMs = DefaultLiveSegmentToleranceMs
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		log:       log,
		tracker:   NewAbrStateTracker(cfg.LiveSegmentToleranceMs),
		validator: NewSequenceValidator(),
		formats:   make(map[FormatID]*initializedFormat),
		open:      make(map[uint32]*openSegment),
		discarded: make(map[uint32]FormatID),
	}
}

// State returns the structural state.
func (p *Processor) State() State { return p.state }

// IsSeeking reports whether a seek has been applied and no header has been
// accepted since.
func (p *Processor) IsSeeking() bool { return p.seeking }

// IsLive reports whether the server has identified the stream as live.
func (p *Processor) IsLive() bool { return p.live }

// LiveState returns the last live position reported by the server.
func (p *Processor) LiveState() LiveState { return p.liveState }

// ToleranceMs returns the live segment duration tolerance carried in the
// ABR state.
func (p *Processor) ToleranceMs() int64 { return int64(p.tracker.Tolerance()) }

// AbrState returns a snapshot of the client ABR state.
func (p *Processor) AbrState() ClientAbrState { return p.tracker.State() }

// ExpectedSequence returns the next sequence number accepted for format.
func (p *Processor) ExpectedSequence(format FormatID) (int64, bool) {
	return p.validator.Expected(format)
}

// NextRequestPolicy returns a copy of the last policy sent by the server.
func (p *Processor) NextRequestPolicy() (NextRequestPolicy, bool) {
	if p.nextRequestPolicy == nil {
		return NextRequestPolicy{}, false
	}
	return *p.nextRequestPolicy, true
}

// StreamProtectionStatus returns the last reported protection status.
func (p *Processor) StreamProtectionStatus() int32 { return p.streamProtectionStatus }

// InitializedFormats returns the initialized formats in a stable order.
func (p *Processor) InitializedFormats() []FormatID {
	out := make([]FormatID, 0, len(p.formats))
	for f := range p.formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return formatLess(out[i], out[j]) })
	return out
}

// Process dispatches one decoded message. Recoverable errors
// (IsRecoverable) leave the Processor usable; a *ServerError ends the stream.
func (p *Processor) Process(msg Message) (Result, error) {
	var out Result
	switch m := msg.(type) {
	case *MediaHeader:
		res, err := p.ProcessMediaHeader(m)
		if res.Part != nil {
			out.add(res.Part)
		}
		return out, err
	case *MediaData:
		res, err := p.ProcessMediaData(m)
		if res.Part != nil {
			out.add(res.Part)
		}
		return out, err
	case *MediaEnd:
		res, err := p.ProcessMediaEnd(m)
		if res.Part != nil {
			out.add(res.Part)
		}
		return out, err
	case *SabrSeek:
		res := p.ProcessSeek(m.Directive())
		for _, part := range res.SeekParts {
			out.add(part)
		}
	case *ClientAbrStateUpdate:
		p.ProcessAbrStateUpdate(m.State)
	case *FormatInitializationMetadata:
		res, err := p.ProcessFormatInitialization(m)
		if res.Part != nil {
			out.add(res.Part)
		}
		return out, err
	case *LiveMetadata:
		p.ProcessLiveMetadata(m)
	case *NextRequestPolicy:
		policy := *m
		policy.PlaybackCookie = bytes.Clone(m.PlaybackCookie)
		p.nextRequestPolicy = &policy
	case *StreamProtectionStatus:
		p.streamProtectionStatus = m.Status
	case *SabrRedirect:
		out.add(&RedirectPart{URL: m.URL})
	case *SabrError:
		return out, &ServerError{Type: m.Type, Code: m.Code}
	case *UnknownPart:
		p.log.Debug("skipping unhandled part", slog.String("part", m.Type.String()), slog.Int("size", len(m.Payload)))
	}
	return out, nil
}

// ProcessMediaHeader opens the segment described by h. A sequence mismatch
// returns a *MediaSegmentMismatchError and drops the segment: later MEDIA and
// MEDIA_END parts for its header id are consumed silently.
func (p *Processor) ProcessMediaHeader(h *MediaHeader) (ProcessMediaHeaderResult, error) {
	format, ok := h.Format()
	if !ok {
		return ProcessMediaHeaderResult{}, p.stateError(PartMediaHeader, FormatID{}, h.HeaderID, "header has no format id")
	}
	if _, dup := p.open[h.HeaderID]; dup {
		return ProcessMediaHeaderResult{}, p.stateError(PartMediaHeader, format, h.HeaderID, "header id already open")
	}
	delete(p.discarded, h.HeaderID)

	res := ProcessMediaHeaderResult{Format: format, SequenceNumber: h.SequenceNumber}
	if !h.IsInitSegment {
		if err := p.validator.Validate(format, h.SequenceNumber); err != nil {
			p.discarded[h.HeaderID] = format
			p.log.Debug("media header rejected",
				slog.String("format", format.String()),
				slog.Int64("sequence", h.SequenceNumber),
				slog.Uint64("header_id", uint64(h.HeaderID)))
			return res, err
		}
	}

	fs, known := p.formats[format]
	if !known {
		fs = &initializedFormat{videoID: h.VideoID}
		p.formats[format] = fs
		p.selectFormat(format)
		res.Part = &FormatInitializedPart{Format: format, VideoID: h.VideoID}
	}

	duration := h.Duration()
	if p.live && !h.IsInitSegment && fs.targetDurationMs > 0 && absInt64(duration-fs.targetDurationMs) <= p.ToleranceMs() {
		duration = fs.targetDurationMs
	}
	if p.live && !h.IsInitSegment && h.SequenceNumber > p.liveState.HeadSequenceNumber {
		p.liveState.HeadSequenceNumber = h.SequenceNumber
	}

	p.open[h.HeaderID] = &openSegment{
		headerID:      h.HeaderID,
		format:        format,
		sequence:      h.SequenceNumber,
		isInit:        h.IsInitSegment,
		startMs:       h.Start(),
		durationMs:    duration,
		contentLength: h.ContentLength,
	}
	p.state = StateAwaitingData
	p.seeking = false

	p.log.Debug("media header accepted",
		slog.String("format", format.String()),
		slog.Int64("sequence", h.SequenceNumber),
		slog.Uint64("header_id", uint64(h.HeaderID)),
		slog.Bool("init_segment", h.IsInitSegment))
	return res, nil
}

// ProcessMediaData forwards segment bytes for an open header.
func (p *Processor) ProcessMediaData(m *MediaData) (ProcessMediaResult, error) {
	seg, ok := p.open[m.HeaderID]
	if !ok {
		if _, dropped := p.discarded[m.HeaderID]; dropped {
			return ProcessMediaResult{}, nil
		}
		return ProcessMediaResult{}, p.stateError(PartMedia, FormatID{}, m.HeaderID, "no open segment for header")
	}
	part := &MediaSegmentDataPart{
		Format:         seg.format,
		HeaderID:       seg.headerID,
		SequenceNumber: seg.sequence,
		IsInitSegment:  seg.isInit,
		ContentOffset:  seg.received,
		Data:           m.Data,
	}
	seg.received += int64(len(m.Data))
	return ProcessMediaResult{Part: part}, nil
}

// ProcessMediaEnd completes the segment opened under e.HeaderID.
func (p *Processor) ProcessMediaEnd(e *MediaEnd) (ProcessMediaEndResult, error) {
	if _, dropped := p.discarded[e.HeaderID]; dropped {
		delete(p.discarded, e.HeaderID)
		return ProcessMediaEndResult{}, nil
	}
	seg, ok := p.open[e.HeaderID]
	if !ok {
		return ProcessMediaEndResult{}, p.stateError(PartMediaEnd, FormatID{}, e.HeaderID, "no open segment for header")
	}
	delete(p.open, e.HeaderID)
	if len(p.open) == 0 {
		p.state = StateAwaitingHeader
	}

	fs := p.formats[seg.format]
	var isNew bool
	if seg.isInit {
		isNew = !fs.initCompleted
		fs.initCompleted = true
	} else {
		isNew = p.recordBuffered(seg)
		if p.live && fs.targetDurationMs == 0 && seg.durationMs > 0 {
			fs.targetDurationMs = seg.durationMs
		}
	}

	part := &MediaSegmentEndPart{
		Format:         seg.format,
		HeaderID:       seg.headerID,
		SequenceNumber: seg.sequence,
		IsInitSegment:  seg.isInit,
		StartMs:        seg.startMs,
		DurationMs:     seg.durationMs,
		ContentLength:  seg.received,
		LastSegment:    !seg.isInit && fs.endSegmentNumber > 0 && seg.sequence >= fs.endSegmentNumber,
	}
	p.log.Debug("media segment complete",
		slog.String("format", seg.format.String()),
		slog.Int64("sequence", seg.sequence),
		slog.Int64("bytes", seg.received),
		slog.Bool("new", isNew))
	return ProcessMediaEndResult{Part: part, IsNewSegment: isNew}, nil
}

// ProcessAbrStateUpdate replaces the client ABR state. It never fails and
// does not change the structural state. A state without a live tolerance
// keeps the current one.
func (p *Processor) ProcessAbrStateUpdate(s ClientAbrState) {
	if s.LiveSegmentToleranceMs <= 0 {
		s.LiveSegmentToleranceMs = p.tracker.Tolerance()
	}
	p.tracker.SetState(s)
}

// AbortOpenSegments drops every open segment together with the sequence
// baselines of their formats, so a fresh response can re-send them. Header
// ids are forgotten. It returns the number of segments dropped.
func (p *Processor) AbortOpenSegments() int {
	n := len(p.open)
	for _, seg := range p.open {
		if !seg.isInit {
			p.validator.Clear(seg.format)
		}
	}
	clear(p.open)
	clear(p.discarded)
	p.settleState()
	if n > 0 {
		p.log.Debug("open segments aborted", slog.Int("segments", n))
	}
	return n
}

// ProcessSeek restarts the directive's formats: their sequence baselines,
// open segments and buffered ranges are dropped and one MediaSeekPart is
// emitted per format.
func (p *Processor) ProcessSeek(d SeekDirective) ProcessSabrSeekResult {
	targets := d.Formats
	if len(targets) == 0 {
		targets = p.InitializedFormats()
	} else {
		targets = uniqueFormats(targets)
	}

	affected := make(map[FormatID]bool, len(targets))
	for _, f := range targets {
		affected[f] = true
	}
	if len(targets) > 0 {
		p.validator.Clear(targets...)
	}
	for id, seg := range p.open {
		if affected[seg.format] {
			delete(p.open, id)
			p.discarded[id] = seg.format
		}
	}
	p.settleState()

	state := p.tracker.State()
	kept := state.BufferedRanges[:0]
	for _, r := range state.BufferedRanges {
		if !affected[r.Format] {
			kept = append(kept, r)
		}
	}
	state.BufferedRanges = kept
	state.PlayerTimeMs = d.TimeMs
	state.TimeSinceLastSeekMs = 0
	p.tracker.SetState(state)
	p.seeking = true

	res := ProcessSabrSeekResult{SeekParts: make([]*MediaSeekPart, 0, len(targets))}
	for _, f := range targets {
		res.SeekParts = append(res.SeekParts, &MediaSeekPart{Format: f, Reason: d.Reason, TimeMs: d.TimeMs})
	}
	p.log.Debug("seek applied", slog.Int64("time_ms", d.TimeMs), slog.Int("formats", len(targets)))
	return res
}

// ProcessFormatInitialization records format metadata. The first time a
// format is seen a FormatInitializedPart is emitted.
func (p *Processor) ProcessFormatInitialization(m *FormatInitializationMetadata) (ProcessFormatInitializationResult, error) {
	if m.FormatID == nil || m.FormatID.IsZero() {
		return ProcessFormatInitializationResult{}, p.stateError(PartFormatInitializationMetadata, FormatID{}, 0, "metadata has no format id")
	}
	format := *m.FormatID
	fs, known := p.formats[format]
	if !known {
		fs = &initializedFormat{}
		p.formats[format] = fs
		p.selectFormat(format)
	}
	fs.videoID = m.VideoID
	fs.mimeType = m.MimeType
	fs.endSegmentNumber = m.EndSegmentNumber
	if m.DurationTimescale > 0 {
		fs.durationMs = m.DurationUnits * 1000 / m.DurationTimescale
	} else {
		fs.durationMs = m.EndTimeMs
	}
	if known {
		return ProcessFormatInitializationResult{}, nil
	}
	return ProcessFormatInitializationResult{Part: &FormatInitializedPart{
		Format:           format,
		VideoID:          fs.videoID,
		MimeType:         fs.mimeType,
		EndSegmentNumber: fs.endSegmentNumber,
		DurationMs:       fs.durationMs,
	}}, nil
}

// ProcessLiveMetadata switches the Processor to live mode and records the
// stream head.
func (p *Processor) ProcessLiveMetadata(m *LiveMetadata) {
	p.live = true
	p.liveState = LiveState{
		HeadSequenceNumber: m.HeadSequenceNumber,
		HeadSequenceTimeMs: m.HeadSequenceTimeMs,
		WallTimeMs:         m.WallTimeMs,
		MinSeekableMs:      ticksToMs(m.MinSeekableTimeTicks, m.MinSeekableTimescale),
		MaxSeekableMs:      ticksToMs(m.MaxSeekableTimeTicks, m.MaxSeekableTimescale),
		PostLiveDvr:        m.PostLiveDvr,
	}
}

// Reset returns the Processor to idle, forgetting formats, sequence
// baselines and open segments. The ABR state is kept.
func (p *Processor) Reset() {
	p.validator.Clear()
	clear(p.formats)
	clear(p.open)
	clear(p.discarded)
	p.state = StateIdle
	p.seeking = false
}

func (p *Processor) stateError(typ PartType, format FormatID, headerID uint32, reason string) error {
	return &ProtocolStateError{State: p.state, PartType: typ, Format: format, HeaderID: headerID, Reason: reason}
}

// settleState leaves StateAwaitingData once no segment is open.
func (p *Processor) settleState() {
	if len(p.open) > 0 {
		return
	}
	if len(p.formats) > 0 {
		p.state = StateAwaitingHeader
	} else {
		p.state = StateIdle
	}
}

// selectFormat adds format to the ABR state's selected formats.
func (p *Processor) selectFormat(format FormatID) {
	state := p.tracker.State()
	for _, f := range state.SelectedFormats {
		if f == format {
			return
		}
	}
	state.SelectedFormats = append(state.SelectedFormats, format)
	p.tracker.SetState(state)
}

// recordBuffered adds a completed segment to the ABR state's buffered
// ranges. It returns false if the segment was already buffered.
func (p *Processor) recordBuffered(seg *openSegment) bool {
	state := p.tracker.State()
	for _, r := range state.BufferedRanges {
		if r.Format == seg.format && r.Contains(seg.sequence) {
			return false
		}
	}
	state.BufferedRanges = insertBufferedRange(state.BufferedRanges, BufferedRange{
		Format:            seg.format,
		StartTimeMs:       seg.startMs,
		DurationMs:        seg.durationMs,
		StartSegmentIndex: seg.sequence,
		EndSegmentIndex:   seg.sequence,
	})
	p.tracker.SetState(state)
	return true
}

// insertBufferedRange adds r and merges adjacent ranges of the same format.
// Ranges are kept disjoint, so merged durations can be summed.
func insertBufferedRange(ranges []BufferedRange, r BufferedRange) []BufferedRange {
	ranges = append(ranges, r)
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].Format != ranges[j].Format {
			return formatLess(ranges[i].Format, ranges[j].Format)
		}
		return ranges[i].StartSegmentIndex < ranges[j].StartSegmentIndex
	})
	out := ranges[:0]
	for _, r := range ranges {
		if n := len(out); n > 0 && out[n-1].Format == r.Format && r.StartSegmentIndex <= out[n-1].EndSegmentIndex+1 {
			last := &out[n-1]
			if r.EndSegmentIndex > last.EndSegmentIndex {
				last.EndSegmentIndex = r.EndSegmentIndex
				last.DurationMs += r.DurationMs
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func uniqueFormats(in []FormatID) []FormatID {
	seen := make(map[FormatID]bool, len(in))
	out := make([]FormatID, 0, len(in))
	for _, f := range in {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return formatLess(out[i], out[j]) })
	return out
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
