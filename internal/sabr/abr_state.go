package sabr

import "slices"

// DefaultLiveSegmentToleranceMs is the live segment target-duration tolerance
// used when none is configured.
const DefaultLiveSegmentToleranceMs = 100

// BufferedRange is a contiguous run of completed segments for one format.
type BufferedRange struct {
	Format            FormatID `json:"format"`
	StartTimeMs       int64    `json:"start_time_ms"`
	DurationMs        int64    `json:"duration_ms"`
	StartSegmentIndex int64    `json:"start_segment_index"`
	EndSegmentIndex   int64    `json:"end_segment_index"`
}

// Contains reports whether seq falls inside the range.
func (r BufferedRange) Contains(seq int64) bool {
	return seq >= r.StartSegmentIndex && seq <= r.EndSegmentIndex
}

// ClientAbrState is the negotiation state echoed to the server with every
// poll request.
type ClientAbrState struct {
	PlayerTimeMs           int64           `json:"player_time_ms"`
	PlaybackRate           float32         `json:"playback_rate"`
	EnabledTrackTypes      int32           `json:"enabled_track_types"`
	TimeSinceLastSeekMs    int64           `json:"time_since_last_seek_ms"`
	BandwidthEstimate      int64           `json:"bandwidth_estimate"`
	StickyResolution       int32           `json:"sticky_resolution"`
	DrcEnabled             bool            `json:"drc_enabled"`
	SelectedFormats        []FormatID      `json:"selected_formats"`
	BufferedRanges         []BufferedRange `json:"buffered_ranges"`
	LiveSegmentToleranceMs int32           `json:"live_segment_tolerance_ms"`
}

// Clone returns a deep copy of s.
func (s ClientAbrState) Clone() ClientAbrState {
	s.SelectedFormats = slices.Clone(s.SelectedFormats)
	s.BufferedRanges = slices.Clone(s.BufferedRanges)
	return s
}

// AbrStateTracker owns the ClientAbrState for one Processor. It is the only
// place the state is stored; readers always receive copies.
type AbrStateTracker struct {
	state ClientAbrState
}

// NewAbrStateTracker returns a tracker holding the default state for the
// given live tolerance. If toleranceMs <= 0, DefaultLiveSegmentToleranceMs
// is used.
func NewAbrStateTracker(toleranceMs int) *AbrStateTracker {
	if toleranceMs <= 0 {
		toleranceMs = DefaultLiveSegmentToleranceMs
	}
	return &AbrStateTracker{state: ClientAbrState{
		PlaybackRate:           1,
		LiveSegmentToleranceMs: int32(toleranceMs),
	}}
}

// State returns a snapshot of the tracked state.
func (t *AbrStateTracker) State() ClientAbrState {
	return t.state.Clone()
}

// Tolerance returns the live segment tolerance of the tracked state.
func (t *AbrStateTracker) Tolerance() int32 {
	return t.state.LiveSegmentToleranceMs
}

// SetState replaces the tracked state with a copy of s.
func (t *AbrStateTracker) SetState(s ClientAbrState) {
	t.state = s.Clone()
}
