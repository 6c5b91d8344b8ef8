package sabr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAbrStateTracker(t *testing.T) {
	assert.Equal(t, int32(100), NewAbrStateTracker(0).State().LiveSegmentToleranceMs)
	assert.Equal(t, int32(250), NewAbrStateTracker(250).State().LiveSegmentToleranceMs)
	assert.Equal(t, float32(1), NewAbrStateTracker(0).State().PlaybackRate)
}

func TestAbrStateTracker_snapshots(t *testing.T) {
	tr := NewAbrStateTracker(100)
	tr.SetState(ClientAbrState{
		PlayerTimeMs:    1000,
		SelectedFormats: []FormatID{{Itag: 137}},
		BufferedRanges:  []BufferedRange{{Format: FormatID{Itag: 137}, StartSegmentIndex: 1, EndSegmentIndex: 3}},
	})

	t.Run("repeated reads are equal", func(t *testing.T) {
		assert.Equal(t, tr.State(), tr.State())
	})

	t.Run("snapshot mutation does not leak", func(t *testing.T) {
		snap := tr.State()
		snap.SelectedFormats[0] = FormatID{Itag: 1}
		snap.BufferedRanges[0].EndSegmentIndex = 99
		snap.PlayerTimeMs = 5

		again := tr.State()
		assert.Equal(t, int32(137), again.SelectedFormats[0].Itag)
		assert.Equal(t, int64(3), again.BufferedRanges[0].EndSegmentIndex)
		assert.Equal(t, int64(1000), again.PlayerTimeMs)
	})

	t.Run("set state copies its argument", func(t *testing.T) {
		in := ClientAbrState{SelectedFormats: []FormatID{{Itag: 22}}}
		tr.SetState(in)
		in.SelectedFormats[0].Itag = 18
		assert.Equal(t, int32(22), tr.State().SelectedFormats[0].Itag)
	})
}

func TestBufferedRange_Contains(t *testing.T) {
	r := BufferedRange{StartSegmentIndex: 3, EndSegmentIndex: 5}
	assert.False(t, r.Contains(2))
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(6))
}
