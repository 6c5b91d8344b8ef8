package sabr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt(t *testing.T) {
	tests := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{268435455, 4},
		{268435456, 5},
		{0xFFFFFFFF, 5},
	}

	for _, tt := range tests {
		b := appendVarInt(nil, tt.value)
		require.Len(t, b, tt.size, "value %d", tt.value)

		got, n, ok := readVarInt(b, 0)
		require.True(t, ok)
		assert.Equal(t, tt.size, n)
		assert.Equal(t, tt.value, got)
	}
}

func TestVarInt_truncated(t *testing.T) {
	b := appendVarInt(nil, 300000)
	_, n, ok := readVarInt(b[:1], 0)
	assert.False(t, ok)
	assert.Equal(t, 3, n)

	_, _, ok = readVarInt(nil, 0)
	assert.False(t, ok)
}

func TestDecoder_Decode(t *testing.T) {
	dec := NewDecoder(0)

	t.Run("advances past one part", func(t *testing.T) {
		buf := AppendMessage(nil, &MediaEnd{HeaderID: 3})
		buf = AppendMessage(buf, &MediaEnd{HeaderID: 4})

		msg, next, err := dec.Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, &MediaEnd{HeaderID: 3}, msg)

		msg, end, err := dec.Decode(buf, next)
		require.NoError(t, err)
		assert.Equal(t, &MediaEnd{HeaderID: 4}, msg)
		assert.Equal(t, len(buf), end)
	})

	t.Run("truncated payload does not advance", func(t *testing.T) {
		// Envelope declares 50 payload bytes, only one is present.
		buf := []byte{byte(PartMediaHeader), 50, 0x08}

		msg, next, err := dec.Decode(buf, 0)
		assert.Nil(t, msg)
		assert.Equal(t, 0, next)

		var mm *MalformedMessageError
		require.ErrorAs(t, err, &mm)
		assert.ErrorIs(t, err, ErrTruncated)
		assert.Equal(t, PartMediaHeader, mm.PartType)
		assert.Equal(t, 52, mm.Need)
		assert.Equal(t, 3, mm.Have)
	})

	t.Run("truncated size varint", func(t *testing.T) {
		buf := []byte{byte(PartMedia), 0xC5}
		_, next, err := dec.Decode(buf, 0)
		assert.ErrorIs(t, err, ErrTruncated)
		assert.Equal(t, 0, next)
	})

	t.Run("zero part type", func(t *testing.T) {
		_, next, err := dec.Decode([]byte{0, 1, 0}, 0)
		assert.ErrorIs(t, err, ErrInvalidPartType)
		assert.Equal(t, 0, next)
	})

	t.Run("size above ceiling", func(t *testing.T) {
		small := NewDecoder(16)
		buf := AppendPart(nil, PartMedia, make([]byte, 17))
		_, next, err := small.Decode(buf, 0)
		assert.ErrorIs(t, err, ErrPartTooLarge)
		assert.Equal(t, 0, next)
	})

	t.Run("ceiling checked before payload arrives", func(t *testing.T) {
		small := NewDecoder(16)
		buf := appendVarInt(nil, uint32(PartMedia))
		buf = appendVarInt(buf, 1<<20)
		_, _, err := small.Decode(buf, 0)
		assert.ErrorIs(t, err, ErrPartTooLarge)
	})

	t.Run("invalid payload", func(t *testing.T) {
		// Field 1 declared as a length-delimited string running past the end.
		buf := AppendPart(nil, PartMediaHeader, []byte{0x12, 0x05, 'a'})
		_, next, err := dec.Decode(buf, 0)
		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.Equal(t, 0, next)
	})

	t.Run("media end without header id", func(t *testing.T) {
		buf := AppendPart(nil, PartMediaEnd, nil)
		_, _, err := dec.Decode(buf, 0)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("unknown part passes through", func(t *testing.T) {
		buf := AppendPart(nil, PartType(66), []byte{1, 2, 3})
		msg, next, err := dec.Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, len(buf), next)
		assert.Equal(t, &UnknownPart{Type: 66, Payload: []byte{1, 2, 3}}, msg)
		assert.Equal(t, "PART_66", msg.PartType().String())
	})
}

func TestMalformedMessageError_Error(t *testing.T) {
	err := &MalformedMessageError{Offset: 7, PartType: PartMedia, Need: 10, Have: 4, Err: ErrTruncated}
	assert.Equal(t, "sabr: truncated part at offset 7 (part MEDIA): need 10 bytes, have 4", err.Error())
	assert.True(t, errors.Is(err, ErrTruncated))
}
