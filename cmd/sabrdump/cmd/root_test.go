package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabr-processor/internal/sabr"
)

func capture() []byte {
	f := sabr.FormatID{Itag: 251}
	var b []byte
	b = sabr.AppendMessage(b, &sabr.FormatInitializationMetadata{VideoID: "v", FormatID: &f, EndSegmentNumber: 3, MimeType: "audio/webm"})
	for seq := int64(1); seq <= 2; seq++ {
		id := uint32(seq)
		b = sabr.AppendMessage(b, &sabr.MediaHeader{HeaderID: id, FormatID: &f, SequenceNumber: seq, DurationMs: 5000})
		b = sabr.AppendMessage(b, &sabr.MediaData{HeaderID: id, Data: []byte{1, 2, 3}})
		b = sabr.AppendMessage(b, &sabr.MediaEnd{HeaderID: id})
	}
	// Out of sequence: reported and skipped.
	b = sabr.AppendMessage(b, &sabr.MediaHeader{HeaderID: 9, FormatID: &f, SequenceNumber: 7})
	b = sabr.AppendMessage(b, &sabr.MediaEnd{HeaderID: 9})
	return b
}

func readLines(t *testing.T, out *bytes.Buffer) []map[string]json.RawMessage {
	t.Helper()
	var lines []map[string]json.RawMessage
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		lines = append(lines, m)
	}
	return lines
}

func TestDump(t *testing.T) {
	var out bytes.Buffer
	err := Dump(context.Background(), bytes.NewReader(capture()), &out, Options{WithAbrState: true})
	require.NoError(t, err)

	lines := readLines(t, &out)
	// init + 2 * (data + end) + mismatch error + abr state
	require.Len(t, lines, 7)
	assert.Contains(t, lines[5], "error")

	var state sabr.ClientAbrState
	require.NoError(t, json.Unmarshal(lines[6]["abr_state"], &state))
	require.Len(t, state.BufferedRanges, 1)
	assert.Equal(t, int64(2), state.BufferedRanges[0].EndSegmentIndex)
}

func TestDump_brotli(t *testing.T) {
	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	_, err := bw.Write(capture())
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	var out bytes.Buffer
	require.NoError(t, Dump(context.Background(), &compressed, &out, Options{Brotli: true}))
	assert.Len(t, readLines(t, &out), 6)
}

func TestDump_malformed(t *testing.T) {
	b := capture()
	var out bytes.Buffer
	err := Dump(context.Background(), bytes.NewReader(b[:len(b)-1]), &out, Options{})
	require.ErrorIs(t, err, sabr.ErrTruncated)

	lines := readLines(t, &out)
	require.NotEmpty(t, lines)
	var v struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1]["error"], &v))
	assert.Equal(t, "malformed", v.Type)
}

func TestDump_serverError(t *testing.T) {
	b := sabr.AppendMessage(nil, &sabr.SabrError{Type: "sabr.policy", Code: 1})
	var out bytes.Buffer
	err := Dump(context.Background(), bytes.NewReader(b), &out, Options{})

	var serverErr *sabr.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, int32(1), serverErr.Code)
}
