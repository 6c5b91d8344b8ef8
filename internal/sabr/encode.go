package sabr

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldLiveSegmentTolerance carries LiveSegmentToleranceMs in the request
// body. It sits outside the server's field range.
const fieldLiveSegmentTolerance protowire.Number = 1000

// AppendMessage appends msg to dst as a complete UMP part.
func AppendMessage(dst []byte, msg Message) []byte {
	return AppendPart(dst, msg.PartType(), msg.appendPayload(nil))
}

// EncodeRequestBody encodes the protobuf body a client sends with each poll:
// the ABR state, the selected formats and the buffered ranges.
func EncodeRequestBody(s ClientAbrState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, appendClientAbrState(nil, s))
	for _, f := range s.SelectedFormats {
		b = appendMessageField(b, 2, appendFormatID(nil, f))
	}
	for _, r := range s.BufferedRanges {
		b = appendMessageField(b, 3, appendBufferedRange(nil, r))
	}
	return appendVarintField(b, fieldLiveSegmentTolerance, uint64(s.LiveSegmentToleranceMs))
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, uint64(v))
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessageField always writes the field so that present-but-empty
// submessages survive a round trip.
func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendFloat32Field(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendFormatID(b []byte, f FormatID) []byte {
	b = appendInt32Field(b, 1, f.Itag)
	b = appendVarintField(b, 2, f.LastModified)
	return appendStringField(b, 3, f.XTags)
}

func appendTimeRange(b []byte, r TimeRange) []byte {
	b = appendInt64Field(b, 1, r.StartTicks)
	b = appendInt64Field(b, 2, r.DurationTicks)
	return appendInt32Field(b, 3, r.Timescale)
}

func appendBufferedRange(b []byte, r BufferedRange) []byte {
	b = appendMessageField(b, 1, appendFormatID(nil, r.Format))
	b = appendInt64Field(b, 2, r.StartTimeMs)
	b = appendInt64Field(b, 3, r.DurationMs)
	b = appendInt64Field(b, 4, r.StartSegmentIndex)
	return appendInt64Field(b, 5, r.EndSegmentIndex)
}

func appendClientAbrState(b []byte, s ClientAbrState) []byte {
	b = appendInt32Field(b, 21, s.StickyResolution)
	b = appendInt64Field(b, 23, s.BandwidthEstimate)
	b = appendInt64Field(b, 28, s.PlayerTimeMs)
	b = appendInt64Field(b, 29, s.TimeSinceLastSeekMs)
	b = appendFloat32Field(b, 35, s.PlaybackRate)
	b = appendInt32Field(b, 40, s.EnabledTrackTypes)
	return appendBoolField(b, 46, s.DrcEnabled)
}

func (h *MediaHeader) appendPayload(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(h.HeaderID))
	b = appendStringField(b, 2, h.VideoID)
	b = appendInt32Field(b, 3, h.Itag)
	b = appendVarintField(b, 4, h.LastModified)
	b = appendStringField(b, 5, h.XTags)
	b = appendInt64Field(b, 6, h.StartRange)
	b = appendInt32Field(b, 7, h.CompressionAlgorithm)
	b = appendBoolField(b, 8, h.IsInitSegment)
	b = appendInt64Field(b, 9, h.SequenceNumber)
	b = appendInt64Field(b, 11, h.StartMs)
	b = appendInt64Field(b, 12, h.DurationMs)
	if h.FormatID != nil {
		b = appendMessageField(b, 13, appendFormatID(nil, *h.FormatID))
	}
	b = appendInt64Field(b, 14, h.ContentLength)
	if h.TimeRange != nil {
		b = appendMessageField(b, 15, appendTimeRange(nil, *h.TimeRange))
	}
	return b
}

func (m *MediaData) appendPayload(b []byte) []byte {
	b = appendVarInt(b, m.HeaderID)
	return append(b, m.Data...)
}

func (m *MediaEnd) appendPayload(b []byte) []byte {
	return appendVarInt(b, m.HeaderID)
}

func (s *SabrSeek) appendPayload(b []byte) []byte {
	b = appendInt64Field(b, 1, s.SeekTimeTicks)
	b = appendInt32Field(b, 2, s.Timescale)
	return appendInt32Field(b, 3, s.SeekSource)
}

func (m *LiveMetadata) appendPayload(b []byte) []byte {
	b = appendInt64Field(b, 3, m.HeadSequenceNumber)
	b = appendInt64Field(b, 4, m.HeadSequenceTimeMs)
	b = appendInt64Field(b, 5, m.WallTimeMs)
	b = appendBoolField(b, 7, m.PostLiveDvr)
	b = appendInt64Field(b, 12, m.MinSeekableTimeTicks)
	b = appendInt32Field(b, 13, m.MinSeekableTimescale)
	b = appendInt64Field(b, 14, m.MaxSeekableTimeTicks)
	return appendInt32Field(b, 15, m.MaxSeekableTimescale)
}

func (m *FormatInitializationMetadata) appendPayload(b []byte) []byte {
	b = appendStringField(b, 1, m.VideoID)
	if m.FormatID != nil {
		b = appendMessageField(b, 2, appendFormatID(nil, *m.FormatID))
	}
	b = appendInt64Field(b, 3, m.EndTimeMs)
	b = appendInt64Field(b, 4, m.EndSegmentNumber)
	b = appendStringField(b, 5, m.MimeType)
	b = appendInt64Field(b, 9, m.DurationUnits)
	return appendInt64Field(b, 10, m.DurationTimescale)
}

func (p *NextRequestPolicy) appendPayload(b []byte) []byte {
	b = appendInt32Field(b, 1, p.TargetAudioReadaheadMs)
	b = appendInt32Field(b, 2, p.TargetVideoReadaheadMs)
	b = appendInt32Field(b, 4, p.BackoffTimeMs)
	b = appendBytesField(b, 7, p.PlaybackCookie)
	return appendStringField(b, 8, p.VideoID)
}

func (r *SabrRedirect) appendPayload(b []byte) []byte {
	return appendStringField(b, 1, r.URL)
}

func (e *SabrError) appendPayload(b []byte) []byte {
	b = appendStringField(b, 1, e.Type)
	return appendInt32Field(b, 2, e.Code)
}

func (s *StreamProtectionStatus) appendPayload(b []byte) []byte {
	return appendInt32Field(b, 1, s.Status)
}

func (u *ClientAbrStateUpdate) appendPayload(b []byte) []byte {
	return append(b, EncodeRequestBody(u.State)...)
}

func (u *UnknownPart) appendPayload(b []byte) []byte {
	return append(b, u.Payload...)
}
