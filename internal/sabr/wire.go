package sabr

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded protobuf field.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

// walkFields calls fn for every field in a protobuf message. Unknown fields
// are passed through and ignored by the callers.
func walkFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// fieldDecoder converts fields to Go values and remembers the first wire
// type mismatch.
type fieldDecoder struct {
	err error
}

func (d *fieldDecoder) fail(f field, want protowire.Type) {
	if d.err == nil {
		d.err = fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, want)
	}
}

func (d *fieldDecoder) uint64(f field) uint64 {
	if f.typ != protowire.VarintType {
		d.fail(f, protowire.VarintType)
		return 0
	}
	return f.varint
}

func (d *fieldDecoder) int64(f field) int64   { return int64(d.uint64(f)) }
func (d *fieldDecoder) int32(f field) int32   { return int32(d.uint64(f)) }
func (d *fieldDecoder) uint32(f field) uint32 { return uint32(d.uint64(f)) }
func (d *fieldDecoder) bool(f field) bool     { return d.uint64(f) != 0 }

func (d *fieldDecoder) float32(f field) float32 {
	if f.typ != protowire.Fixed32Type {
		d.fail(f, protowire.Fixed32Type)
		return 0
	}
	return math.Float32frombits(f.fixed32)
}

func (d *fieldDecoder) bytes(f field) []byte {
	if f.typ != protowire.BytesType {
		d.fail(f, protowire.BytesType)
		return nil
	}
	return f.bytes
}

func (d *fieldDecoder) string(f field) string { return string(d.bytes(f)) }

func decodeSub[T any](d *fieldDecoder, f field, dec func([]byte) (T, error)) T {
	var zero T
	b := d.bytes(f)
	if d.err != nil {
		return zero
	}
	v, err := dec(b)
	if err != nil {
		d.err = fmt.Errorf("field %d: %w", f.num, err)
		return zero
	}
	return v
}

var errMissingHeaderID = errors.New("missing header id")

// decodePayload decodes the payload of a part of type typ.
func decodePayload(typ PartType, payload []byte) (Message, error) {
	switch typ {
	case PartMediaHeader:
		return decodeMediaHeader(payload)
	case PartMedia:
		id, n, ok := readVarInt(payload, 0)
		if !ok {
			return nil, errMissingHeaderID
		}
		return &MediaData{HeaderID: id, Data: payload[n:]}, nil
	case PartMediaEnd:
		id, _, ok := readVarInt(payload, 0)
		if !ok {
			return nil, errMissingHeaderID
		}
		return &MediaEnd{HeaderID: id}, nil
	case PartSabrSeek:
		return decodeSabrSeek(payload)
	case PartLiveMetadata:
		return decodeLiveMetadata(payload)
	case PartFormatInitializationMetadata:
		return decodeFormatInitializationMetadata(payload)
	case PartNextRequestPolicy:
		return decodeNextRequestPolicy(payload)
	case PartSabrRedirect:
		r := &SabrRedirect{}
		return r, decodeFlat(payload, func(d *fieldDecoder, f field) {
			if f.num == 1 {
				r.URL = d.string(f)
			}
		})
	case PartSabrError:
		e := &SabrError{}
		return e, decodeFlat(payload, func(d *fieldDecoder, f field) {
			switch f.num {
			case 1:
				e.Type = d.string(f)
			case 2:
				e.Code = d.int32(f)
			}
		})
	case PartStreamProtectionStatus:
		s := &StreamProtectionStatus{}
		return s, decodeFlat(payload, func(d *fieldDecoder, f field) {
			if f.num == 1 {
				s.Status = d.int32(f)
			}
		})
	case PartClientAbrState:
		state, err := DecodeRequestBody(payload)
		if err != nil {
			return nil, err
		}
		return &ClientAbrStateUpdate{State: state}, nil
	default:
		return &UnknownPart{Type: typ, Payload: payload}, nil
	}
}

// decodeFlat walks a message and hands every field to set.
func decodeFlat(b []byte, set func(d *fieldDecoder, f field)) error {
	var d fieldDecoder
	return walkFields(b, func(f field) error {
		set(&d, f)
		return d.err
	})
}

func decodeFormatID(b []byte) (*FormatID, error) {
	id := &FormatID{}
	return id, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			id.Itag = d.int32(f)
		case 2:
			id.LastModified = d.uint64(f)
		case 3:
			id.XTags = d.string(f)
		}
	})
}

func decodeTimeRange(b []byte) (*TimeRange, error) {
	r := &TimeRange{}
	return r, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			r.StartTicks = d.int64(f)
		case 2:
			r.DurationTicks = d.int64(f)
		case 3:
			r.Timescale = d.int32(f)
		}
	})
}

func decodeMediaHeader(b []byte) (*MediaHeader, error) {
	h := &MediaHeader{}
	return h, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			h.HeaderID = d.uint32(f)
		case 2:
			h.VideoID = d.string(f)
		case 3:
			h.Itag = d.int32(f)
		case 4:
			h.LastModified = d.uint64(f)
		case 5:
			h.XTags = d.string(f)
		case 6:
			h.StartRange = d.int64(f)
		case 7:
			h.CompressionAlgorithm = d.int32(f)
		case 8:
			h.IsInitSegment = d.bool(f)
		case 9:
			h.SequenceNumber = d.int64(f)
		case 11:
			h.StartMs = d.int64(f)
		case 12:
			h.DurationMs = d.int64(f)
		case 13:
			h.FormatID = decodeSub(d, f, decodeFormatID)
		case 14:
			h.ContentLength = d.int64(f)
		case 15:
			h.TimeRange = decodeSub(d, f, decodeTimeRange)
		}
	})
}

func decodeSabrSeek(b []byte) (*SabrSeek, error) {
	s := &SabrSeek{}
	return s, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			s.SeekTimeTicks = d.int64(f)
		case 2:
			s.Timescale = d.int32(f)
		case 3:
			s.SeekSource = d.int32(f)
		}
	})
}

func decodeLiveMetadata(b []byte) (*LiveMetadata, error) {
	m := &LiveMetadata{}
	return m, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 3:
			m.HeadSequenceNumber = d.int64(f)
		case 4:
			m.HeadSequenceTimeMs = d.int64(f)
		case 5:
			m.WallTimeMs = d.int64(f)
		case 7:
			m.PostLiveDvr = d.bool(f)
		case 12:
			m.MinSeekableTimeTicks = d.int64(f)
		case 13:
			m.MinSeekableTimescale = d.int32(f)
		case 14:
			m.MaxSeekableTimeTicks = d.int64(f)
		case 15:
			m.MaxSeekableTimescale = d.int32(f)
		}
	})
}

func decodeFormatInitializationMetadata(b []byte) (*FormatInitializationMetadata, error) {
	m := &FormatInitializationMetadata{}
	return m, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			m.VideoID = d.string(f)
		case 2:
			m.FormatID = decodeSub(d, f, decodeFormatID)
		case 3:
			m.EndTimeMs = d.int64(f)
		case 4:
			m.EndSegmentNumber = d.int64(f)
		case 5:
			m.MimeType = d.string(f)
		case 9:
			m.DurationUnits = d.int64(f)
		case 10:
			m.DurationTimescale = d.int64(f)
		}
	})
}

func decodeNextRequestPolicy(b []byte) (*NextRequestPolicy, error) {
	p := &NextRequestPolicy{}
	return p, decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			p.TargetAudioReadaheadMs = d.int32(f)
		case 2:
			p.TargetVideoReadaheadMs = d.int32(f)
		case 4:
			p.BackoffTimeMs = d.int32(f)
		case 7:
			p.PlaybackCookie = d.bytes(f)
		case 8:
			p.VideoID = d.string(f)
		}
	})
}

func decodeBufferedRange(b []byte) (BufferedRange, error) {
	var r BufferedRange
	err := decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			if id := decodeSub(d, f, decodeFormatID); id != nil {
				r.Format = *id
			}
		case 2:
			r.StartTimeMs = d.int64(f)
		case 3:
			r.DurationMs = d.int64(f)
		case 4:
			r.StartSegmentIndex = d.int64(f)
		case 5:
			r.EndSegmentIndex = d.int64(f)
		}
	})
	return r, err
}

func decodeClientAbrState(b []byte, s *ClientAbrState) error {
	return decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 21:
			s.StickyResolution = d.int32(f)
		case 23:
			s.BandwidthEstimate = d.int64(f)
		case 28:
			s.PlayerTimeMs = d.int64(f)
		case 29:
			s.TimeSinceLastSeekMs = d.int64(f)
		case 35:
			s.PlaybackRate = d.float32(f)
		case 40:
			s.EnabledTrackTypes = d.int32(f)
		case 46:
			s.DrcEnabled = d.bool(f)
		}
	})
}

// DecodeRequestBody decodes a poll request body produced by
// EncodeRequestBody back into a ClientAbrState.
func DecodeRequestBody(b []byte) (ClientAbrState, error) {
	var s ClientAbrState
	err := decodeFlat(b, func(d *fieldDecoder, f field) {
		switch f.num {
		case 1:
			raw := d.bytes(f)
			if d.err == nil {
				if err := decodeClientAbrState(raw, &s); err != nil {
					d.err = fmt.Errorf("client abr state: %w", err)
				}
			}
		case 2:
			if id := decodeSub(d, f, decodeFormatID); id != nil {
				s.SelectedFormats = append(s.SelectedFormats, *id)
			}
		case 3:
			r := decodeSub(d, f, decodeBufferedRange)
			if d.err == nil {
				s.BufferedRanges = append(s.BufferedRanges, r)
			}
		case fieldLiveSegmentTolerance:
			s.LiveSegmentToleranceMs = d.int32(f)
		}
	})
	if err != nil {
		return ClientAbrState{}, err
	}
	return s, nil
}
