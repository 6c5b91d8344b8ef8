// Package sabr decodes server-adaptive-bitrate (SABR) streams: UMP framed
// protobuf parts carrying media segments, ABR state and seek directives.
package sabr

import (
	"encoding/binary"
	"fmt"
)

// PartType is the type tag of a UMP part.
type PartType uint32

// Part types understood by the decoder. Anything else decodes to an
// UnknownPart so newer server messages do not break the stream.
const (
	PartMediaHeader                  PartType = 20
	PartMedia                        PartType = 21
	PartMediaEnd                     PartType = 22
	PartLiveMetadata                 PartType = 31
	PartNextRequestPolicy            PartType = 35
	PartFormatInitializationMetadata PartType = 42
	PartSabrRedirect                 PartType = 43
	PartSabrError                    PartType = 44
	PartSabrSeek                     PartType = 45
	PartStreamProtectionStatus       PartType = 58
	PartClientAbrState               PartType = 70
)

var partTypeNames = map[PartType]string{
	PartMediaHeader:                  "MEDIA_HEADER",
	PartMedia:                        "MEDIA",
	PartMediaEnd:                     "MEDIA_END",
	PartLiveMetadata:                 "LIVE_METADATA",
	PartNextRequestPolicy:            "NEXT_REQUEST_POLICY",
	PartFormatInitializationMetadata: "FORMAT_INITIALIZATION_METADATA",
	PartSabrRedirect:                 "SABR_REDIRECT",
	PartSabrError:                    "SABR_ERROR",
	PartSabrSeek:                     "SABR_SEEK",
	PartStreamProtectionStatus:       "STREAM_PROTECTION_STATUS",
	PartClientAbrState:               "CLIENT_ABR_STATE",
}

func (t PartType) String() string {
	if name, ok := partTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PART_%d", uint32(t))
}

// DefaultMaxPartSize bounds the payload size the decoder will accept.
const DefaultMaxPartSize = 16 << 20

// varIntLen returns the encoded length implied by a UMP varint's first byte.
func varIntLen(b0 byte) int {
	switch {
	case b0 < 0x80:
		return 1
	case b0 < 0xC0:
		return 2
	case b0 < 0xE0:
		return 3
	case b0 < 0xF0:
		return 4
	default:
		return 5
	}
}

// readVarInt decodes a UMP varint at buf[off:]. ok is false if the buffer
// ends before the varint does.
func readVarInt(buf []byte, off int) (v uint32, n int, ok bool) {
	if off >= len(buf) {
		return 0, 0, false
	}
	b0 := buf[off]
	n = varIntLen(b0)
	if off+n > len(buf) {
		return 0, n, false
	}
	b := buf[off : off+n]
	switch n {
	case 1:
		v = uint32(b0)
	case 2:
		v = uint32(b0&0x3f) + 64*uint32(b[1])
	case 3:
		v = uint32(b0&0x1f) + 32*(uint32(b[1])+256*uint32(b[2]))
	case 4:
		v = uint32(b0&0x0f) + 16*(uint32(b[1])+256*(uint32(b[2])+256*uint32(b[3])))
	default:
		v = binary.LittleEndian.Uint32(b[1:5])
	}
	return v, n, true
}

// appendVarInt appends the shortest UMP varint encoding of v.
func appendVarInt(dst []byte, v uint32) []byte {
	switch {
	case v < 1<<7:
		return append(dst, byte(v))
	case v < 1<<14:
		return append(dst, 0x80|byte(v&0x3f), byte(v>>6))
	case v < 1<<21:
		return append(dst, 0xC0|byte(v&0x1f), byte(v>>5), byte(v>>13))
	case v < 1<<28:
		return append(dst, 0xE0|byte(v&0x0f), byte(v>>4), byte(v>>12), byte(v>>20))
	default:
		dst = append(dst, 0xF0)
		return binary.LittleEndian.AppendUint32(dst, v)
	}
}

// Decoder decodes UMP parts into typed messages. A Decoder holds no stream
// state and may be shared by Streams.
type Decoder struct {
	maxPartSize int
}

// NewDecoder returns a Decoder that rejects parts larger than maxPartSize.
// If maxPartSize <= 0, DefaultMaxPartSize is used.
func NewDecoder(maxPartSize int) *Decoder {
	if maxPartSize <= 0 {
		maxPartSize = DefaultMaxPartSize
	}
	return &Decoder{maxPartSize: maxPartSize}
}

// Decode decodes exactly one part starting at buf[off:] and returns the
// message and the offset just past it. On error the returned offset is off:
// the cursor never moves past a part that was not fully consumed.
func (d *Decoder) Decode(buf []byte, off int) (Message, int, error) {
	typ, size, payloadOff, err := d.readEnvelope(buf, off)
	if err != nil {
		return nil, off, err
	}
	payload := buf[payloadOff : payloadOff+size]
	msg, err := decodePayload(typ, payload)
	if err != nil {
		return nil, off, &MalformedMessageError{
			Offset:   off,
			PartType: typ,
			Err:      ErrInvalidPayload,
			Detail:   err.Error(),
		}
	}
	return msg, payloadOff + size, nil
}

// readEnvelope reads the type and size varints and checks that the whole
// payload is present.
func (d *Decoder) readEnvelope(buf []byte, off int) (PartType, int, int, error) {
	typ, n, ok := readVarInt(buf, off)
	if !ok {
		return 0, 0, 0, &MalformedMessageError{Offset: off, Need: max(n, 1), Have: len(buf) - off, Err: ErrTruncated}
	}
	if typ == 0 {
		return 0, 0, 0, &MalformedMessageError{Offset: off, Err: ErrInvalidPartType}
	}
	pos := off + n
	size, n, ok := readVarInt(buf, pos)
	if !ok {
		return 0, 0, 0, &MalformedMessageError{Offset: off, PartType: PartType(typ), Need: pos - off + max(n, 1), Have: len(buf) - off, Err: ErrTruncated}
	}
	pos += n
	if uint64(size) > uint64(d.maxPartSize) {
		return 0, 0, 0, &MalformedMessageError{
			Offset:   off,
			PartType: PartType(typ),
			Err:      ErrPartTooLarge,
			Detail:   fmt.Sprintf("declared %d bytes, limit %d", size, d.maxPartSize),
		}
	}
	if pos+int(size) > len(buf) {
		return 0, 0, 0, &MalformedMessageError{
			Offset:   off,
			PartType: PartType(typ),
			Need:     pos + int(size) - off,
			Have:     len(buf) - off,
			Err:      ErrTruncated,
		}
	}
	return PartType(typ), int(size), pos, nil
}

// AppendPart appends a UMP part envelope and payload to dst.
func AppendPart(dst []byte, typ PartType, payload []byte) []byte {
	dst = appendVarInt(dst, uint32(typ))
	dst = appendVarInt(dst, uint32(len(payload)))
	return append(dst, payload...)
}
