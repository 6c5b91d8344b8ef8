package sabr

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// readChunkSize is the read size used by Stream.ReadAll.
const readChunkSize = 32 << 10

// Stream reassembles UMP parts that arrive split across transport chunks.
// Decoded messages may alias the Stream's buffer; the Stream never writes
// over bytes it has handed out, so messages stay valid after later Feeds.
type Stream struct {
	dec *Decoder
	buf []byte
	pos int64 // stream offset of buf[0]
}

// NewStream returns a Stream decoding with dec.
func NewStream(dec *Decoder) *Stream {
	return &Stream{dec: dec}
}

// Feed appends chunk and returns every message completed by it. A trailing
// partial part is kept for the next Feed. A malformed part returns the
// messages decoded before it together with a *MalformedMessageError; the
// bad bytes stay buffered until Reset.
func (s *Stream) Feed(chunk []byte) ([]Message, error) {
	s.buf = append(s.buf, chunk...)

	var msgs []Message
	off := 0
	for off < len(s.buf) {
		msg, next, err := s.dec.Decode(s.buf, off)
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				break
			}
			err = s.absolute(err)
			s.compact(off)
			return msgs, err
		}
		msgs = append(msgs, msg)
		off = next
	}
	s.compact(off)
	return msgs, nil
}

// Buffered returns the number of bytes held for an incomplete part.
func (s *Stream) Buffered() int { return len(s.buf) }

// Offset returns the stream offset of the next undecoded byte.
func (s *Stream) Offset() int64 { return s.pos }

// Close reports an error if the stream ended inside a part.
func (s *Stream) Close() error {
	if len(s.buf) == 0 {
		return nil
	}
	_, _, err := s.dec.Decode(s.buf, 0)
	if err == nil {
		err = &MalformedMessageError{Err: ErrTruncated, Have: len(s.buf)}
	}
	return s.absolute(err)
}

// Reset drops any buffered bytes, e.g. before the transport reconnects.
func (s *Stream) Reset() {
	s.pos += int64(len(s.buf))
	s.buf = nil
}

// ReadAll feeds r to the Stream until EOF and calls fn for every message.
// It stops at the first error from r, the decoder, or fn.
func (s *Stream) ReadAll(ctx context.Context, r io.Reader, fn func(Message) error) error {
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			msgs, err := s.Feed(chunk[:n])
			for _, m := range msgs {
				if ferr := fn(m); ferr != nil {
					return ferr
				}
			}
			if err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return s.Close()
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (s *Stream) compact(off int) {
	if off == 0 {
		return
	}
	s.pos += int64(off)
	if off == len(s.buf) {
		s.buf = nil
		return
	}
	s.buf = bytes.Clone(s.buf[off:])
}

// absolute rebases a decode error's offset onto the whole stream.
func (s *Stream) absolute(err error) error {
	var mm *MalformedMessageError
	if errors.As(err, &mm) {
		mm.Offset += int(s.pos)
	}
	return err
}
