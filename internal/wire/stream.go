// Big-endian data stream reader.
// Used by the classfile parser and the world-list codec; both formats are
// network byte order with fixed-width integers and length- or NUL-delimited
// strings.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrStreamEOF     = errors.New("stream: unexpected end of data")
	ErrUnterminated  = errors.New("stream: unterminated string")
	ErrNegativeCount = errors.New("stream: negative length")
)

// Stream reads big-endian data from an in-memory buffer.
type Stream struct {
	data []byte
	pos  int
	end  int
}

// NewStream creates a stream over the given data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, pos: 0, end: len(data)}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// Remaining returns bytes left to read.
func (s *Stream) Remaining() int { return s.end - s.pos }

// ReadByte reads a single byte.
func (s *Stream) ReadByte() (byte, error) {
	if s.pos >= s.end {
		return 0, ErrStreamEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadBytes reads n bytes into a new slice.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeCount
	}
	if s.pos+n > s.end {
		return nil, ErrStreamEOF
	}
	out := make([]byte, n)
	copy(out, s.data[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// ReadUint8 reads a uint8.
func (s *Stream) ReadUint8() (uint8, error) {
	return s.ReadByte()
}

// ReadUint16 reads a big-endian uint16.
func (s *Stream) ReadUint16() (uint16, error) {
	if s.pos+2 > s.end {
		return 0, ErrStreamEOF
	}
	v := binary.BigEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (s *Stream) ReadUint32() (uint32, error) {
	if s.pos+4 > s.end {
		return 0, ErrStreamEOF
	}
	v := binary.BigEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return v, nil
}

// ReadInt16 reads a big-endian int16.
func (s *Stream) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a big-endian int32.
func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

// ReadCString reads a NUL-terminated string. The terminator is consumed
// but not included in the result.
func (s *Stream) ReadCString() (string, error) {
	start := s.pos
	for s.pos < s.end {
		if s.data[s.pos] == 0 {
			str := string(s.data[start:s.pos])
			s.pos++
			return str, nil
		}
		s.pos++
	}
	s.pos = start
	return "", fmt.Errorf("%w at offset %d", ErrUnterminated, start)
}

// Skip advances the position by n bytes.
func (s *Stream) Skip(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	if s.pos+n > s.end {
		return ErrStreamEOF
	}
	s.pos += n
	return nil
}

// Align advances position to the next alignment boundary, measured
// from base.
func (s *Stream) Align(base, alignment int) error {
	if alignment <= 0 {
		return nil
	}
	rem := (s.pos - base) % alignment
	if rem == 0 {
		return nil
	}
	return s.Skip(alignment - rem)
}
