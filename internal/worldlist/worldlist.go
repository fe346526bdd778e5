// Package worldlist encodes and decodes the binary world directory served
// to the client at /worldlist.ws.
//
// Layout, big-endian:
//
//	u32 payload size (informational)
//	u16 record count
//	per record:
//	  u16 id
//	  u32 type mask
//	  host, NUL-terminated
//	  activity, NUL-terminated
//	  u8  location
//	  i16 population
package worldlist

import (
	"errors"
	"fmt"
	"strings"

	"gnomepatch/internal/wire"
)

var (
	// ErrTruncated reports a record cut short by the end of the buffer.
	ErrTruncated = errors.New("worldlist: truncated record")
	// ErrEmbeddedNUL reports a host or activity containing a 0x00 byte.
	ErrEmbeddedNUL = errors.New("worldlist: string contains NUL")
	// ErrTooManyRecords reports more records than the u16 count holds.
	ErrTooManyRecords = errors.New("worldlist: too many records")
)

// headerSize is the size and count fields preceding the records.
const headerSize = 6

// Record is one world entry.
type Record struct {
	ID         uint16
	Mask       uint32
	Host       string
	Activity   string
	Location   uint8
	Population int16
}

// Types decodes the record's mask.
func (r Record) Types() []WorldType { return FlagsOf(r.Mask) }

// Unmatched reports a nonzero mask that sets no defined type bit. Such
// records decode with an empty type set.
func (r Record) Unmatched() bool { return r.Mask != 0 && len(FlagsOf(r.Mask)) == 0 }

// Default returns the single world served when none are configured.
func Default(host string) Record {
	return Record{ID: 255, Mask: MaskOf(Members), Host: host, Activity: "Gnome"}
}

// PayloadSize is the value written in the header: the count field plus
// every record's encoded size.
func PayloadSize(records []Record) uint32 {
	n := uint32(2)
	for _, r := range records {
		n += uint32(2 + 4 + len(r.Host) + 1 + len(r.Activity) + 1 + 1 + 2)
	}
	return n
}

// Encode serializes records in order.
func Encode(records []Record) ([]byte, error) {
	if len(records) > 0xffff {
		return nil, fmt.Errorf("%w: %d", ErrTooManyRecords, len(records))
	}
	for i, r := range records {
		if strings.IndexByte(r.Host, 0) >= 0 || strings.IndexByte(r.Activity, 0) >= 0 {
			return nil, fmt.Errorf("%w: record %d (id %d)", ErrEmbeddedNUL, i, r.ID)
		}
	}
	size := PayloadSize(records)
	w := wire.NewBuffer(4 + int(size))
	w.WriteUint32(size)
	w.WriteUint16(uint16(len(records)))
	for _, r := range records {
		w.WriteUint16(r.ID)
		w.WriteUint32(r.Mask)
		w.WriteCString(r.Host)
		w.WriteCString(r.Activity)
		w.WriteUint8(r.Location)
		w.WriteUint16(uint16(r.Population))
	}
	return w.Bytes(), nil
}

// Decode parses a world list. Input shorter than the header yields no
// records and no error. The declared size is skipped; iteration follows
// the record count. If a record is cut short, the records before it are
// returned with an error wrapping ErrTruncated.
func Decode(b []byte) ([]Record, error) {
	if len(b) < headerSize {
		return nil, nil
	}
	s := wire.NewStream(b)
	if err := s.Skip(4); err != nil {
		return nil, err
	}
	count, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, min(int(count), s.Remaining()/8))
	for i := 0; i < int(count); i++ {
		r, err := readRecord(s)
		if err != nil {
			return out, fmt.Errorf("%w: record %d of %d: %v", ErrTruncated, i, count, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func readRecord(s *wire.Stream) (Record, error) {
	var r Record
	var err error
	if r.ID, err = s.ReadUint16(); err != nil {
		return r, err
	}
	if r.Mask, err = s.ReadUint32(); err != nil {
		return r, err
	}
	if r.Host, err = s.ReadCString(); err != nil {
		return r, err
	}
	if r.Activity, err = s.ReadCString(); err != nil {
		return r, err
	}
	if r.Location, err = s.ReadUint8(); err != nil {
		return r, err
	}
	r.Population, err = s.ReadInt16()
	return r, err
}
