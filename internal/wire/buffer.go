package wire

import "encoding/binary"

// Buffer accumulates big-endian output.
type Buffer struct {
	b []byte
}

// NewBuffer returns a buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity)}
}

func (w *Buffer) Bytes() []byte { return w.b }
func (w *Buffer) Len() int      { return len(w.b) }

func (w *Buffer) WriteUint8(v uint8) { w.b = append(w.b, v) }

func (w *Buffer) WriteUint16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }

func (w *Buffer) WriteUint32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }

func (w *Buffer) WriteBytes(p []byte) { w.b = append(w.b, p...) }

// WriteCString writes s followed by a single NUL terminator.
func (w *Buffer) WriteCString(s string) {
	w.b = append(w.b, s...)
	w.b = append(w.b, 0)
}

// PutUint16At overwrites two bytes at off. Used to back-patch counts.
func (w *Buffer) PutUint16At(off int, v uint16) {
	binary.BigEndian.PutUint16(w.b[off:], v)
}

// PutUint32At overwrites four bytes at off. Used to back-patch lengths.
func (w *Buffer) PutUint32At(off int, v uint32) {
	binary.BigEndian.PutUint32(w.b[off:], v)
}
