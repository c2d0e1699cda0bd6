package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// Writer is a forward-only cursor over a fixed byte buffer.
// Every write is bounds-checked; running past the end means the caller
// computed the layout wrong, so it panics instead of returning an error.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Offset is the number of bytes written so far.
func (w *Writer) Offset() int {
	return w.off
}

// Remaining is the number of bytes left before the end of the buffer.
func (w *Writer) Remaining() int {
	return len(w.buf) - w.off
}

func (w *Writer) advance(n int) []byte {
	if n < 0 || n > w.Remaining() {
		panic(fmt.Sprintf("codec: writing %d bytes at offset %d overflows %d-byte buffer", n, w.off, len(w.buf)))
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

// PutUint64 writes v big-endian into the next 8 bytes.
func (w *Writer) PutUint64(v uint64) {
	binary.BigEndian.PutUint64(w.advance(8), v)
}

// Zero writes n zero bytes.
func (w *Writer) Zero(n int) {
	clear(w.advance(n))
}

// PutPadded writes b followed by zeros up to size bytes.
func (w *Writer) PutPadded(b []byte, size int) {
	if len(b) > size {
		panic(fmt.Sprintf("codec: %d-byte field does not fit in %d-byte slot", len(b), size))
	}
	dst := w.advance(size)
	n := copy(dst, b)
	clear(dst[n:])
}

// Reader is the decoding counterpart of Writer. Reads past the end return a
// ProtocolError since the bytes came from the other side of the wire.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, rpcerr.Protocol(fmt.Sprintf("buffer truncated: need %d bytes at offset %d, have %d", n, r.off, r.Remaining()), "")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint64 reads one big-endian 8-byte value.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Zeros consumes n bytes and fails unless all of them are zero.
func (r *Reader) Zeros(n int) error {
	start := r.off
	b, err := r.next(n)
	if err != nil {
		return err
	}
	for i, c := range b {
		if c != 0 {
			return rpcerr.Protocol(fmt.Sprintf("expected zero byte at offset %d, got 0x%02X", start+i, c), "")
		}
	}
	return nil
}

// Padded consumes a size-byte slot holding want followed by zero padding.
func (r *Reader) Padded(want []byte, size int) error {
	start := r.off
	b, err := r.next(size)
	if err != nil {
		return err
	}
	if len(want) > size || !bytes.Equal(b[:len(want)], want) {
		return rpcerr.Protocol(fmt.Sprintf("slot at offset %d does not hold %q", start, want), "")
	}
	for _, c := range b[len(want):] {
		if c != 0 {
			return rpcerr.Protocol(fmt.Sprintf("non-zero padding in slot at offset %d", start), "")
		}
	}
	return nil
}

// CString consumes a NUL-terminated string and its zero padding up to the
// next 8-byte boundary.
func (r *Reader) CString() (string, error) {
	rest := r.buf[r.off:]
	n := bytes.IndexByte(rest, 0)
	if n < 0 {
		return "", rpcerr.Protocol(fmt.Sprintf("unterminated string at offset %d", r.off), "")
	}
	s := string(rest[:n])
	if err := r.Padded(rest[:n], message.Align8(n+1)); err != nil {
		return "", err
	}
	return s, nil
}
