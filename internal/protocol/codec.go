package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Reader walks a payload. The first failure sticks; callers check Err once
// at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader reads from payload.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrLengthMismatch, n, r.off, len(r.buf))
		return false
	}
	return true
}

func (r *Reader) U8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) U64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

// Read copies len(dst) bytes into dst.
func (r *Reader) Read(dst []byte) {
	copy(dst, r.Bytes(len(dst)))
}

// FixedString reads an n byte NUL-padded string.
func (r *Reader) FixedString(n int) string {
	raw := r.Bytes(n)
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

// LenString reads a length-prefixed string.
func (r *Reader) LenString() string {
	n := int(r.U8())
	return string(r.Bytes(n))
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Err returns the first decode failure.
func (r *Reader) Err() error {
	return r.err
}

// Done reports an error unless the payload was consumed exactly.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if rem := r.Remaining(); rem != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrLengthMismatch, rem)
	}
	return nil
}

func appendU16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func appendU64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func appendFixedString(dst []byte, s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	dst = append(dst, s...)
	for i := len(s); i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

func appendString(dst []byte, s string) []byte {
	if len(s) > MaxReasonLength {
		s = s[:MaxReasonLength]
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}
