// Package wire implements the length-prefixed binary format exchanged between
// peers: little-endian fixed-width integers, uvarint-prefixed strings, and
// nested length-prefixed sub-blocks that older readers can skip wholesale.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrShortBuffer = errors.New("wire: read past end of buffer")

// DecodeError wraps any failure while reading a message. Handlers catch it,
// log, and drop the message; it must never escape to crash the host.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Vec3 is a 3-component float vector (world position).
type Vec3 struct {
	X, Y, Z float32
}

// Writer builds a message by appending typed fields.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteVec3(v Vec3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

// WriteString writes a uvarint byte-length prefix followed by UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBlock writes a nested sub-block: int32 byte length, then the raw bytes.
// A reader that does not understand the block can skip it by its prefix.
func (w *Writer) WriteBlock(b []byte) {
	w.WriteInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader consumes a message sequentially. Every read returns an explicit
// error; reading past the end yields a *DecodeError wrapping ErrShortBuffer.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many unread bytes are left in the span.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int, field string) ([]byte, error) {
	if r.Remaining() < n {
		return nil, &DecodeError{Field: field, Err: ErrShortBuffer}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) Float32() (float32, error) {
	b, err := r.take(4, "float32")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) Vec3() (Vec3, error) {
	var v Vec3
	var err error
	if v.X, err = r.Float32(); err != nil {
		return v, err
	}
	if v.Y, err = r.Float32(); err != nil {
		return v, err
	}
	v.Z, err = r.Float32()
	return v, err
}

func (r *Reader) String() (string, error) {
	n, read := binary.Uvarint(r.buf[r.off:])
	if read <= 0 {
		return "", &DecodeError{Field: "string length", Err: ErrShortBuffer}
	}
	r.off += read
	if n > uint64(r.Remaining()) {
		return "", &DecodeError{Field: "string body", Err: ErrShortBuffer}
	}
	b, err := r.take(int(n), "string body")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Block reads a nested sub-block and returns an independent Reader over it.
func (r *Reader) Block() (*Reader, error) {
	n, err := r.Int32()
	if err != nil {
		return nil, &DecodeError{Field: "block length", Err: err}
	}
	if n < 0 || int(n) > r.Remaining() {
		return nil, &DecodeError{Field: "block body", Err: ErrShortBuffer}
	}
	b, err := r.take(int(n), "block body")
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// SkipBlock discards a nested sub-block without interpreting it.
func (r *Reader) SkipBlock() error {
	_, err := r.Block()
	return err
}
