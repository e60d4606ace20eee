// Package persist implements the tagged, lz4-compressed snapshot format
// used to save and restore the built-in Security/Server object instances
// (and any other instance-shaped state) across a restart, per SPEC_FULL.md
// §12. Fields are written in a fixed, caller-declared order behind a
// magic tag and a version byte, then streamed through lz4 so the
// snapshot stays small on constrained flash storage.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/pierrec/lz4"
)

// magic identifies a valid snapshot; version allows the on-disk layout to
// change without silently misreading an old snapshot.
const (
	magic   uint32 = 0x4C57324D // "LW2M"
	version byte   = 1
)

var (
	ErrBadMagic   = errors.New("persist: bad magic")
	ErrBadVersion = errors.New("persist: unsupported version")
	ErrTruncated  = errors.New("persist: truncated record")
)

// FieldTag identifies a primitive field's wire representation.
type FieldTag byte

const (
	TagInt FieldTag = iota + 1
	TagUint
	TagFloat
	TagBool
	TagString
	TagBytes
)

// Writer appends tagged primitive fields to an in-memory buffer, to be
// flushed compressed via Finish.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteInt(v int64) {
	w.buf.WriteByte(byte(TagInt))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteUint(v uint64) {
	w.buf.WriteByte(byte(TagUint))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteFloat(v float64) {
	w.buf.WriteByte(byte(TagFloat))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteBool(v bool) {
	w.buf.WriteByte(byte(TagBool))
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteString(v string) { w.writeTagged(TagString, []byte(v)) }
func (w *Writer) WriteBytes(v []byte)  { w.writeTagged(TagBytes, v) }

func (w *Writer) writeTagged(tag FieldTag, v []byte) {
	w.buf.WriteByte(byte(tag))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	w.buf.Write(lenBuf[:])
	w.buf.Write(v)
}

// Finish wraps the accumulated fields in a magic/version header and
// compresses the whole record with lz4, returning the bytes to persist.
func (w *Writer) Finish() ([]byte, error) {
	var out bytes.Buffer
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], magic)
	header[4] = version
	out.Write(header[:])

	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(w.buf.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Reader reads back fields in the exact order they were written; callers
// must know their own schema (there is no field-name indexing, matching
// the fixed-capacity/no-allocation discipline the rest of the engine
// follows).
type Reader struct {
	r   *lz4.Reader
	err error
}

// Open validates the header and wraps the remaining bytes in an lz4
// decompressing reader.
func Open(data []byte) (*Reader, error) {
	if len(data) < 5 {
		return nil, ErrTruncated
	}
	if binary.BigEndian.Uint32(data[:4]) != magic {
		return nil, ErrBadMagic
	}
	if data[4] != version {
		return nil, ErrBadVersion
	}
	return &Reader{r: lz4.NewReader(bytes.NewReader(data[5:]))}, nil
}

func (r *Reader) readTag(want FieldTag) error {
	if r.err != nil {
		return r.err
	}
	var tag [1]byte
	if _, err := io.ReadFull(r.r, tag[:]); err != nil {
		r.err = ErrTruncated
		return r.err
	}
	if FieldTag(tag[0]) != want {
		r.err = ErrTruncated
		return r.err
	}
	return nil
}

func (r *Reader) ReadInt() (int64, error) {
	if err := r.readTag(TagInt); err != nil {
		return 0, err
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func (r *Reader) ReadUint() (uint64, error) {
	if err := r.readTag(TagUint); err != nil {
		return 0, err
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *Reader) ReadFloat() (float64, error) {
	if err := r.readTag(TagFloat); err != nil {
		return 0, err
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

func (r *Reader) ReadBool() (bool, error) {
	if err := r.readTag(TagBool); err != nil {
		return false, err
	}
	var b [1]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return false, ErrTruncated
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.readTagged(TagString)
	return string(b), err
}

func (r *Reader) ReadBytes() ([]byte, error) { return r.readTagged(TagBytes) }

func (r *Reader) readTagged(want FieldTag) ([]byte, error) {
	if err := r.readTag(want); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r.r, out); err != nil {
		return nil, ErrTruncated
	}
	return out, nil
}
