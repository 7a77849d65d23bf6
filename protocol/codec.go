package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"net/netip"
	"slices"
)

var (
	ErrTruncated     = errors.New("message truncated")
	ErrUnknownType   = errors.New("unknown message type")
	ErrUnknownFamily = errors.New("unknown message family")
	ErrTooLong       = errors.New("field exceeds maximum length")
)

// Writer appends big endian fields to an owned buffer
type Writer struct {
	buf []byte
	err error
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) Addr(a netip.Addr) {
	if !a.IsValid() {
		w.U32(0)
		return
	}
	b := a.Unmap().As4()
	w.buf = append(w.buf, b[:]...)
}

// String writes a uint16 length followed by the raw bytes
func (w *Writer) String(s string) {
	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("string of %d bytes: %w", len(s), ErrTooLong)
		return
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) Count(n int) {
	if n > math.MaxUint16 {
		w.err = fmt.Errorf("list of %d entries: %w", n, ErrTooLong)
		return
	}
	w.U16(uint16(n))
}

func (w *Writer) Strings(s []string) {
	w.Count(len(s))
	for _, v := range s {
		w.String(v)
	}
}

func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Bytes() ([]byte, error) {
	return w.buf, w.err
}

// Reader consumes big endian fields from a buffer. The first short read is sticky and reported by Err.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("need %d bytes at offset %d of %d: %w", n, r.off, len(r.buf), ErrTruncated)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) Bool() bool {
	return r.U8() != 0
}

func (r *Reader) Addr() netip.Addr {
	b := r.take(4)
	if b == nil {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(b))
}

func (r *Reader) String() string {
	n := r.U16()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) Strings() []string {
	n := int(r.U16())
	out := make([]string, 0, min(n, len(r.buf)))
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.String())
	}
	return out
}

// Rest returns every remaining byte
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) Err() error {
	return r.err
}

func writeIndex(w *Writer, entries map[string][]string) {
	w.Count(len(entries))
	for _, term := range slices.Sorted(maps.Keys(entries)) {
		w.String(term)
		w.Strings(entries[term])
	}
}

func readIndex(r *Reader) map[string][]string {
	n := int(r.U16())
	out := make(map[string][]string)
	for i := 0; i < n && r.Err() == nil; i++ {
		term := r.String()
		out[term] = r.Strings()
	}
	return out
}
