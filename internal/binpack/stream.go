package binpack

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Encoder writes packed fields to an io.Writer. The first error is sticky:
// once a write or pack fails every later call is a no-op and Err returns it.
type Encoder struct {
	w   io.Writer
	n   int64
	err error
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered.
func (e *Encoder) Err() error { return e.err }

// Written returns the number of bytes written so far.
func (e *Encoder) Written() int64 { return e.n }

func (e *Encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	n, err := e.w.Write(b)
	e.n += int64(n)
	if err != nil {
		e.err = err
	}
}

// Ints packs an integer slice with the given tag.
func Ints[T Integer](e *Encoder, tag Tag, values []T) {
	if e.err != nil {
		return
	}
	b, err := Pack(values, tag)
	if err != nil {
		e.err = err
		return
	}
	e.write(b)
}

// Bool writes one byte, 0 or 1.
func (e *Encoder) Bool(v bool) { e.write(PackBools([]bool{v})) }

// Bools writes one byte per value.
func (e *Encoder) Bools(v []bool) { e.write(PackBools(v)) }

// I32 writes a little-endian int32.
func (e *Encoder) I32(v int32) { Ints(e, Int32, []int32{v}) }

// U32 writes a little-endian uint32.
func (e *Encoder) U32(v uint32) { Ints(e, Uint32, []uint32{v}) }

// U64 writes a little-endian uint64.
func (e *Encoder) U64(v uint64) { Ints(e, Uint64, []uint64{v}) }

// I32s writes v as consecutive int32 values with no count prefix.
func (e *Encoder) I32s(v []int32) { Ints(e, Int32, v) }

// U64s writes v as consecutive uint64 values with no count prefix.
func (e *Encoder) U64s(v []uint64) { Ints(e, Uint64, v) }

// IntsAsI32 narrows v to int32 fields; out-of-range values fail the encoder.
func (e *Encoder) IntsAsI32(v []int) { Ints(e, Int32, v) }

// IntsAsU64 widens v to uint64 fields; negative values fail the encoder.
func (e *Encoder) IntsAsU64(v []int) { Ints(e, Uint64, v) }

// FormatMismatchError reports a file whose bytes do not match the layout
// the reader expects. It is always fatal: the format carries no framing
// beyond its documented counts, so nothing after the mismatch can be trusted.
type FormatMismatchError struct {
	What   string
	Offset int64
	Detail string
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("binpack: %s: format mismatch at byte %d: %s", e.What, e.Offset, e.Detail)
}

// Decoder reads packed fields from an io.Reader with the same sticky-error
// semantics as Encoder. A short read becomes a *FormatMismatchError.
type Decoder struct {
	r    *bufio.Reader
	what string
	off  int64
	err  error
	buf  [8]byte
}

// NewDecoder returns a Decoder reading from r. what names the file in errors.
func NewDecoder(r io.Reader, what string) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br, what: what}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error { return d.err }

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 { return d.off }

// Mismatch records a layout error at the current offset.
func (d *Decoder) Mismatch(format string, args ...any) {
	if d.err == nil {
		d.err = &FormatMismatchError{What: d.what, Offset: d.off, Detail: fmt.Sprintf(format, args...)}
	}
}

func (d *Decoder) read(b []byte) bool {
	if d.err != nil {
		return false
	}
	n, err := io.ReadFull(d.r, b)
	d.off += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.err = &FormatMismatchError{
				What:   d.what,
				Offset: d.off,
				Detail: fmt.Sprintf("short read: wanted %d bytes, got %d", len(b), n),
			}
		} else {
			d.err = err
		}
		return false
	}
	return true
}

// AtEOF reports whether the stream is exhausted without consuming input.
// A read failure other than io.EOF is recorded in Err and also ends the
// stream, so loops guarded by AtEOF must check Err afterwards.
func (d *Decoder) AtEOF() bool {
	if d.err != nil {
		return true
	}
	_, err := d.r.Peek(1)
	if err != nil && !errors.Is(err, io.EOF) {
		d.err = err
	}
	return err != nil
}

// ExpectEOF records a mismatch if any byte remains.
func (d *Decoder) ExpectEOF() {
	if d.err != nil {
		return
	}
	if !d.AtEOF() {
		d.Mismatch("trailing bytes after last record")
	}
}

// Bool reads one byte; anything but 0 or 1 is a format mismatch.
func (d *Decoder) Bool() bool {
	if !d.read(d.buf[:1]) {
		return false
	}
	switch d.buf[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.off--
		d.Mismatch("invalid bool byte %#x", d.buf[0])
		return false
	}
}

// I32 reads a little-endian int32.
func (d *Decoder) I32() int32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return int32(ByteOrder.Uint32(d.buf[:4]))
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return ByteOrder.Uint32(d.buf[:4])
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return ByteOrder.Uint64(d.buf[:8])
}

// maxPrealloc bounds the capacity reserved from an untrusted count.
const maxPrealloc = 1 << 16

func readN[T any](d *Decoder, n int, next func() T) []T {
	if n < 0 {
		d.Mismatch("negative element count %d", n)
		return nil
	}
	out := make([]T, 0, min(n, maxPrealloc))
	for i := 0; i < n && d.err == nil; i++ {
		v := next()
		if d.err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Bools reads n bool bytes. On error the values read so far are returned.
func (d *Decoder) Bools(n int) []bool { return readN(d, n, d.Bool) }

// I32s reads n int32 values.
func (d *Decoder) I32s(n int) []int32 { return readN(d, n, d.I32) }

// U64s reads n uint64 values.
func (d *Decoder) U64s(n int) []uint64 { return readN(d, n, d.U64) }

// I32sUntilEOF reads int32 values until the stream ends. A trailing partial
// value is a format mismatch.
func (d *Decoder) I32sUntilEOF() []int32 {
	var out []int32
	for !d.AtEOF() {
		v := d.I32()
		if d.err != nil {
			return nil
		}
		out = append(out, v)
	}
	if d.err != nil {
		return nil
	}
	return out
}
