// Package binpack packs and unpacks homogeneous numeric arrays into the
// fixed-width little-endian layout the NSAT simulator reads.
//
// Every file nsatio writes is a concatenation of packed arrays; no nested
// structure is ever written directly.
package binpack

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies the on-wire type of a packed field.
type Tag byte

// Wire tags. The letters follow the struct-format characters used by the
// simulator's original tooling.
const (
	Bool   Tag = '?'
	Int8   Tag = 'b'
	Uint8  Tag = 'B'
	Int32  Tag = 'i'
	Uint32 Tag = 'I'
	Int64  Tag = 'q'
	Uint64 Tag = 'Q'
)

// ByteOrder is the byte order of every packed field.
var ByteOrder = binary.LittleEndian

// Width returns the number of bytes one value of the tag occupies.
func (t Tag) Width() int {
	switch t {
	case Bool, Int8, Uint8:
		return 1
	case Int32, Uint32:
		return 4
	case Int64, Uint64:
		return 8
	default:
		return 0
	}
}

func (t Tag) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("tag(%q)", byte(t))
	}
}

// Integer is the set of Go integer types Pack accepts.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// EncodingError reports a value that does not fit the target field width.
type EncodingError struct {
	Tag   Tag
	Index int
	Value string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("binpack: value %s at index %d does not fit %s", e.Value, e.Index, e.Tag)
}

// Pack encodes values as count × tag.Width() bytes in array order.
// Booleans must be packed with PackBools.
func Pack[T Integer](values []T, tag Tag) ([]byte, error) {
	w := tag.Width()
	if w == 0 || tag == Bool {
		return nil, fmt.Errorf("binpack: cannot pack integers as %s", tag)
	}
	out := make([]byte, len(values)*w)
	for i, v := range values {
		if err := putInt(out[i*w:], tag, int64(v), isNegative(v), uint64(v), i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PackBools encodes booleans as one byte each (0 or 1).
func PackBools(values []bool) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		if v {
			out[i] = 1
		}
	}
	return out
}

func isNegative[T Integer](v T) bool {
	return v < 0
}

func putInt(dst []byte, tag Tag, s int64, neg bool, u uint64, idx int) error {
	fail := func() error {
		val := fmt.Sprint(u)
		if neg {
			val = fmt.Sprint(s)
		}
		return &EncodingError{Tag: tag, Index: idx, Value: val}
	}
	switch tag {
	case Int8:
		if neg && s < math.MinInt8 || !neg && u > math.MaxInt8 {
			return fail()
		}
		dst[0] = byte(int8(s))
	case Uint8:
		if neg || u > math.MaxUint8 {
			return fail()
		}
		dst[0] = byte(u)
	case Int32:
		if neg && s < math.MinInt32 || !neg && u > math.MaxInt32 {
			return fail()
		}
		ByteOrder.PutUint32(dst, uint32(int32(s)))
	case Uint32:
		if neg || u > math.MaxUint32 {
			return fail()
		}
		ByteOrder.PutUint32(dst, uint32(u))
	case Int64:
		if !neg && u > math.MaxInt64 {
			return fail()
		}
		ByteOrder.PutUint64(dst, uint64(s))
	case Uint64:
		if neg {
			return fail()
		}
		ByteOrder.PutUint64(dst, u)
	}
	return nil
}
