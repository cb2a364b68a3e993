package types

import (
	"fmt"

	"github.com/objectfs/arraycache/pkg/errors"
)

// Kind discriminates the supported payload shapes (element type x rank).
type Kind uint8

const (
	KindInvalid Kind = iota
	KindByte1D
	KindByte2D
	KindShort1D
	KindShort2D
	KindInt1D
	KindInt2D
	KindFloat1D
	KindFloat2D
	KindDouble1D
	KindDouble2D
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindByte1D:
		return "byte[]"
	case KindByte2D:
		return "byte[][]"
	case KindShort1D:
		return "short[]"
	case KindShort2D:
		return "short[][]"
	case KindInt1D:
		return "int[]"
	case KindInt2D:
		return "int[][]"
	case KindFloat1D:
		return "float[]"
	case KindFloat2D:
		return "float[][]"
	case KindDouble1D:
		return "double[]"
	case KindDouble2D:
		return "double[][]"
	default:
		return "invalid"
	}
}

// Valid reports whether k names one of the ten supported shapes.
func (k Kind) Valid() bool {
	return k >= KindByte1D && k <= KindDouble2D
}

// Rank returns 1 or 2, or 0 for an invalid kind.
func (k Kind) Rank() int {
	if !k.Valid() {
		return 0
	}
	if k%2 == 0 {
		return 2
	}
	return 1
}

// ElemSize returns the size in bytes of one element.
func (k Kind) ElemSize() int {
	switch k {
	case KindByte1D, KindByte2D:
		return 1
	case KindShort1D, KindShort2D:
		return 2
	case KindInt1D, KindInt2D, KindFloat1D, KindFloat2D:
		return 4
	case KindDouble1D, KindDouble2D:
		return 8
	default:
		return 0
	}
}

// Number is the set of element types a payload can hold.
type Number interface {
	~uint8 | ~int16 | ~int32 | ~float32 | ~float64
}

// Payload is a numeric array held by the cache. It is exactly one of the ten
// shapes below; the unexported marker keeps the set closed.
type Payload interface {
	Kind() Kind
	// ByteSize is element size times total element count.
	ByteSize() int64
	isPayload()
}

type (
	Bytes     []byte
	Bytes2D   [][]byte
	Shorts    []int16
	Shorts2D  [][]int16
	Ints      []int32
	Ints2D    [][]int32
	Floats    []float32
	Floats2D  [][]float32
	Doubles   []float64
	Doubles2D [][]float64
)

func (Bytes) Kind() Kind     { return KindByte1D }
func (Bytes2D) Kind() Kind   { return KindByte2D }
func (Shorts) Kind() Kind    { return KindShort1D }
func (Shorts2D) Kind() Kind  { return KindShort2D }
func (Ints) Kind() Kind      { return KindInt1D }
func (Ints2D) Kind() Kind    { return KindInt2D }
func (Floats) Kind() Kind    { return KindFloat1D }
func (Floats2D) Kind() Kind  { return KindFloat2D }
func (Doubles) Kind() Kind   { return KindDouble1D }
func (Doubles2D) Kind() Kind { return KindDouble2D }

func (p Bytes) ByteSize() int64     { return int64(len(p)) }
func (p Bytes2D) ByteSize() int64   { return elems2(p) }
func (p Shorts) ByteSize() int64    { return 2 * int64(len(p)) }
func (p Shorts2D) ByteSize() int64  { return 2 * elems2(p) }
func (p Ints) ByteSize() int64      { return 4 * int64(len(p)) }
func (p Ints2D) ByteSize() int64    { return 4 * elems2(p) }
func (p Floats) ByteSize() int64    { return 4 * int64(len(p)) }
func (p Floats2D) ByteSize() int64  { return 4 * elems2(p) }
func (p Doubles) ByteSize() int64   { return 8 * int64(len(p)) }
func (p Doubles2D) ByteSize() int64 { return 8 * elems2(p) }

func (Bytes) isPayload()     {}
func (Bytes2D) isPayload()   {}
func (Shorts) isPayload()    {}
func (Shorts2D) isPayload()  {}
func (Ints) isPayload()      {}
func (Ints2D) isPayload()    {}
func (Floats) isPayload()    {}
func (Floats2D) isPayload()  {}
func (Doubles) isPayload()   {}
func (Doubles2D) isPayload() {}

func elems2[T Number](rows [][]T) int64 {
	var n int64
	for _, row := range rows {
		n += int64(len(row))
	}
	return n
}

// PayloadOf converts v into a Payload. It accepts the named payload types as
// well as plain []T and [][]T slices of the supported element types. Nil
// values and any other type fail with UNSUPPORTED_PAYLOAD_SHAPE.
func PayloadOf(v interface{}) (Payload, error) {
	var p Payload
	switch x := v.(type) {
	case Payload:
		p = x
	case []byte:
		p = Bytes(x)
	case [][]byte:
		p = Bytes2D(x)
	case []int16:
		p = Shorts(x)
	case [][]int16:
		p = Shorts2D(x)
	case []int32:
		p = Ints(x)
	case [][]int32:
		p = Ints2D(x)
	case []float32:
		p = Floats(x)
	case [][]float32:
		p = Floats2D(x)
	case []float64:
		p = Doubles(x)
	case [][]float64:
		p = Doubles2D(x)
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupportedPayloadShape,
			"unsupported payload type %T", v)
	}
	if isNilPayload(p) {
		return nil, errors.Newf(errors.ErrCodeUnsupportedPayloadShape,
			"nil %s payload", p.Kind())
	}
	return p, nil
}

func isNilPayload(p Payload) bool {
	switch x := p.(type) {
	case Bytes:
		return x == nil
	case Bytes2D:
		return x == nil
	case Shorts:
		return x == nil
	case Shorts2D:
		return x == nil
	case Ints:
		return x == nil
	case Ints2D:
		return x == nil
	case Floats:
		return x == nil
	case Floats2D:
		return x == nil
	case Doubles:
		return x == nil
	case Doubles2D:
		return x == nil
	default:
		return true
	}
}

// As returns p as the concrete shape T when p holds that shape.
func As[T Payload](p Payload) (T, bool) {
	v, ok := p.(T)
	return v, ok
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) Payload {
	switch x := p.(type) {
	case Bytes:
		return Bytes(clone1(x))
	case Bytes2D:
		return Bytes2D(Clone2(x))
	case Shorts:
		return Shorts(clone1(x))
	case Shorts2D:
		return Shorts2D(Clone2(x))
	case Ints:
		return Ints(clone1(x))
	case Ints2D:
		return Ints2D(Clone2(x))
	case Floats:
		return Floats(clone1(x))
	case Floats2D:
		return Floats2D(Clone2(x))
	case Doubles:
		return Doubles(clone1(x))
	case Doubles2D:
		return Doubles2D(Clone2(x))
	default:
		return nil
	}
}

// EqualPayload reports whether a and b have the same kind, shape and element
// values. NaN elements compare equal to NaN.
func EqualPayload(a, b Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Bytes:
		return Equal1(x, b.(Bytes))
	case Bytes2D:
		return Equal2(x, b.(Bytes2D))
	case Shorts:
		return Equal1(x, b.(Shorts))
	case Shorts2D:
		return Equal2(x, b.(Shorts2D))
	case Ints:
		return Equal1(x, b.(Ints))
	case Ints2D:
		return Equal2(x, b.(Ints2D))
	case Floats:
		return Equal1(x, b.(Floats))
	case Floats2D:
		return Equal2(x, b.(Floats2D))
	case Doubles:
		return Equal1(x, b.(Doubles))
	case Doubles2D:
		return Equal2(x, b.(Doubles2D))
	default:
		return false
	}
}

// Equal1 compares two vectors element by element.
func Equal1[T Number](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(a[i] != a[i] && b[i] != b[i]) {
			return false
		}
	}
	return true
}

// Equal2 compares two tuple arrays row by row.
func Equal2[T Number](a, b [][]T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal1(a[i], b[i]) {
			return false
		}
	}
	return true
}

func clone1[T Number](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Clone2 deep-copies a tuple array.
func Clone2[T Number](rows [][]T) [][]T {
	if rows == nil {
		return nil
	}
	out := make([][]T, len(rows))
	for i, row := range rows {
		out[i] = clone1(row)
	}
	return out
}

// Describe returns a short shape description such as "float[2][500000]".
func Describe(p Payload) string {
	if p == nil {
		return "<nil>"
	}
	k := p.Kind()
	base := k.String()
	base = base[:len(base)-2*k.Rank()]
	switch x := p.(type) {
	case Bytes:
		return fmt.Sprintf("%s[%d]", base, len(x))
	case Bytes2D:
		return describe2(base, x)
	case Shorts:
		return fmt.Sprintf("%s[%d]", base, len(x))
	case Shorts2D:
		return describe2(base, x)
	case Ints:
		return fmt.Sprintf("%s[%d]", base, len(x))
	case Ints2D:
		return describe2(base, x)
	case Floats:
		return fmt.Sprintf("%s[%d]", base, len(x))
	case Floats2D:
		return describe2(base, x)
	case Doubles:
		return fmt.Sprintf("%s[%d]", base, len(x))
	case Doubles2D:
		return describe2(base, x)
	default:
		return base
	}
}

func describe2[T Number](base string, rows [][]T) string {
	if len(rows) == 0 {
		return fmt.Sprintf("%s[0][]", base)
	}
	return fmt.Sprintf("%s[%d][%d]", base, len(rows), len(rows[0]))
}
