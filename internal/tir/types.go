// Package tir defines the tensor instruction IR consumed by code generation.
// Values are typed multi-dimensional buffers; instructions read and write them
// through role-tagged operands. The package also carries the structural
// verifier that every pass runs after mutating a function.
package tir

import (
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
)

// ElemKind is the element representation of a tensor type.
type ElemKind uint8

const (
	Float32 ElemKind = iota
	Float16
	Int8Q  // 8-bit fixed point with scale/offset
	Int16Q // 16-bit fixed point with scale/offset
	Int32Q // 32-bit fixed point with scale/offset
	Index32
	Index64
	Bool
)

var elemKindNames = [...]string{
	Float32: "float",
	Float16: "float16",
	Int8Q:   "i8",
	Int16Q:  "i16",
	Int32Q:  "i32",
	Index32: "index32",
	Index64: "index64",
	Bool:    "bool",
}

func (k ElemKind) String() string {
	if int(k) < len(elemKindNames) {
		return elemKindNames[k]
	}
	return fmt.Sprintf("elem(%d)", uint8(k))
}

// Size returns the width of one element in bytes.
func (k ElemKind) Size() int {
	switch k {
	case Float32, Int32Q, Index32:
		return 4
	case Float16, Int16Q:
		return 2
	case Int8Q, Bool:
		return 1
	case Index64:
		return 8
	default:
		return 0
	}
}

// IsQuantized reports whether k carries scale and offset parameters.
func (k ElemKind) IsQuantized() bool {
	return k == Int8Q || k == Int16Q || k == Int32Q
}

// IsFloat reports whether k is a floating point kind.
func (k ElemKind) IsFloat() bool {
	return k == Float32 || k == Float16
}

// ParseElemKind maps a dump name such as "float" or "i8" back to its kind.
func ParseElemKind(s string) (ElemKind, error) {
	for i, n := range elemKindNames {
		if n == s {
			return ElemKind(i), nil
		}
	}
	return 0, errors.Newf("unknown element kind %q", s)
}

// Type describes a tensor operand. Types are immutable once built and may be
// shared freely between values.
type Type struct {
	kind   ElemKind
	dims   []int
	scale  float32
	offset int32
}

// NewType builds a non-quantized tensor type.
func NewType(kind ElemKind, dims ...int) (*Type, error) {
	if kind.IsQuantized() {
		return nil, errors.Newf("element kind %s requires quantization parameters", kind)
	}
	return newType(kind, 0, 0, dims)
}

// NewQuantizedType builds a quantized tensor type with the given parameters.
func NewQuantizedType(kind ElemKind, scale float32, offset int32, dims ...int) (*Type, error) {
	if !kind.IsQuantized() {
		return nil, errors.Newf("element kind %s is not quantized", kind)
	}
	if scale <= 0 || math.IsNaN(float64(scale)) || math.IsInf(float64(scale), 0) {
		return nil, errors.Newf("quantization scale must be positive and finite, got %g", scale)
	}
	return newType(kind, scale, offset, dims)
}

func newType(kind ElemKind, scale float32, offset int32, dims []int) (*Type, error) {
	if int(kind) >= len(elemKindNames) {
		return nil, errors.Newf("unknown element kind %d", uint8(kind))
	}
	n := 1
	for i, d := range dims {
		if d < 0 {
			return nil, errors.Newf("dimension %d is negative (%d)", i, d)
		}
		if d != 0 && n > math.MaxInt/d {
			return nil, errors.Newf("element count of %v overflows int", dims)
		}
		n *= d
	}
	// SizeInBytes must fit too.
	if n > math.MaxInt/kind.Size() {
		return nil, errors.Newf("byte size of %v %s overflows int", dims, kind)
	}
	return &Type{
		kind:   kind,
		dims:   append([]int(nil), dims...),
		scale:  scale,
		offset: offset,
	}, nil
}

// MustType is NewType for statically known shapes; it panics on error.
func MustType(kind ElemKind, dims ...int) *Type {
	t, err := NewType(kind, dims...)
	if err != nil {
		panic(err)
	}
	return t
}

// MustQuantizedType is NewQuantizedType that panics on error.
func MustQuantizedType(kind ElemKind, scale float32, offset int32, dims ...int) *Type {
	t, err := NewQuantizedType(kind, scale, offset, dims...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Type) ElemKind() ElemKind { return t.kind }
func (t *Type) Rank() int          { return len(t.dims) }
func (t *Type) Scale() float32     { return t.scale }
func (t *Type) Offset() int32      { return t.offset }
func (t *Type) ElementSize() int   { return t.kind.Size() }

// Dims returns a copy of the shape.
func (t *Type) Dims() []int { return append([]int(nil), t.dims...) }

// Size is the number of elements; a rank-0 type holds one element. It never
// overflows: construction rejects shapes whose byte size does not fit an int.
func (t *Type) Size() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// SizeInBytes is Size times the element width.
func (t *Type) SizeInBytes() int { return t.Size() * t.ElementSize() }

// SameShape reports whether both types have identical dims.
func (t *Type) SameShape(o *Type) bool {
	if len(t.dims) != len(o.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != o.dims[i] {
			return false
		}
	}
	return true
}

// SameElemKind reports whether both types use the same element kind.
func (t *Type) SameElemKind(o *Type) bool { return t.kind == o.kind }

// Equal is full structural equality, quantization parameters included.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	return t.kind == o.kind && t.SameShape(o) && t.scale == o.scale && t.offset == o.offset
}

func (t *Type) String() string {
	if t == nil {
		return "<nil-type>"
	}
	var b strings.Builder
	b.WriteString(t.kind.String())
	if t.kind.IsQuantized() {
		fmt.Fprintf(&b, "[S:%g O:%d]", t.scale, t.offset)
	}
	b.WriteByte('<')
	for i, d := range t.dims {
		if i > 0 {
			b.WriteString(" x ")
		}
		fmt.Fprintf(&b, "%d", d)
	}
	b.WriteByte('>')
	return b.String()
}

// TypeTable uniques types so that structurally equal types share one instance.
type TypeTable struct {
	types map[string]*Type
}

// NewTypeTable creates an empty table.
func NewTypeTable() *TypeTable {
	return &TypeTable{types: make(map[string]*Type)}
}

// Intern returns the canonical instance equal to t.
func (tt *TypeTable) Intern(t *Type) *Type {
	if t == nil {
		return nil
	}
	key := t.String()
	if u, ok := tt.types[key]; ok {
		return u
	}
	tt.types[key] = t
	return t
}

// Len returns the number of distinct types seen so far.
func (tt *TypeTable) Len() int { return len(tt.types) }
