package abi

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"fortio.org/safecast"

	"rsbridge/internal/errs"
	"rsbridge/internal/layout"
)

var le = binary.LittleEndian

// Addressable is implemented by host values that stand for a guest pointer,
// such as native handles.
type Addressable interface {
	Address() uintptr
}

func (p Pointer) Address() uintptr { return p.Addr }

// Codec converts host values to and from the native byte image of a type.
// Alloc is needed to encode strings and slices, Mem to decode them.
type Codec struct {
	Engine *layout.LayoutEngine
	Alloc  Allocator
	Mem    Memory
}

// NewCodec returns a codec for the given target layout.
func NewCodec(engine *layout.LayoutEngine, alloc Allocator, mem Memory) *Codec {
	return &Codec{Engine: engine, Alloc: alloc, Mem: mem}
}

// SizeOf returns the native size of t.
func (c *Codec) SizeOf(t *Type) (int, error) {
	if t.IsVoid() {
		return 0, nil
	}
	return c.Engine.SizeOf(t)
}

func (c *Codec) ptrSize() int { return c.Engine.Target.PtrSize }

func mismatch(t *Type, v any) error {
	return fmt.Errorf("%w: cannot pass %T as %s", errs.ErrUnsupported, v, t)
}

// Encode returns the native image of v as t.
func (c *Codec) Encode(t *Type, v any) ([]byte, error) {
	size, err := c.SizeOf(t)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := c.EncodeInto(buf, t, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto writes the native image of v into dst, which must be at least
// SizeOf(t) bytes.
func (c *Codec) EncodeInto(dst []byte, t *Type, v any) error {
	switch {
	case t.IsVoid():
		return nil
	case t.Kind.IsInteger():
		return c.encodeInt(dst, t, v)
	}
	switch t.Kind {
	case F32, F64:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		default:
			rv := reflect.ValueOf(v)
			if !rv.IsValid() || !rv.CanFloat() {
				return mismatch(t, v)
			}
			f = rv.Float()
		}
		if t.Kind == F32 {
			le.PutUint32(dst, math.Float32bits(float32(f)))
		} else {
			le.PutUint64(dst, math.Float64bits(f))
		}
		return nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		dst[0] = 0
		if b {
			dst[0] = 1
		}
		return nil
	case Char:
		r, ok := v.(rune)
		if !ok || !utf8.ValidRune(r) {
			return mismatch(t, v)
		}
		le.PutUint32(dst, uint32(r))
		return nil
	case Ptr:
		addr, err := addressOf(t, v)
		if err != nil {
			return err
		}
		c.putPtr(dst, addr)
		return nil
	case CStr:
		return c.encodeCStr(dst, t, v)
	case Str:
		return c.encodeStr(dst, t, v)
	case Struct:
		return c.encodeStruct(dst, t, v)
	case Option:
		return c.encodeOption(dst, t, v)
	case Result:
		return c.encodeResult(dst, t, v)
	case Vec:
		return c.encodeVec(dst, t, v)
	case Array:
		return c.encodeArray(dst, t, v)
	}
	return mismatch(t, v)
}

func (c *Codec) encodeInt(dst []byte, t *Type, v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return mismatch(t, v)
	}
	var err error
	switch {
	case rv.CanInt():
		err = putInt(dst, t.Kind, c.ptrSize(), rv.Int())
	case rv.CanUint():
		err = putInt(dst, t.Kind, c.ptrSize(), rv.Uint())
	default:
		return mismatch(t, v)
	}
	if err != nil {
		return fmt.Errorf("%w: %v does not fit %s: %w", errs.ErrUnsupported, v, t, err)
	}
	return nil
}

func putInt[In safecast.Integer](dst []byte, k Kind, ptrSize int, x In) error {
	if k == Isize {
		k = I64
		if ptrSize == 4 {
			k = I32
		}
	}
	if k == Usize {
		k = U64
		if ptrSize == 4 {
			k = U32
		}
	}
	switch k {
	case I8:
		n, err := safecast.Conv[int8](x)
		dst[0] = byte(n)
		return err
	case I16:
		n, err := safecast.Conv[int16](x)
		le.PutUint16(dst, uint16(n))
		return err
	case I32:
		n, err := safecast.Conv[int32](x)
		le.PutUint32(dst, uint32(n))
		return err
	case I64:
		n, err := safecast.Conv[int64](x)
		le.PutUint64(dst, uint64(n))
		return err
	case U8:
		n, err := safecast.Conv[uint8](x)
		dst[0] = n
		return err
	case U16:
		n, err := safecast.Conv[uint16](x)
		le.PutUint16(dst, n)
		return err
	case U32:
		n, err := safecast.Conv[uint32](x)
		le.PutUint32(dst, n)
		return err
	case U64:
		n, err := safecast.Conv[uint64](x)
		le.PutUint64(dst, n)
		return err
	}
	return errs.ErrUnsupported
}

func (c *Codec) putPtr(dst []byte, addr uintptr) {
	if c.ptrSize() == 4 {
		le.PutUint32(dst, uint32(addr))
		return
	}
	le.PutUint64(dst, uint64(addr))
}

func (c *Codec) getPtr(src []byte) uintptr {
	if c.ptrSize() == 4 {
		return uintptr(le.Uint32(src))
	}
	return uintptr(le.Uint64(src))
}

func addressOf(t *Type, v any) (uintptr, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case Addressable:
		return x.Address(), nil
	case uintptr:
		return x, nil
	}
	return 0, mismatch(t, v)
}

func (c *Codec) alloc(n int) (uintptr, []byte, error) {
	if c.Alloc == nil {
		return 0, nil, fmt.Errorf("%w: no allocator for by-reference argument", errs.ErrUnsupported)
	}
	return c.Alloc.Alloc(n)
}

func (c *Codec) encodeCStr(dst []byte, t *Type, v any) error {
	switch x := v.(type) {
	case nil:
		c.putPtr(dst, 0)
		return nil
	case Addressable:
		c.putPtr(dst, x.Address())
		return nil
	case string:
		for i := 0; i < len(x); i++ {
			if x[i] == 0 {
				return fmt.Errorf("%w: string contains NUL at %d", errs.ErrUnsupported, i)
			}
		}
		addr, mem, err := c.alloc(len(x) + 1)
		if err != nil {
			return err
		}
		copy(mem, x)
		mem[len(x)] = 0
		c.putPtr(dst, addr)
		return nil
	}
	return mismatch(t, v)
}

func (c *Codec) encodeStr(dst []byte, t *Type, v any) error {
	s, ok := v.(string)
	if !ok {
		return mismatch(t, v)
	}
	// &str не бывает null даже для пустой строки
	addr, mem, err := c.alloc(max(len(s), 1))
	if err != nil {
		return err
	}
	copy(mem, s)
	return c.writeFields(dst, t, []any{Pointer{Addr: addr}, uint64(len(s))})
}

// writeFields encodes vals into the lowered members of an aggregate.
func (c *Codec) writeFields(dst []byte, t *Type, vals []any) error {
	l, err := c.Engine.LayoutOf(t)
	if err != nil {
		return err
	}
	fields := t.LayoutFields()
	if len(vals) != len(fields) {
		return fmt.Errorf("%w: %s has %d fields, got %d values", errs.ErrArity, t, len(fields), len(vals))
	}
	for i, ft := range fields {
		if err := c.EncodeInto(dst[l.FieldOffsets[i]:], ft.(*Type), vals[i]); err != nil {
			return fmt.Errorf("%s field %d: %w", t, i, err)
		}
	}
	return nil
}

func (c *Codec) encodeStruct(dst []byte, t *Type, v any) error {
	var vals []any
	switch x := v.(type) {
	case StructValue:
		if x.Name != "" && x.Name != t.Name {
			return mismatch(t, v)
		}
		vals = x.Fields
	case *StructValue:
		vals = x.Fields
	case []any:
		vals = x
	default:
		return mismatch(t, v)
	}
	return c.writeFields(dst, t, vals)
}

func (c *Codec) encodeOption(dst []byte, t *Type, v any) error {
	var o OptionValue
	switch x := v.(type) {
	case nil:
	case OptionValue:
		o = x
	default:
		o = Some(v)
	}
	if !o.Valid {
		l, err := c.Engine.LayoutOf(t)
		if err != nil {
			return err
		}
		clear(dst[:l.Size])
		return nil
	}
	return c.writeFields(dst, t, []any{uint8(1), o.Value})
}

func (c *Codec) encodeResult(dst []byte, t *Type, v any) error {
	r, ok := v.(ResultValue)
	if !ok {
		return mismatch(t, v)
	}
	l, err := c.Engine.LayoutOf(t)
	if err != nil {
		return err
	}
	clear(dst[:l.Size])
	if r.Ok {
		dst[l.FieldOffsets[0]] = 1
		if r.Value == nil && t.Elem.IsVoid() {
			return nil
		}
		return c.EncodeInto(dst[l.FieldOffsets[1]:], t.Elem, r.Value)
	}
	return c.EncodeInto(dst[l.FieldOffsets[2]:], t.Err, r.Err)
}

func (c *Codec) encodeVec(dst []byte, t *Type, v any) error {
	if x, ok := v.(VecValue); ok {
		return c.writeFields(dst, t, []any{Pointer{Addr: x.Ptr}, x.Len, x.Cap})
	}
	rv := reflect.ValueOf(v)
	if t.Elem == nil || !rv.IsValid() || rv.Kind() != reflect.Slice {
		return mismatch(t, v)
	}
	addr, err := c.encodeElems(t.Elem, rv)
	if err != nil {
		return err
	}
	n := uint64(rv.Len())
	return c.writeFields(dst, t, []any{Pointer{Addr: addr}, n, n})
}

// encodeElems copies the elements of a host slice into fresh guest memory.
func (c *Codec) encodeElems(elem *Type, rv reflect.Value) (uintptr, error) {
	size, err := c.SizeOf(elem)
	if err != nil {
		return 0, err
	}
	n := rv.Len()
	addr, mem, err := c.alloc(max(size*n, 1))
	if err != nil {
		return 0, err
	}
	for i := range n {
		if err := c.EncodeInto(mem[i*size:], elem, rv.Index(i).Interface()); err != nil {
			return 0, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return addr, nil
}

func (c *Codec) encodeArray(dst []byte, t *Type, v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return mismatch(t, v)
	}
	if int64(rv.Len()) != t.Len {
		return fmt.Errorf("%w: %s needs %d elements, got %d", errs.ErrArity, t, t.Len, rv.Len())
	}
	size, err := c.SizeOf(t.Elem)
	if err != nil {
		return err
	}
	for i := range rv.Len() {
		if err := c.EncodeInto(dst[i*size:], t.Elem, rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Decode converts the native image src of t to a host value.
func (c *Codec) Decode(t *Type, src []byte) (any, error) {
	if t.IsVoid() {
		return nil, nil
	}
	size, err := c.SizeOf(t)
	if err != nil {
		return nil, err
	}
	if len(src) < size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", errs.ErrOutOfBounds, t, size, len(src))
	}
	switch t.Kind {
	case I8:
		return int8(src[0]), nil
	case I16:
		return int16(le.Uint16(src)), nil
	case I32:
		return int32(le.Uint32(src)), nil
	case I64:
		return int64(le.Uint64(src)), nil
	case Isize:
		if c.ptrSize() == 4 {
			return int64(int32(le.Uint32(src))), nil
		}
		return int64(le.Uint64(src)), nil
	case U8:
		return src[0], nil
	case U16:
		return le.Uint16(src), nil
	case U32:
		return le.Uint32(src), nil
	case U64:
		return le.Uint64(src), nil
	case Usize:
		return uint64(c.getPtr(src)), nil
	case F32:
		return math.Float32frombits(le.Uint32(src)), nil
	case F64:
		return math.Float64frombits(le.Uint64(src)), nil
	case Bool:
		return src[0] != 0, nil
	case Char:
		return rune(le.Uint32(src)), nil
	case Ptr:
		return Pointer{Addr: c.getPtr(src), Type: t.String()}, nil
	case CStr:
		addr := c.getPtr(src)
		if addr == 0 {
			return nil, nil
		}
		if c.Mem == nil {
			return nil, fmt.Errorf("%w: no memory reader for %s", errs.ErrUnsupported, t)
		}
		return c.Mem.CString(addr)
	case Str:
		vals, err := c.readFields(t, src)
		if err != nil {
			return nil, err
		}
		return c.readString(vals[0].(Pointer).Addr, vals[1].(uint64))
	case Struct:
		vals, err := c.readFields(t, src)
		if err != nil {
			return nil, err
		}
		return StructValue{Name: t.Name, Fields: vals}, nil
	case Option:
		if src[0] == 0 {
			return None(), nil
		}
		vals, err := c.readFields(t, src)
		if err != nil {
			return nil, err
		}
		return Some(vals[1]), nil
	case Result:
		l, err := c.Engine.LayoutOf(t)
		if err != nil {
			return nil, err
		}
		if src[l.FieldOffsets[0]] != 0 {
			v, err := c.Decode(t.Elem, src[l.FieldOffsets[1]:])
			return Ok(v), err
		}
		e, err := c.Decode(t.Err, src[l.FieldOffsets[2]:])
		return Err(e), err
	case Vec:
		vals, err := c.readFields(t, src)
		if err != nil {
			return nil, err
		}
		return VecValue{Ptr: vals[0].(Pointer).Addr, Len: vals[1].(uint64), Cap: vals[2].(uint64)}, nil
	case Array:
		esize, err := c.SizeOf(t.Elem)
		if err != nil {
			return nil, err
		}
		out := make([]any, t.Len)
		for i := range out {
			if out[i], err = c.Decode(t.Elem, src[i*esize:]); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrUnsupported, t)
}

func (c *Codec) readFields(t *Type, src []byte) ([]any, error) {
	l, err := c.Engine.LayoutOf(t)
	if err != nil {
		return nil, err
	}
	fields := t.LayoutFields()
	out := make([]any, len(fields))
	for i, ft := range fields {
		if out[i], err = c.Decode(ft.(*Type), src[l.FieldOffsets[i]:]); err != nil {
			return nil, fmt.Errorf("%s field %d: %w", t, i, err)
		}
	}
	return out, nil
}

func (c *Codec) readString(addr uintptr, n uint64) (string, error) {
	if n == 0 {
		return "", nil
	}
	if c.Mem == nil {
		return "", fmt.Errorf("%w: no memory reader for &str", errs.ErrUnsupported)
	}
	size, err := safecast.Conv[int](n)
	if err != nil {
		return "", err
	}
	b, err := c.Mem.Read(addr, size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadVec decodes the elements behind a CVec of t.
func (c *Codec) ReadVec(t *Type, v VecValue) ([]any, error) {
	if t.Kind != Vec || t.Elem == nil {
		return nil, fmt.Errorf("%w: %s is not a typed CVec", errs.ErrUnsupported, t)
	}
	if v.Len == 0 {
		return nil, nil
	}
	if c.Mem == nil {
		return nil, fmt.Errorf("%w: no memory reader for %s", errs.ErrUnsupported, t)
	}
	esize, err := c.SizeOf(t.Elem)
	if err != nil {
		return nil, err
	}
	n, err := safecast.Conv[int](v.Len)
	if err != nil {
		return nil, err
	}
	raw, err := c.Mem.Read(v.Ptr, n*esize)
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		if out[i], err = c.Decode(t.Elem, raw[i*esize:]); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}
