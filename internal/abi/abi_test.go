package abi

import (
	"errors"
	"reflect"
	"testing"

	"rsbridge/internal/errs"
	"rsbridge/internal/layout"
	"rsbridge/internal/testkit"
)

const structSrc = `
#[repr(C)]
pub struct Point { pub x: f64, pub y: f64 }

#[repr(C, packed)]
struct Packed { a: u8, b: u32 }

#[repr(C)]
struct Node { value: i32, next: *mut Node }

#[repr(C, align(16))]
struct Wide(u8);

struct Plain { a: i32 }
`

func newCodec(t *testing.T) (*Codec, *testkit.Heap) {
	t.Helper()
	heap := testkit.NewHeap()
	return NewCodec(layout.New(layout.X86_64LinuxGNU()), heap, heap), heap
}

func TestRegistryParse(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		in   string
		kind Kind
		out  string
	}{
		{"i32", I32, "i32"},
		{"c_int", I32, "i32"},
		{"usize", Usize, "usize"},
		{"&str", Str, "&str"},
		{"RustStr", Str, "&str"},
		{"*const c_char", CStr, "*const c_char"},
		{"*mut u8", Ptr, "*mut u8"},
		{"&i32", Ptr, "*const i32"},
		{"*const c_void", Ptr, "*const c_void"},
		{"COption<f64>", Option, "COption<f64>"},
		{"CResult<i32, u8>", Result, "CResult<i32, u8>"},
		{"Vec<i64>", Vec, "CVec<i64>"},
		{"CVec", Vec, "CVec"},
		{"[u8; 4]", Array, "[u8; 4]"},
		{"()", Void, "()"},
		{"fn(i32) -> i32", Ptr, "*const c_void"},
		{"Option<&i32>", Ptr, "*mut c_void"},
		{"char", Char, "char"},
	}
	for _, tc := range cases {
		got, err := r.Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.String() != tc.out {
			t.Fatalf("Parse(%q) = %v (%s), want %v (%s)", tc.in, got.Kind, got, tc.kind, tc.out)
		}
	}
	for _, bad := range []string{"String", "HashMap<K, V>", "(i32, i32)", "[u8; N]", "Plain"} {
		if _, err := r.Parse(bad); !errors.Is(err, errs.ErrUnsupported) {
			t.Fatalf("Parse(%q) error = %v, want ErrUnsupported", bad, err)
		}
	}
}

func TestRegisterStructs(t *testing.T) {
	r := NewRegistry()
	types, err := r.RegisterSource(structSrc)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 4 {
		t.Fatalf("registered %d structs, want 4", len(types))
	}
	node, ok := r.Struct("Node")
	if !ok || node.Fields[1].Type.Kind != Ptr || node.Fields[1].Type.Elem != node {
		t.Fatalf("Node.next does not point back to Node: %+v", node)
	}
	if _, ok := r.Struct("Plain"); ok {
		t.Fatal("non-repr(C) struct registered")
	}

	eng := layout.New(layout.X86_64LinuxGNU())
	for _, tc := range []struct {
		name        string
		size, align int
	}{
		{"Point", 16, 8},
		{"Packed", 5, 1},
		{"Node", 16, 8},
		{"Wide", 16, 16},
	} {
		st, _ := r.Struct(tc.name)
		l, err := eng.LayoutOf(st)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if l.Size != tc.size || l.Align != tc.align {
			t.Fatalf("%s layout = %d/%d, want %d/%d", tc.name, l.Size, l.Align, tc.size, tc.align)
		}
	}
	wide, _ := r.Struct("Wide")
	if wide.Fields[0].Name != "0" {
		t.Fatalf("tuple field name = %q", wide.Fields[0].Name)
	}

	sig, err := r.ParseSignature([]string{"&Point", "Point"}, "COption<Point>")
	if err != nil {
		t.Fatal(err)
	}
	if got := sig.String(); got != "fn(*const Point, Point) -> COption<Point>" {
		t.Fatalf("signature = %s", got)
	}
}

func TestScalarsRoundTrip(t *testing.T) {
	c, _ := newCodec(t)
	cases := []struct {
		kind Kind
		in   any
		want any
	}{
		{I8, -5, int8(-5)},
		{I16, int16(-300), int16(-300)},
		{I32, int64(123456), int32(123456)},
		{I64, -1, int64(-1)},
		{Isize, -2, int64(-2)},
		{U8, uint(255), uint8(255)},
		{U16, 65535, uint16(65535)},
		{U32, uint64(7), uint32(7)},
		{U64, uint64(1 << 63), uint64(1 << 63)},
		{Usize, 9, uint64(9)},
		{F32, 1.5, float32(1.5)},
		{F64, float32(0.25), 0.25},
		{Bool, true, true},
		{Char, 'λ', 'λ'},
	}
	for _, tc := range cases {
		typ := Scalar(tc.kind)
		b, err := c.Encode(typ, tc.in)
		if err != nil {
			t.Fatalf("Encode(%s, %v): %v", typ, tc.in, err)
		}
		got, err := c.Decode(typ, b)
		if err != nil {
			t.Fatalf("Decode(%s): %v", typ, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %#v, want %#v", typ, got, tc.want)
		}
	}
}

func TestIntegersAreRangeChecked(t *testing.T) {
	c, _ := newCodec(t)
	for _, tc := range []struct {
		kind Kind
		in   any
	}{
		{U8, 300},
		{U32, -1},
		{I8, uint8(200)},
		{I64, uint64(1 << 63)},
	} {
		if _, err := c.Encode(Scalar(tc.kind), tc.in); !errors.Is(err, errs.ErrUnsupported) {
			t.Fatalf("Encode(%s, %v) error = %v", tc.kind, tc.in, err)
		}
	}
	if _, err := c.Encode(Scalar(I32), "x"); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("string as i32: %v", err)
	}
	if _, err := c.Encode(PtrTo(nil, false), "x"); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("string as pointer: %v", err)
	}
}

func TestStringsThroughGuestMemory(t *testing.T) {
	c, heap := newCodec(t)
	str := &Type{Kind: Str}
	b, err := c.Encode(str, "héllo")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 16 {
		t.Fatalf("&str image is %d bytes", len(b))
	}
	got, err := c.Decode(str, b)
	if err != nil || got != "héllo" {
		t.Fatalf("Decode(&str) = %v, %v", got, err)
	}

	cstr := &Type{Kind: CStr}
	b, err = c.Encode(cstr, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := c.Decode(cstr, b); err != nil || got != "abc" {
		t.Fatalf("Decode(cstr) = %v, %v", got, err)
	}
	if _, err := c.Encode(cstr, "a\x00b"); err == nil {
		t.Fatal("interior NUL accepted")
	}
	null, _ := c.Encode(cstr, nil)
	if got, err := c.Decode(cstr, null); err != nil || got != nil {
		t.Fatalf("null cstr = %v, %v", got, err)
	}
	if heap.Live() != 2 {
		t.Fatalf("heap holds %d blocks, want 2", heap.Live())
	}
}

func TestOptionAndResult(t *testing.T) {
	c, _ := newCodec(t)
	opt := OptionOf(Scalar(F64))
	b, err := c.Encode(opt, Some(2.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 16 || b[0] != 1 {
		t.Fatalf("COption<f64> image = %v", b)
	}
	if got, _ := c.Decode(opt, b); !reflect.DeepEqual(got, Some(2.5)) {
		t.Fatalf("decoded %#v", got)
	}
	b, _ = c.Encode(opt, nil)
	if got, _ := c.Decode(opt, b); !reflect.DeepEqual(got, None()) {
		t.Fatalf("decoded %#v, want None", got)
	}
	// голое значение считается Some
	b, _ = c.Encode(opt, 4.0)
	if got, _ := c.Decode(opt, b); !reflect.DeepEqual(got, Some(4.0)) {
		t.Fatalf("decoded %#v", got)
	}

	res := ResultOf(Scalar(I32), Scalar(U8))
	for _, v := range []ResultValue{Ok(int32(-9)), Err(uint8(7))} {
		b, err := c.Encode(res, v)
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != 12 {
			t.Fatalf("CResult<i32, u8> is %d bytes", len(b))
		}
		got, err := c.Decode(res, b)
		if err != nil || !reflect.DeepEqual(got, v) {
			t.Fatalf("decoded %#v, %v; want %#v", got, err, v)
		}
	}
	unit := ResultOf(Scalar(Void), &Type{Kind: CStr})
	b, err = c.Encode(unit, Ok(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Decode(unit, b); !reflect.DeepEqual(got, Ok(nil)) {
		t.Fatalf("decoded %#v", got)
	}
}

func TestStructsVecsAndArrays(t *testing.T) {
	c, heap := newCodec(t)
	r := NewRegistry()
	if _, err := r.RegisterSource(structSrc); err != nil {
		t.Fatal(err)
	}
	point, _ := r.Struct("Point")
	in := StructValue{Name: "Point", Fields: []any{1.0, -2.0}}
	b, err := c.Encode(point, in)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(point, b)
	if err != nil || !reflect.DeepEqual(got, in) {
		t.Fatalf("decoded %#v, %v", got, err)
	}
	if y, ok := got.(StructValue).Field(point, "y"); !ok || y != -2.0 {
		t.Fatalf("field y = %v", y)
	}
	if _, err := c.Encode(point, []any{1.0}); !errors.Is(err, errs.ErrArity) {
		t.Fatalf("short struct error = %v", err)
	}

	vec := VecOf(Scalar(I64))
	b, err = c.Encode(vec, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(vec, b)
	if err != nil {
		t.Fatal(err)
	}
	cv := v.(VecValue)
	if cv.Len != 3 || cv.Cap != 3 || cv.Ptr == 0 {
		t.Fatalf("CVec = %+v", cv)
	}
	elems, err := c.ReadVec(vec, cv)
	if err != nil || !reflect.DeepEqual(elems, []any{int64(1), int64(2), int64(3)}) {
		t.Fatalf("ReadVec = %v, %v", elems, err)
	}
	raw, _ := heap.Read(cv.Ptr, 8)
	if raw[0] != 1 {
		t.Fatalf("first element bytes = %v", raw)
	}

	arr := ArrayOf(Scalar(U8), 4)
	b, err = c.Encode(arr, [4]uint8{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Decode(arr, b); !reflect.DeepEqual(got, []any{uint8(1), uint8(2), uint8(3), uint8(4)}) {
		t.Fatalf("array = %v", got)
	}
	if _, err := c.Encode(arr, []uint8{1}); !errors.Is(err, errs.ErrArity) {
		t.Fatalf("short array error = %v", err)
	}
}

func TestThirtyTwoBitTarget(t *testing.T) {
	heap := testkit.NewHeap()
	c := NewCodec(layout.New(layout.I686LinuxGNU()), heap, heap)
	for _, tc := range []struct {
		typ  *Type
		size int
	}{
		{Scalar(Usize), 4},
		{&Type{Kind: Str}, 8},
		{VecOf(Scalar(F64)), 12},
		{OptionOf(Scalar(F64)), 12},
	} {
		n, err := c.SizeOf(tc.typ)
		if err != nil || n != tc.size {
			t.Fatalf("SizeOf(%s) = %d, %v; want %d", tc.typ, n, err, tc.size)
		}
	}
	b, err := c.Encode(Scalar(Isize), -3)
	if err != nil || len(b) != 4 {
		t.Fatalf("isize image = %v, %v", b, err)
	}
	if got, _ := c.Decode(Scalar(Isize), b); got != int64(-3) {
		t.Fatalf("isize decoded %v", got)
	}
	if _, err := c.Encode(Scalar(Usize), uint64(1<<40)); err == nil {
		t.Fatal("usize overflow accepted on 32-bit target")
	}
}

func TestPointerValues(t *testing.T) {
	c, _ := newCodec(t)
	p := PtrTo(Scalar(I32), true)
	b, err := c.Encode(p, Pointer{Addr: 0xdead})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := c.Decode(p, b)
	if ptr := got.(Pointer); ptr.Addr != 0xdead || ptr.RustType() != "*mut i32" {
		t.Fatalf("pointer = %v", got)
	}
	if !(Pointer{}).IsNull() || (Pointer{}).RustType() != "*mut c_void" {
		t.Fatal("zero Pointer")
	}
}
