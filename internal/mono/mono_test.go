package mono

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"rsbridge/internal/ast"
	"rsbridge/internal/errs"
)

const largestSrc = `pub fn largest<T: PartialOrd + Copy>(xs: &[T]) -> T
where
    T: std::fmt::Debug,
{
    let mut m: T = xs[0];
    for &x in xs.iter() {
        if x > m { m = x; }
    }
    m
}
`

func find(t *testing.T, src, name string) *GenericInfo {
	t.Helper()
	info, err := Find(src, name)
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func hostTypes(t *testing.T, args ...any) []*ast.Type {
	t.Helper()
	out, err := HostTypes(args)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInferFromHostValues(t *testing.T) {
	info := find(t, `fn pair<T: Copy, U: Copy>(a: T, b: U) -> f64 { 0.0 }`, "pair")
	b, err := InferBindings(info, hostTypes(t, int32(1), 2.5))
	if err != nil {
		t.Fatal(err)
	}
	if b["T"] != "i32" || b["U"] != "f64" {
		t.Fatalf("bindings = %v", b)
	}
	if b.Key(info.Params()) != "T=i32,U=f64" {
		t.Fatalf("key = %s", b.Key(info.Params()))
	}
}

func TestInferRepeatedParam(t *testing.T) {
	info := find(t, `fn mix<T: Copy, U: Copy>(x: T, y: T, z: U) -> f64 { 0.0 }`, "mix")
	b, err := InferBindings(info, hostTypes(t, int32(1), int32(2), 3.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b["T"] != "i32" || b["U"] != "f64" {
		t.Fatalf("bindings = %v", b)
	}
}

func TestTripleNestedContainer(t *testing.T) {
	src := "pub fn first<T: Clone>(v: &Vec<Vec<Vec<T>>>) -> T { v[0][0][0].clone() }"
	info := find(t, src, "first")
	actual, err := parseTypes("Vec<Vec<Vec<i64>>>")
	if err != nil {
		t.Fatal(err)
	}
	b, err := InferBindings(info, actual)
	if err != nil {
		t.Fatal(err)
	}
	if b["T"] != "i64" {
		t.Fatalf("T = %s", b["T"])
	}
	inst, err := Specialize(info, b)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Symbol != "first__i64" {
		t.Fatalf("symbol = %s", inst.Symbol)
	}
	if !strings.Contains(inst.Fn, "(v: &Vec<Vec<Vec<i64>>>) -> i64") {
		t.Fatalf("fn = %s", inst.Fn)
	}
	if inst.Signature.Params[0].Type != "&Vec<Vec<Vec<i64>>>" || inst.Signature.Return != "i64" {
		t.Fatalf("signature = %+v", inst.Signature)
	}
}

func parseTypes(spellings ...string) ([]*ast.Type, error) {
	var out []*ast.Type
	for _, s := range spellings {
		b, err := parseBinding(&GenericInfo{}, "", s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func TestConflictAndUnderdetermined(t *testing.T) {
	same := find(t, "fn same<T>(a: T, b: T) -> bool { true }", "same")
	_, err := InferBindings(same, hostTypes(t, int32(1), 1.5))
	var re *errs.ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, errs.ErrConflict) || re.TypeParam != "T" {
		t.Fatalf("expected conflict on T, got %v", err)
	}

	mk := find(t, "fn make<T: Default>() -> T { T::default() }", "make")
	if _, err := InferBindings(mk, nil); !errors.Is(err, errs.ErrUnderdetermined) {
		t.Fatalf("expected underdetermined, got %v", err)
	}
	b, err := InferPartial(mk, nil, Bindings{"T": "Vec<i32>"})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := Specialize(mk, b)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inst.Fn, "<Vec<i32>>::default()") || !strings.Contains(inst.Fn, "-> Vec<i32>") {
		t.Fatalf("fn = %s", inst.Fn)
	}
	if inst.Symbol != "make__Vec_i32" {
		t.Fatalf("symbol = %s", inst.Symbol)
	}

	if _, err := InferBindings(same, hostTypes(t, int32(1))); !errors.Is(err, errs.ErrArity) {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestDefaultsAndIgnoredParams(t *testing.T) {
	info := find(t, "fn conv<T, U = i64>(a: T, n: usize) -> U { a as U }", "conv")
	b, err := InferBindings(info, hostTypes(t, int32(3), "ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if b["T"] != "i32" || b["U"] != "i64" {
		t.Fatalf("bindings = %v", b)
	}
}

func TestLifetimeOnlyIsNotGeneric(t *testing.T) {
	infos, err := Analyze("fn l<'a>(x: &'a str) -> &'a str { x }")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("lifetime-only function analyzed as generic: %+v", infos)
	}
}

func TestSpecializeRewrite(t *testing.T) {
	info := find(t, largestSrc, "largest")
	if len(info.Constraints["T"]) != 3 {
		t.Fatalf("constraints = %v", info.Constraints["T"])
	}
	inst, err := Specialize(info, Bindings{"T": "f64"})
	if err != nil {
		t.Fatal(err)
	}
	want := "#[no_mangle]\npub extern \"C\" fn largest__f64(xs: &[f64]) -> f64 {\n    let mut m: f64 = xs[0];"
	if !strings.HasPrefix(inst.Fn, want) {
		t.Fatalf("fn =\n%s", inst.Fn)
	}
	if strings.Contains(inst.Fn, "where") || strings.Contains(inst.Fn, "<T") {
		t.Fatalf("generic residue in\n%s", inst.Fn)
	}
	if !strings.HasPrefix(inst.Source, largestSrc[:len(largestSrc)-1]) || !strings.HasSuffix(inst.Source, inst.Fn+"\n") {
		t.Fatal("instance source must be the original followed by the specialization")
	}

	fld := find(t, "pub fn fld<T>(p: Wrap<T>) -> T { p.T }", "fld")
	inst, err = Specialize(fld, Bindings{"T": "i32"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(inst.Fn, "(p: Wrap<i32>) -> i32 { p.T }") {
		t.Fatalf("field access rewritten: %s", inst.Fn)
	}

	life := find(t, "pub fn pick<'a, T>(xs: &'a [T], i: usize) -> &'a T { &xs[i] }", "pick")
	inst, err = Specialize(life, Bindings{"T": "u8"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inst.Fn, "fn pick__u8<'a>(xs: &'a [u8], i: usize) -> &'a u8") {
		t.Fatalf("lifetimes dropped: %s", inst.Fn)
	}

	if _, err := Specialize(info, Bindings{}); !errors.Is(err, errs.ErrUnderdetermined) {
		t.Fatalf("missing binding: %v", err)
	}
}

func TestConstParams(t *testing.T) {
	info := find(t, "fn total<const N: usize>(a: [i32; N]) -> i32 { let mut s = 0; for i in 0..N { s += a[i]; } s }", "total")
	b, err := InferBindings(info, hostTypes(t, [4]int32{}))
	if err != nil {
		t.Fatal(err)
	}
	if b["N"] != "4" {
		t.Fatalf("N = %q", b["N"])
	}
	inst, err := Specialize(info, b)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Symbol != "total__4" || inst.Signature.Params[0].Type != "[i32; 4]" || !strings.Contains(inst.Fn, "0..4") {
		t.Fatalf("instance = %+v", inst)
	}
}

func TestMangle(t *testing.T) {
	cases := map[string]string{
		"i32":                      "i32",
		"Vec<i32>":                 "Vec_i32",
		"&str":                     "str",
		"(i32, f64)":               "i32_f64",
		"[u8; 4]":                  "u8_4",
		"HashMap<String, Vec<u8>>": "HashMap_String_Vec_u8",
	}
	for in, want := range cases {
		if got := Mangle(in); got != want {
			t.Fatalf("Mangle(%q) = %q want %q", in, got, want)
		}
	}
	if got := MangledName("f", []string{"T", "U"}, map[string]string{"T": "i32", "U": "&str"}); got != "f__i32_str" {
		t.Fatalf("mangled = %s", got)
	}
}

func TestCheckBounds(t *testing.T) {
	info := find(t, "fn mx<T: Ord + Copy>(a: T, b: T) -> T { if a > b { a } else { b } }", "mx")
	if err := CheckBounds(info, Bindings{"T": "f64"}); !errors.Is(err, errs.ErrBound) {
		t.Fatalf("f64 is not Ord: %v", err)
	}
	if err := CheckBounds(info, Bindings{"T": "i32"}); err != nil {
		t.Fatal(err)
	}
	if err := CheckBounds(info, Bindings{"T": "MyType"}); err != nil {
		t.Fatal("unknown types are not checked")
	}
	neg := find(t, "fn n<T: std::ops::Neg>(a: T) -> T { -a }", "n")
	if err := CheckBounds(neg, Bindings{"T": "u32"}); !errors.Is(err, errs.ErrBound) {
		t.Fatalf("u32 is not Neg: %v", err)
	}
}

func TestRegistryCachesInstances(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RegisterSource(largestSrc + "\nfn mx<T: Ord>(a: T) -> T { a }\n"); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(r.Names(), ","); got != "largest,mx" {
		t.Fatalf("names = %s", got)
	}
	args := hostTypes(t, []float64{1})
	var wg sync.WaitGroup
	results := make([]*Instance, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := r.Instantiate("largest", args)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = inst
		}(i)
	}
	wg.Wait()
	for _, inst := range results {
		if inst != results[0] {
			t.Fatal("instances are not shared")
		}
	}
	if len(r.Instances("largest")) != 1 {
		t.Fatalf("instances = %d", len(r.Instances("largest")))
	}
	if _, err := r.Instantiate("mx", hostTypes(t, 1.5)); !errors.Is(err, errs.ErrBound) {
		t.Fatalf("expected bound error, got %v", err)
	}
	if _, err := r.Instantiate("missing", nil); err == nil {
		t.Fatal("expected unknown function error")
	}
	info, _ := r.Lookup("largest")
	r.Register(info)
	if len(r.Instances("largest")) != 0 {
		t.Fatal("re-registering must drop instances")
	}
}

func TestHostTypes(t *testing.T) {
	got := hostTypes(t, int32(1), 2.0, "s", true, []int64{1}, uintptr(0), uint8(1), 7)
	want := []string{"i32", "f64", "&str", "bool", "[i64]", "usize", "u8", "i64"}
	for i, ty := range got {
		if ty.String() != want[i] {
			t.Fatalf("arg %d: %s want %s", i, ty, want[i])
		}
	}
	for _, bad := range []any{nil, struct{}{}, map[string]int{}} {
		if _, err := HostType(bad); !errors.Is(err, errs.ErrUnsupported) {
			t.Fatalf("%T: expected unsupported, got %v", bad, err)
		}
	}
}
