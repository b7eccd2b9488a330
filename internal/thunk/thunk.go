// Package thunk generates LLVM IR call thunks with an explicit calling
// convention. A thunk has the uniform shape
//
//	void rsb_thunk_<hash>(ptr fn, ptr argv, ptr ret)
//
// and forwards argv[i] to fn, storing the result through ret. Thunks are
// compiled to shared objects by clang and cached like any other artifact.
package thunk

import (
	"errors"
	"fmt"
	"strings"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
)

// CallConv is an LLVM calling convention keyword.
type CallConv string

const (
	CCC    CallConv = "ccc"
	FastCC CallConv = "fastcc"
	SysV   CallConv = "x86_64_sysvcc"
	Win64  CallConv = "win64cc"
)

// ErrNoCallConv is returned when a thunk is requested without a calling convention.
var ErrNoCallConv = errors.New("calling convention must be stated explicitly")

// ParseCallConv validates a calling convention name.
func ParseCallConv(s string) (CallConv, error) {
	switch cc := CallConv(strings.TrimSpace(s)); cc {
	case "":
		return "", ErrNoCallConv
	case CCC, FastCC, SysV, Win64:
		return cc, nil
	}
	return "", fmt.Errorf("unknown calling convention %q (expected: ccc|fastcc|x86_64_sysvcc|win64cc)", s)
}

// Thunk is a generated forwarding function.
type Thunk struct {
	Name string
	Sig  abi.Signature
	CC   CallConv
	IR   string
}

// Unit wraps the IR as a build unit for the IR toolchain.
func (t *Thunk) Unit() *source.Unit {
	return &source.Unit{Name: t.Name, Text: t.IR}
}

// Signature is the uniform native signature every thunk has.
func Signature() abi.Signature {
	p := abi.PtrTo(nil, false)
	return abi.Signature{Params: []*abi.Type{p, p, p}, Return: abi.Scalar(abi.Void)}
}

// Name returns the deterministic thunk symbol for sig under cc.
func Name(sig abi.Signature, cc CallConv, ptrSize int) string {
	d := project.SumParts("thunk", sig.String(), string(cc), fmt.Sprint(ptrSize))
	return "rsb_thunk_" + d.Hex()[:16]
}

type llvmType struct {
	ty    string // as passed to the callee
	mem   string // as stored in memory
	attr  string // signext / zeroext
	align int
}

func lower(t *abi.Type, ptrSize int) (llvmType, error) {
	word := "i64"
	if ptrSize == 4 {
		word = "i32"
	}
	switch t.Kind {
	case abi.I8:
		return llvmType{"i8", "i8", "signext", 1}, nil
	case abi.U8:
		return llvmType{"i8", "i8", "zeroext", 1}, nil
	case abi.Bool:
		return llvmType{"i1", "i8", "zeroext", 1}, nil
	case abi.I16:
		return llvmType{"i16", "i16", "signext", 2}, nil
	case abi.U16:
		return llvmType{"i16", "i16", "zeroext", 2}, nil
	case abi.I32, abi.U32, abi.Char:
		return llvmType{"i32", "i32", "", 4}, nil
	case abi.I64, abi.U64:
		return llvmType{"i64", "i64", "", 8}, nil
	case abi.Isize, abi.Usize:
		return llvmType{word, word, "", ptrSize}, nil
	case abi.F32:
		return llvmType{"float", "float", "", 4}, nil
	case abi.F64:
		return llvmType{"double", "double", "", 8}, nil
	case abi.Ptr, abi.CStr:
		return llvmType{"ptr", "ptr", "", ptrSize}, nil
	}
	// агрегаты идут через libffi
	return llvmType{}, fmt.Errorf("%w: %s cannot pass through a thunk", errs.ErrUnsupported, t)
}

// Supported reports whether every type of sig can pass through a thunk.
func Supported(sig abi.Signature, ptrSize int) bool {
	for _, p := range sig.Params {
		if _, err := lower(p, ptrSize); err != nil {
			return false
		}
	}
	if sig.Return.IsVoid() {
		return true
	}
	_, err := lower(sig.Return, ptrSize)
	return err == nil
}

// Generate emits the thunk for sig. ptrSize is the target pointer width.
func Generate(sig abi.Signature, cc CallConv, ptrSize int) (*Thunk, error) {
	if cc == "" {
		return nil, ErrNoCallConv
	}
	if _, err := ParseCallConv(string(cc)); err != nil {
		return nil, err
	}
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("unsupported pointer size %d", ptrSize)
	}
	params := make([]llvmType, len(sig.Params))
	for i, p := range sig.Params {
		lt, err := lower(p, ptrSize)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		params[i] = lt
	}
	var ret llvmType
	if !sig.Return.IsVoid() {
		lt, err := lower(sig.Return, ptrSize)
		if err != nil {
			return nil, fmt.Errorf("return: %w", err)
		}
		ret = lt
	}

	name := Name(sig, cc, ptrSize)
	var buf strings.Builder
	fmt.Fprintf(&buf, "; %s %s\n", cc, sig)
	fmt.Fprintf(&buf, "define void @%s(ptr %%fn, ptr %%argv, ptr %%ret) {\n", name)
	buf.WriteString("entry:\n")

	args := make([]string, len(params))
	for i, p := range params {
		fmt.Fprintf(&buf, "  %%a%d.slot = getelementptr inbounds ptr, ptr %%argv, i64 %d\n", i, i)
		fmt.Fprintf(&buf, "  %%a%d.addr = load ptr, ptr %%a%d.slot, align %d\n", i, i, ptrSize)
		val := fmt.Sprintf("%%a%d", i)
		if p.ty != p.mem {
			fmt.Fprintf(&buf, "  %%a%d.raw = load %s, ptr %%a%d.addr, align %d\n", i, p.mem, i, p.align)
			fmt.Fprintf(&buf, "  %s = trunc %s %%a%d.raw to %s\n", val, p.mem, i, p.ty)
		} else {
			fmt.Fprintf(&buf, "  %s = load %s, ptr %%a%d.addr, align %d\n", val, p.ty, i, p.align)
		}
		arg := p.ty
		if p.attr != "" {
			arg += " " + p.attr
		}
		args[i] = arg + " " + val
	}

	call := strings.Join(args, ", ")
	if sig.Return.IsVoid() {
		fmt.Fprintf(&buf, "  call %s void %%fn(%s)\n", cc, call)
	} else {
		rty := ret.ty
		if ret.attr != "" {
			rty = ret.attr + " " + rty
		}
		fmt.Fprintf(&buf, "  %%r = call %s %s %%fn(%s)\n", cc, rty, call)
		rv := "%r"
		if ret.ty != ret.mem {
			fmt.Fprintf(&buf, "  %%r.wide = zext %s %%r to %s\n", ret.ty, ret.mem)
			rv = "%r.wide"
		}
		fmt.Fprintf(&buf, "  store %s %s, ptr %%ret, align %d\n", ret.mem, rv, ret.align)
	}
	buf.WriteString("  ret void\n}\n")

	return &Thunk{Name: name, Sig: sig, CC: cc, IR: buf.String()}, nil
}
