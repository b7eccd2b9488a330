package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"

	"rsbridge/internal/abi"
	"rsbridge/internal/ffi"
	"rsbridge/internal/thunk"
)

// thunkFor returns the address of the thunk for sig, building and loading
// it on first use.
func (d *Dispatcher) thunkFor(ctx context.Context, sig abi.Signature) (uintptr, error) {
	ptrSize := d.engine.Target.PtrSize
	name := thunk.Name(sig, d.cc, ptrSize)

	d.thunkMu.Lock()
	defer d.thunkMu.Unlock()
	if art, ok := d.thunkLibs[name]; ok {
		return art.resolve(name)
	}
	th, err := thunk.Generate(sig, d.cc, ptrSize)
	if err != nil {
		return 0, err
	}
	entry, err := d.thunks.BuildThunk(ctx, th)
	if err != nil {
		return 0, fmt.Errorf("build thunk %s: %w", th.Name, err)
	}
	lib, err := d.backend.Open(entry.ArtifactPath)
	if err != nil {
		return 0, fmt.Errorf("load thunk %s: %w", th.Name, err)
	}
	art := &Artifact{Key: entry.Key, Name: th.Name, Path: entry.ArtifactPath, lib: lib, symbols: make(map[string]uintptr)}
	d.thunkLibs[name] = art
	return art.resolve(name)
}

func (d *Dispatcher) putPtr(b []byte, p uintptr) {
	if d.engine.Target.PtrSize == 4 {
		binary.LittleEndian.PutUint32(b, uint32(p))
		return
	}
	binary.LittleEndian.PutUint64(b, uint64(p))
}

// callThunk stages argument images in guest memory and calls
// thunk(fn, argv, ret) through the uniform signature.
func (d *Dispatcher) callThunk(ctx context.Context, arena ffi.Arena, fn uintptr, sig abi.Signature, images [][]byte, ret []byte) error {
	th, err := d.thunkFor(ctx, sig)
	if err != nil {
		return err
	}
	ptrSize := d.engine.Target.PtrSize
	argvAddr, argv, err := arena.Alloc(max(len(images), 1) * ptrSize)
	if err != nil {
		return err
	}
	for i, img := range images {
		addr, buf, err := arena.Alloc(max(len(img), 1))
		if err != nil {
			return err
		}
		copy(buf, img)
		d.putPtr(argv[i*ptrSize:], addr)
	}
	retAddr, _, err := arena.Alloc(max(len(ret), 8))
	if err != nil {
		return err
	}

	uniform := thunk.Signature()
	ptrImg := func(p uintptr) []byte {
		b := make([]byte, ptrSize)
		d.putPtr(b, p)
		return b
	}
	if err := d.backend.Call(th, uniform, [][]byte{ptrImg(fn), ptrImg(argvAddr), ptrImg(retAddr)}, nil); err != nil {
		return err
	}
	if len(ret) == 0 {
		return nil
	}
	out, err := d.backend.Memory().Read(retAddr, len(ret))
	if err != nil {
		return err
	}
	copy(ret, out)
	return nil
}
