// Package config holds the build configuration that enters every cache key and
// the rsbridge.toml loader.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Emit selects the artifact kind produced by the toolchain.
type Emit string

const (
	// EmitShared produces a dynamically loadable library (cdylib).
	EmitShared Emit = "shared"
	// EmitLLVMIR produces textual LLVM IR.
	EmitLLVMIR Emit = "llvm-ir"
)

// BuildConfig is immutable once constructed; pass it by value.
type BuildConfig struct {
	OptLevel     int    // 0..3
	DebugInfo    bool   // emit debug info (-g)
	TargetTriple string // empty means host
	DebugMode    bool   // keep diagnostics verbose, enable debug assertions
	DebugDir     string // retain generated sources here when non-empty
	Emit         Emit
}

// DefaultBuildConfig returns an optimized host build.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		OptLevel:     3,
		TargetTriple: HostTriple(),
		Emit:         EmitShared,
	}
}

// Normalize fills defaults and validates ranges.
func (c BuildConfig) Normalize() (BuildConfig, error) {
	if c.OptLevel < 0 || c.OptLevel > 3 {
		return c, fmt.Errorf("optimization level %d out of range 0..3", c.OptLevel)
	}
	if c.TargetTriple == "" {
		c.TargetTriple = HostTriple()
	}
	switch c.Emit {
	case "":
		c.Emit = EmitShared
	case EmitShared, EmitLLVMIR:
	default:
		return c, fmt.Errorf("unknown emit kind %q (expected: shared|llvm-ir)", c.Emit)
	}
	if c.DebugDir != "" {
		abs, err := filepath.Abs(c.DebugDir)
		if err != nil {
			return c, fmt.Errorf("failed to resolve debug dir: %w", err)
		}
		c.DebugDir = abs
	}
	return c, nil
}

// Canonical is the deterministic encoding that enters the cache key.
// DebugDir does not enter the key.
func (c BuildConfig) Canonical() string {
	emit := c.Emit
	if emit == "" {
		emit = EmitShared
	}
	triple := c.TargetTriple
	if triple == "" {
		triple = HostTriple()
	}
	parts := []string{
		"opt=" + strconv.Itoa(c.OptLevel),
		"debuginfo=" + strconv.FormatBool(c.DebugInfo),
		"target=" + triple,
		"debug=" + strconv.FormatBool(c.DebugMode),
		"emit=" + string(emit),
	}
	return strings.Join(parts, ";")
}

// ArtifactExt returns the platform-appropriate extension for the artifact kind.
func (c BuildConfig) ArtifactExt() string {
	if c.Emit == EmitLLVMIR {
		return ".ll"
	}
	triple := c.TargetTriple
	if triple == "" {
		triple = HostTriple()
	}
	switch {
	case strings.Contains(triple, "windows"):
		return ".dll"
	case strings.Contains(triple, "apple"), strings.Contains(triple, "darwin"):
		return ".dylib"
	default:
		return ".so"
	}
}

// HostTriple maps the running platform to a guest target triple.
func HostTriple() string {
	return TripleFor(runtime.GOOS, runtime.GOARCH)
}

// TripleFor maps GOOS/GOARCH to a target triple.
func TripleFor(goos, goarch string) string {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	case "riscv64":
		arch = "riscv64gc"
	}
	switch goos {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	case "linux":
		return arch + "-unknown-linux-gnu"
	default:
		return arch + "-unknown-" + goos
	}
}
