package buildpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"rsbridge/internal/config"
)

// Invocation is one toolchain run inside a prepared workspace.
type Invocation struct {
	SourcePath string
	OutputPath string
	Config     config.BuildConfig
}

// Toolchain turns a source file into an artifact.
type Toolchain interface {
	// Name identifies the toolchain in errors and cache metadata.
	Name() string
	// SourceExt is the extension of the file written into the workspace.
	SourceExt() string
	// Version returns the toolchain version string; it enters cache keys.
	Version(ctx context.Context) (string, error)
	// Compile runs the toolchain. A failed run returns *CommandError.
	Compile(ctx context.Context, inv Invocation) error
}

// CommandError is a subprocess failure with captured stderr.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Name, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

func runCommand(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- toolchain path and arguments come from build configuration
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%w)", ctxErr, err)
		}
		return &CommandError{Name: name, Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// versionCache memoizes the first successful --version. Failures are not
// kept, so a cancelled caller does not poison later lookups.
type versionCache struct {
	mu sync.Mutex
	v  string
}

func (c *versionCache) get(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v != "" {
		return c.v, nil
	}
	// #nosec G204 -- name is the configured toolchain binary
	out, err := exec.CommandContext(ctx, name, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", name, err)
	}
	c.v = strings.TrimSpace(string(out))
	return c.v, nil
}

// Rustc compiles guest source into a cdylib or textual LLVM IR.
type Rustc struct {
	Path    string // defaults to "rustc"
	Edition string // defaults to "2021"
	Extra   []string

	ver versionCache
}

// NewRustc returns a rustc toolchain using the binary at path ("" for PATH lookup).
func NewRustc(path string) *Rustc { return &Rustc{Path: path} }

func (r *Rustc) bin() string {
	if r.Path == "" {
		return "rustc"
	}
	return r.Path
}

func (r *Rustc) Name() string { return "rustc" }

func (r *Rustc) SourceExt() string { return ".rs" }

func (r *Rustc) Version(ctx context.Context) (string, error) {
	return r.ver.get(ctx, r.bin())
}

func (r *Rustc) Compile(ctx context.Context, inv Invocation) error {
	if _, err := exec.LookPath(r.bin()); err != nil {
		return fmt.Errorf("rustc not found; install a toolchain with rustup: %w", err)
	}
	return runCommand(ctx, r.bin(), r.Args(inv)...)
}

// Args returns the rustc command line for inv.
func (r *Rustc) Args(inv Invocation) []string {
	edition := r.Edition
	if edition == "" {
		edition = "2021"
	}
	cfg := inv.Config
	args := []string{
		"--edition=" + edition,
		"--crate-type=cdylib",
		"-C", "opt-level=" + strconv.Itoa(cfg.OptLevel),
	}
	if cfg.DebugInfo {
		args = append(args, "-g")
	}
	if cfg.DebugMode {
		args = append(args, "-C", "debug-assertions=on", "-C", "overflow-checks=on")
	}
	if cfg.TargetTriple != "" && cfg.TargetTriple != config.HostTriple() {
		args = append(args, "--target="+cfg.TargetTriple)
	}
	if cfg.Emit == config.EmitLLVMIR {
		args = append(args, "--emit=llvm-ir")
	}
	args = append(args, r.Extra...)
	return append(args, "-o", inv.OutputPath, inv.SourcePath)
}

// ClangIR compiles textual LLVM IR (call thunks) into a shared object.
type ClangIR struct {
	Path string // defaults to "clang"

	ver versionCache
}

// NewClangIR returns a clang toolchain using the binary at path ("" for PATH lookup).
func NewClangIR(path string) *ClangIR { return &ClangIR{Path: path} }

func (c *ClangIR) bin() string {
	if c.Path == "" {
		return "clang"
	}
	return c.Path
}

func (c *ClangIR) Name() string { return "clang" }

func (c *ClangIR) SourceExt() string { return ".ll" }

func (c *ClangIR) Version(ctx context.Context) (string, error) {
	return c.ver.get(ctx, c.bin())
}

func (c *ClangIR) Compile(ctx context.Context, inv Invocation) error {
	if _, err := exec.LookPath(c.bin()); err != nil {
		return errors.New("clang not found; install with: sudo apt-get update && sudo apt-get install -y clang llvm lld")
	}
	return runCommand(ctx, c.bin(), c.Args(inv)...)
}

// Args returns the clang command line for inv.
func (c *ClangIR) Args(inv Invocation) []string {
	cfg := inv.Config
	args := []string{"-x", "ir", "-O" + strconv.Itoa(cfg.OptLevel)}
	if cfg.Emit == config.EmitLLVMIR {
		args = append(args, "-S", "-emit-llvm")
	} else {
		args = append(args, "-shared", "-fPIC")
	}
	if cfg.DebugInfo {
		args = append(args, "-g")
	}
	if cfg.TargetTriple != "" && cfg.TargetTriple != config.HostTriple() {
		args = append(args, "--target="+cfg.TargetTriple)
	}
	return append(args, "-o", inv.OutputPath, inv.SourcePath)
}
