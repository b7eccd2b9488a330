package buildpipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"rsbridge/internal/config"
	"rsbridge/internal/observ"
	"rsbridge/internal/project"
	"rsbridge/internal/trace"
)

// SourceStem is the file name (without extension) of the source written into
// every workspace. rustc derives the crate name from it.
const SourceStem = "snippet"

// Options tune an Invoker.
type Options struct {
	MaxParallel int           // 0 means unbounded
	Timeout     time.Duration // 0 means no deadline beyond ctx
	Sink        ProgressSink
	Logger      *slog.Logger
}

// Invoker runs a toolchain in isolated, always-cleaned workspaces.
type Invoker struct {
	toolchain Toolchain
	tmpRoot   string
	opts      Options
	sem       *semaphore.Weighted
}

// NewInvoker creates an invoker whose workspaces live under tmpRoot.
func NewInvoker(tc Toolchain, tmpRoot string, opts Options) *Invoker {
	iv := &Invoker{toolchain: tc, tmpRoot: tmpRoot, opts: opts}
	if opts.MaxParallel > 0 {
		iv.sem = semaphore.NewWeighted(int64(opts.MaxParallel))
	}
	if iv.opts.Logger == nil {
		iv.opts.Logger = slog.Default()
	}
	return iv
}

// Toolchain returns the underlying toolchain.
func (iv *Invoker) Toolchain() Toolchain { return iv.toolchain }

// Job is one build request.
type Job struct {
	Key    project.Digest
	Name   string
	Text   string
	Config config.BuildConfig
	Dest   string // final artifact path
}

// Result describes a successful build.
type Result struct {
	Timings   Timings
	Phases    []observ.Phase
	Workspace string // non-empty only when the workspace was retained
}

// Build compiles job.Text and moves the artifact to job.Dest.
// The workspace is removed on every exit path unless Config.DebugDir is set.
func (iv *Invoker) Build(ctx context.Context, job Job) (res Result, err error) {
	short := job.Key.Short()
	evt := Event{Name: job.Name, Key: short}
	started := time.Now()

	if iv.sem != nil {
		evt.Stage, evt.Status = StageCompile, StatusQueued
		emit(iv.opts.Sink, evt)
		if err := iv.sem.Acquire(ctx, 1); err != nil {
			return res, fmt.Errorf("waiting for toolchain slot: %w", err)
		}
		defer iv.sem.Release(1)
	}
	if iv.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.opts.Timeout)
		defer cancel()
	}

	ctx, span := trace.StartSpan(ctx, trace.ScopeBuild, iv.toolchain.Name())
	span.WithExtra("key", short).WithExtra("unit", job.Name)
	timer := observ.NewTimer()
	defer func() {
		detail := "ok"
		if err != nil {
			detail = "failed"
			trace.Failure(trace.FromContext(ctx), trace.ScopeBuild, iv.toolchain.Name(), err)
		}
		span.End(detail)
		res.Phases = timer.Phases()
		evt.Elapsed = time.Since(started)
		if err != nil {
			evt.Status, evt.Err = StatusError, err
		} else {
			evt.Stage, evt.Status = StagePersist, StatusDone
		}
		emit(iv.opts.Sink, evt)
	}()

	// workspace
	evt.Stage, evt.Status = StageWorkspace, StatusWorking
	emit(iv.opts.Sink, evt)
	idx := timer.Begin("write_source")
	if err := os.MkdirAll(iv.tmpRoot, 0o750); err != nil {
		return res, fmt.Errorf("failed to create tmp root: %w", err)
	}
	ws, err := os.MkdirTemp(iv.tmpRoot, short+"-")
	if err != nil {
		return res, fmt.Errorf("failed to create workspace: %w", err)
	}
	if job.Config.DebugDir == "" {
		defer func() {
			if rmErr := os.RemoveAll(ws); rmErr != nil {
				iv.opts.Logger.Warn("workspace cleanup failed", "dir", ws, "err", rmErr)
			}
		}()
	} else {
		res.Workspace = ws
	}
	srcPath := filepath.Join(ws, SourceStem+iv.toolchain.SourceExt())
	if err := os.WriteFile(srcPath, []byte(job.Text), 0o600); err != nil {
		return res, fmt.Errorf("failed to write source: %w", err)
	}
	if job.Config.DebugDir != "" {
		if err := retainSource(job.Config.DebugDir, short, job.Name, iv.toolchain.SourceExt(), job.Text); err != nil {
			iv.opts.Logger.Warn("failed to retain debug source", "dir", job.Config.DebugDir, "err", err)
		}
	}
	timer.End(idx, "")
	res.Timings.Set(StageWorkspace, timer.Phases()[idx].Dur)

	// compile
	evt.Stage, evt.Status = StageCompile, StatusWorking
	emit(iv.opts.Sink, evt)
	idx = timer.Begin("compile")
	outPath := filepath.Join(ws, "out"+job.Config.ArtifactExt())
	compileErr := iv.toolchain.Compile(ctx, Invocation{SourcePath: srcPath, OutputPath: outPath, Config: job.Config})
	timer.End(idx, "")
	res.Timings.Set(StageCompile, timer.Phases()[idx].Dur)
	if compileErr != nil {
		return res, NewBuildError(iv.toolchain.Name(), srcPath, job.Text, compileErr)
	}

	// persist
	evt.Stage, evt.Status = StagePersist, StatusWorking
	emit(iv.opts.Sink, evt)
	idx = timer.Begin("persist")
	if err := moveFile(outPath, job.Dest); err != nil {
		return res, fmt.Errorf("failed to persist artifact: %w", err)
	}
	timer.End(idx, "")
	res.Timings.Set(StagePersist, timer.Phases()[idx].Dur)
	return res, nil
}

func retainSource(dir, short, name, ext, text string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, short+"_"+SanitizeName(name)+ext)
	return os.WriteFile(path, []byte(text), 0o600)
}

// SanitizeName keeps a unit name safe for use inside file names.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unit"
	}
	return b.String()
}

// moveFile renames src to dst, copying through a temp file when the rename
// crosses file systems. dst is replaced atomically either way.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src) // #nosec G304 -- workspace path
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o755); err != nil { // #nosec G302 -- shared libraries must be loadable
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}
