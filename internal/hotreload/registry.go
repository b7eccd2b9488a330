package hotreload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rsbridge/internal/dispatch"
)

// Builder compiles the concatenated sources of a project and loads the
// resulting artifact.
type Builder interface {
	Rebuild(ctx context.Context, name, text string) (*dispatch.Artifact, error)
}

// Event is delivered to the project callback after every rebuild.
type Event struct {
	Path     string
	Success  bool
	Artifact *dispatch.Artifact // nil on failure
	Err      error              // build diagnostic on failure
	Changed  []string
}

// Options configure one watched project.
type Options struct {
	Interval         time.Duration // poll interval; default 500ms
	RebuildBurst     int           // default 1
	RebuildPerSecond float64       // default 2; <= 0 disables limiting
	Callback         func(Event)   // polled events arrive on a delivery goroutine; may call Disable
}

const DefaultInterval = 500 * time.Millisecond

// ErrNotWatched is returned for projects that were never enabled.
var ErrNotWatched = errors.New("project is not watched")

// Registry owns all watched projects.
type Registry struct {
	builder Builder
	log     *slog.Logger

	mu       sync.Mutex
	projects map[string]*Project
}

// NewRegistry returns an empty registry rebuilding through b.
func NewRegistry(b Builder, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{builder: b, log: log, projects: make(map[string]*Project)}
}

func key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func (r *Registry) lookup(path string) (*Project, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	p := r.projects[k]
	r.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotWatched)
	}
	return p, nil
}

// Enable builds the project at path and starts watching it. Enabling an
// enabled project is a no-op returning the existing project. A failing first
// build still enables the project in WatchingWithError so fixing the source
// recovers it.
func (r *Registry) Enable(ctx context.Context, path string, opts Options) (*Project, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RebuildBurst <= 0 {
		opts.RebuildBurst = 1
	}
	limit := rate.Inf
	if opts.RebuildPerSecond > 0 {
		limit = rate.Limit(opts.RebuildPerSecond)
	}

	r.mu.Lock()
	p := r.projects[k]
	if p == nil {
		p = &Project{path: k, builder: r.builder, log: r.log.With("project", k)}
		r.projects[k] = p
	}
	r.mu.Unlock()

	p.mu.Lock()
	if p.stateNow() != Disabled {
		p.mu.Unlock()
		return p, nil
	}
	p.opts = opts
	p.limiter = rate.NewLimiter(limit, opts.RebuildBurst)
	p.mtimes = nil
	changed, next, err := p.scanLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.setStatus(Watching, nil)
	ev, _ := p.rebuildLocked(ctx, changed, next)
	p.start()
	p.mu.Unlock()
	notify(opts.Callback, ev)
	return p, nil
}

// Disable stops watching path and waits for the watch loop to exit.
// Disabling an unknown or disabled project is a no-op.
func (r *Registry) Disable(path string) error {
	p, err := r.lookup(path)
	if errors.Is(err, ErrNotWatched) {
		return nil
	}
	if err != nil {
		return err
	}
	p.stop()
	return nil
}

// CheckForChanges rescans path and rebuilds when a file changed. It reports
// whether a rebuild ran.
func (r *Registry) CheckForChanges(ctx context.Context, path string) (bool, error) {
	p, err := r.lookup(path)
	if err != nil {
		return false, err
	}
	return p.CheckForChanges(ctx)
}

// Status returns the state and last build error of path.
func (r *Registry) Status(path string) (State, error) {
	p, err := r.lookup(path)
	if err != nil {
		return Disabled, nil
	}
	return p.Status()
}

// Current returns the artifact currently serving path.
func (r *Registry) Current(path string) (*dispatch.Artifact, error) {
	p, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	art := p.Current()
	if art == nil {
		return nil, fmt.Errorf("%s: no successful build yet", path)
	}
	return art, nil
}

// Projects returns the watched project paths.
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.projects))
	for k, p := range r.projects {
		if st, _ := p.Status(); st != Disabled {
			out = append(out, k)
		}
	}
	return out
}

// Close disables every project.
func (r *Registry) Close() {
	r.mu.Lock()
	ps := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		ps = append(ps, p)
	}
	r.mu.Unlock()
	for _, p := range ps {
		p.stop()
	}
}
