package hotreload

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"rsbridge/internal/dispatch"
	"rsbridge/internal/project"
	"rsbridge/internal/trace"
)

// Project is one watched guest project.
type Project struct {
	path    string
	builder Builder
	log     *slog.Logger

	current atomic.Pointer[dispatch.Artifact]
	builds  atomic.Int64

	mu      sync.Mutex // serializes scans, rebuilds and state changes
	opts    Options
	limiter *rate.Limiter
	mtimes  map[string]time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	// smu guards state and lastErr only, so Status never waits for a build.
	smu     sync.Mutex
	state   State
	lastErr error
}

// Path returns the absolute project path.
func (p *Project) Path() string { return p.path }

// Current returns the artifact of the last successful build, or nil.
func (p *Project) Current() *dispatch.Artifact { return p.current.Load() }

// Status returns the state and the last build error. It does not wait for a
// rebuild in progress, which shows as Rebuilding.
func (p *Project) Status() (State, error) {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.state, p.lastErr
}

func (p *Project) setStatus(st State, err error) {
	p.smu.Lock()
	p.state, p.lastErr = st, err
	p.smu.Unlock()
}

func (p *Project) setState(st State) {
	p.smu.Lock()
	p.state = st
	p.smu.Unlock()
}

func (p *Project) stateNow() State {
	st, _ := p.Status()
	return st
}

// Files returns the tracked source files.
func (p *Project) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.mtimes))
}

// Builds returns the number of rebuilds attempted.
func (p *Project) Builds() int { return int(p.builds.Load()) }

// name is the unit name of the project artifact.
func (p *Project) name() string {
	base := filepath.Base(p.path)
	return strings.TrimSuffix(base, project.SourceExt)
}

// scanLocked lists the project sources and returns the files that are new,
// newer than recorded or gone, plus the mtimes to record once the rebuild is
// admitted. The caller holds p.mu.
func (p *Project) scanLocked() ([]string, map[string]time.Time, error) {
	files, err := project.ListSources(p.path)
	if err != nil {
		return nil, nil, err
	}
	next := make(map[string]time.Time, len(files))
	var changed []string
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return nil, nil, err
		}
		mt := info.ModTime()
		next[f] = mt
		if prev, ok := p.mtimes[f]; !ok || mt.After(prev) {
			changed = append(changed, f)
		}
	}
	for f := range p.mtimes {
		if _, ok := next[f]; !ok {
			changed = append(changed, f)
		}
	}
	return changed, next, nil
}

// rebuildLocked rebuilds the whole project from next. The scan is recorded
// only after the limiter admits the rebuild, so a rejected attempt is seen
// again by the next check. The caller holds p.mu and fires the callback with
// the returned event after unlocking.
func (p *Project) rebuildLocked(ctx context.Context, changed []string, next map[string]time.Time) (Event, error) {
	ev := Event{Path: p.path, Changed: changed}
	if err := p.limiter.Wait(ctx); err != nil {
		return ev, err
	}
	p.mtimes = next
	ctx, span := trace.StartSpan(ctx, trace.ScopeBuild, "hotreload.rebuild")
	_, prevErr := p.Status()
	p.setStatus(Rebuilding, prevErr)
	p.builds.Add(1)

	text, err := project.ReadSources(p.path, slices.Sorted(maps.Keys(next)))
	var art *dispatch.Artifact
	if err == nil {
		art, err = p.builder.Rebuild(ctx, p.name(), text)
	}
	if err != nil {
		p.setStatus(WatchingWithError, err)
		ev.Err = err
		span.End("failed")
		p.log.Warn("hot reload build failed", "changed", len(changed), "err", err)
	} else {
		p.current.Store(art)
		p.setStatus(Watching, nil)
		ev.Success = true
		ev.Artifact = art
		span.WithExtra("artifact", art.Key.Short()).End("swapped")
		p.log.Info("hot reload swapped artifact", "artifact", art.Key.Short(), "changed", len(changed))
	}
	return ev, err
}

func notify(cb func(Event), ev Event) {
	if cb != nil && deliverable(ev) {
		cb(ev)
	}
}

func deliverable(ev Event) bool { return ev.Success || ev.Err != nil }

// CheckForChanges rescans the project and rebuilds if anything changed. The
// returned error is the build diagnostic of a failed rebuild. The callback
// runs on the calling goroutine.
func (p *Project) CheckForChanges(ctx context.Context) (bool, error) {
	ev, changed, err := p.check(ctx)
	notify(p.callback(), ev)
	return changed, err
}

func (p *Project) callback() func(Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Callback
}

func (p *Project) check(ctx context.Context) (Event, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateNow() == Disabled {
		return Event{}, false, nil
	}
	changed, next, err := p.scanLocked()
	if err != nil || len(changed) == 0 {
		return Event{}, false, err
	}
	ev, err := p.rebuildLocked(ctx, changed, next)
	return ev, deliverable(ev), err
}

// start runs the poll loop and its callback delivery. The caller holds p.mu.
func (p *Project) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	events := make(chan Event, 16)
	go p.loop(ctx, p.opts.Interval, p.done, events)
	go deliver(ctx, p.opts.Callback, events)
}

// loop polls until cancelled. Callbacks run on the deliver goroutine so a
// callback may call Disable; stop only waits for this goroutine.
func (p *Project) loop(ctx context.Context, interval time.Duration, done chan struct{}, events chan<- Event) {
	defer close(done)
	defer close(events)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev, _, err := p.check(ctx)
			if err != nil && ctx.Err() == nil {
				p.log.Debug("hot reload check", "err", err)
			}
			if !deliverable(ev) {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// deliver drops events still queued once the project is disabled.
func deliver(ctx context.Context, cb func(Event), events <-chan Event) {
	for ev := range events {
		if cb != nil && ctx.Err() == nil {
			cb(ev)
		}
	}
}

// stop cancels the poll loop and waits for it to exit. A callback already
// running on the deliver goroutine may still be finishing when stop returns.
func (p *Project) stop() {
	p.mu.Lock()
	if p.stateNow() == Disabled {
		p.mu.Unlock()
		return
	}
	p.setState(Disabled)
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
