// Package hotreload watches guest projects, rebuilds them when a source file
// changes and swaps the loaded artifact under live callables.
package hotreload

// State of a watched project.
type State uint8

const (
	Disabled State = iota
	Watching
	Rebuilding
	WatchingWithError // the last rebuild failed; the previous artifact is still current
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Watching:
		return "watching"
	case Rebuilding:
		return "rebuilding"
	case WatchingWithError:
		return "watching (last build failed)"
	default:
		return "unknown"
	}
}
