package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"rsbridge/internal/project"
)

// File mirrors rsbridge.toml.
type File struct {
	Build     BuildSection     `toml:"build"`
	Cache     CacheSection     `toml:"cache"`
	Handles   HandlesSection   `toml:"handles"`
	HotReload HotReloadSection `toml:"hotreload"`
	Remote    RemoteSection    `toml:"remote"`
	Trace     TraceSection     `toml:"trace"`
}

type BuildSection struct {
	OptLevel  int    `toml:"opt_level"`
	DebugInfo bool   `toml:"debug_info"`
	Target    string `toml:"target"`
	DebugMode bool   `toml:"debug_mode"`
	DebugDir  string `toml:"debug_dir"`
	Emit      string `toml:"emit"`
}

type CacheSection struct {
	Root           string   `toml:"root"`
	VerifyChecksum bool     `toml:"verify_checksum"`
	StrictChecksum bool     `toml:"strict_checksum"`
	MaxParallel    int      `toml:"max_parallel"`
	Timeout        Duration `toml:"timeout"`
}

type HandlesSection struct {
	MaxDeferred int `toml:"max_deferred"`
	MaxAttempts int `toml:"max_attempts"`
}

type HotReloadSection struct {
	Interval         Duration `toml:"interval"`
	RebuildBurst     int      `toml:"rebuild_burst"`
	RebuildPerSecond float64  `toml:"rebuild_per_second"`
}

type RemoteSection struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Secure    bool   `toml:"secure"`
}

type TraceSection struct {
	Level  string `toml:"level"`
	Mode   string `toml:"mode"`
	Output string `toml:"output"`
}

// Duration decodes "500ms"-style TOML strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the configuration used when no rsbridge.toml exists.
func Defaults() File {
	return File{
		Build: BuildSection{OptLevel: 3, Emit: string(EmitShared)},
		Cache: CacheSection{VerifyChecksum: true},
		Handles: HandlesSection{
			MaxDeferred: 1000,
			MaxAttempts: 5,
		},
		HotReload: HotReloadSection{
			Interval:         Duration{500 * time.Millisecond},
			RebuildBurst:     1,
			RebuildPerSecond: 2,
		},
		Trace: TraceSection{Level: "off", Mode: "stream"},
	}
}

// Load reads path on top of Defaults.
func Load(path string) (File, error) {
	cfg := Defaults()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return File{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return File{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("remote") && !meta.IsDefined("remote", "bucket") {
		return File{}, fmt.Errorf("%s: [remote] requires bucket", path)
	}
	if cfg.Handles.MaxDeferred <= 0 {
		return File{}, fmt.Errorf("%s: [handles].max_deferred must be positive", path)
	}
	if cfg.Cache.Root != "" && !filepath.IsAbs(cfg.Cache.Root) {
		cfg.Cache.Root = filepath.Join(filepath.Dir(path), cfg.Cache.Root)
	}
	if _, err := cfg.BuildConfig(); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover walks up from startDir; missing files yield Defaults.
func Discover(startDir string) (File, string, error) {
	path, ok, err := project.FindConfig(startDir)
	if err != nil {
		return File{}, "", err
	}
	if !ok {
		return Defaults(), "", nil
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// BuildConfig converts the [build] section.
func (f File) BuildConfig() (BuildConfig, error) {
	return BuildConfig{
		OptLevel:     f.Build.OptLevel,
		DebugInfo:    f.Build.DebugInfo,
		TargetTriple: f.Build.Target,
		DebugMode:    f.Build.DebugMode,
		DebugDir:     f.Build.DebugDir,
		Emit:         Emit(f.Build.Emit),
	}.Normalize()
}

// CacheRoot resolves the cache directory: [cache].root, then
// $RSBRIDGE_CACHE_DIR, then $XDG_CACHE_HOME/rsbridge, then ~/.cache/rsbridge.
func (f File) CacheRoot() (string, error) {
	if f.Cache.Root != "" {
		return f.Cache.Root, nil
	}
	if dir := os.Getenv("RSBRIDGE_CACHE_DIR"); dir != "" {
		return dir, nil
	}
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "rsbridge"), nil
}
