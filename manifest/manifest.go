// Package manifest handles bfjit.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "bfjit.toml"

// Backend names accepted in [run] and on the command line.
const (
	BackendAuto      = "auto"
	BackendJIT       = "jit"
	BackendInterpret = "interpret"
)

// Manifest represents a bfjit.toml configuration.
type Manifest struct {
	Run    Run    `toml:"run"`
	Cache  Cache  `toml:"cache"`
	Log    Log    `toml:"log"`
	Server Server `toml:"server"`

	// Dir is the directory containing the bfjit.toml file (set at load time).
	Dir string `toml:"-"`
}

// Run configures how programs are executed.
type Run struct {
	Backend  string `toml:"backend"`
	Optimize *bool  `toml:"optimize"`
	MaxSteps uint64 `toml:"max-steps"`
}

// Cache configures the image cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Server configures the execution service.
type Server struct {
	Addr     string `toml:"addr"`
	MaxSteps uint64 `toml:"max-steps"`
}

// Default returns the configuration used when no bfjit.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Run.Backend == "" {
		m.Run.Backend = BackendAuto
	}
	if m.Run.Optimize == nil {
		on := true
		m.Run.Optimize = &on
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:8420"
	}
	if m.Server.MaxSteps == 0 {
		m.Server.MaxSteps = 100_000_000
	}
}

// Load parses a bfjit.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a bfjit.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks enumerated fields.
func (m *Manifest) Validate() error {
	switch m.Run.Backend {
	case BackendAuto, BackendJIT, BackendInterpret:
	default:
		return fmt.Errorf("unknown backend %q (want auto, jit or interpret)", m.Run.Backend)
	}
	if m.Log.Verbosity < 0 {
		return fmt.Errorf("negative log verbosity %d", m.Log.Verbosity)
	}
	return nil
}

// OptimizeEnabled reports whether the optimizer runs before execution.
func (m *Manifest) OptimizeEnabled() bool {
	return m.Run.Optimize == nil || *m.Run.Optimize
}

// CachePath returns the cache database path, resolved against Dir when
// relative. Empty means the user cache directory.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" || filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// LogFile returns the log file path resolved like CachePath, or nil for
// stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
