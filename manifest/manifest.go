// Package manifest handles squash.toml / squash.yaml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File names searched for, in order of preference.
var FileNames = []string{"squash.toml", "squash.yaml", "squash.yml"}

// Manifest represents a squash project configuration.
type Manifest struct {
	Optimizer Optimizer `toml:"optimizer" yaml:"optimizer"`
	Output    Output    `toml:"output" yaml:"output"`
	Log       Log       `toml:"log" yaml:"log"`
	History   History   `toml:"history" yaml:"history"`

	// Dir is the directory containing the manifest file (set at load time).
	Dir string `toml:"-" yaml:"-"`
	// Path is the manifest file that was loaded (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Optimizer tunes the pass pipeline.
type Optimizer struct {
	MaxRounds    int      `toml:"max-rounds" yaml:"max-rounds"`
	InlineMaxOps int      `toml:"inline-max-ops" yaml:"inline-max-ops"`
	CoercionName string   `toml:"coercion-name" yaml:"coercion-name"`
	Disable      []string `toml:"disable" yaml:"disable"`
}

// Output configures what squash writes.
type Output struct {
	// Suffix is inserted before the extension of the input file when no
	// explicit output path is given: prog.sqbc -> prog.opt.sqbc.
	Suffix      string `toml:"suffix" yaml:"suffix"`
	Disassemble bool   `toml:"disassemble" yaml:"disassemble"`
}

// Log configures the logging backend.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// History configures the run history database.
type History struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Database string `toml:"database" yaml:"database"`
}

// Default values applied to fields a manifest leaves unset.
const (
	DefaultMaxRounds    = 100
	DefaultInlineMaxOps = 10
	DefaultCoercionName = "bool"
	DefaultSuffix       = ".opt"
	DefaultDatabase     = ".squash/history.db"
)

// Default returns the configuration used when no manifest is present.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses the first manifest file found in the given directory.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s", strings.Join(FileNames, ", "), dir)
}

// LoadFile parses a manifest file. The format is chosen by extension.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = toml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Path = path
	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a manifest file,
// then loads and returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if m.Optimizer.MaxRounds < 0 {
		return fmt.Errorf("optimizer.max-rounds must not be negative, got %d", m.Optimizer.MaxRounds)
	}
	if m.Optimizer.InlineMaxOps < 0 {
		return fmt.Errorf("optimizer.inline-max-ops must not be negative, got %d", m.Optimizer.InlineMaxOps)
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Optimizer.MaxRounds == 0 {
		m.Optimizer.MaxRounds = DefaultMaxRounds
	}
	if m.Optimizer.InlineMaxOps == 0 {
		m.Optimizer.InlineMaxOps = DefaultInlineMaxOps
	}
	if m.Optimizer.CoercionName == "" {
		m.Optimizer.CoercionName = DefaultCoercionName
	}
	if m.Output.Suffix == "" {
		m.Output.Suffix = DefaultSuffix
	}
	if m.History.Database == "" {
		m.History.Database = DefaultDatabase
	}
}

// OutputPath returns where the optimized form of input is written.
func (m *Manifest) OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + m.Output.Suffix + ext
}

// DatabasePath returns the history database path, resolved against the
// manifest directory when relative.
func (m *Manifest) DatabasePath() string {
	if filepath.IsAbs(m.History.Database) || m.Dir == "" {
		return m.History.Database
	}
	return filepath.Join(m.Dir, m.History.Database)
}

// LogFilePath returns the log file path, resolved like DatabasePath.
// An empty result means standard error.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) || m.Dir == "" {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
