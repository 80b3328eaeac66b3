// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// FileName is the optional config file looked up at the working-tree root.
const FileName = "scribe.json"

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
	// StateDir holds the journal database and pre-image blobs. Relative
	// paths are taken from the working-tree root.
	StateDir string `json:"state_dir"`
	GitBin   string `json:"git_bin"`
	// LineEnding is the default for new files: "lf" or "crlf".
	LineEnding string `json:"line_ending"`
	// ReadOnly lists slash-separated globs of paths that may never be edited.
	ReadOnly []string `json:"readonly"`

	root string
}

// Provider is everything the edit engine needs to know about configuration.
type Provider interface {
	Root() string
	Editable(rel string) bool
}

func Default() *Config {
	cfg := &Config{
		LogLevel:   "info",
		StateDir:   filepath.Join(".git", "scribe"),
		GitBin:     "git",
		LineEnding: "lf",
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8765
	return cfg
}

// Load reads a JSON config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}

// ForRoot loads root/.env and root/scribe.json when present, then applies
// SCRIBE_* environment overrides.
func ForRoot(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(abs, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := Load(filepath.Join(abs, FileName))
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.root = abs
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SCRIBE_GIT_BIN"); v != "" {
		c.GitBin = v
	}
	if v := os.Getenv("SCRIBE_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("SCRIBE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SCRIBE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCRIBE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LineEnding) {
	case "lf", "crlf":
	default:
		return fmt.Errorf("line_ending must be lf or crlf, got %q", c.LineEnding)
	}
	for _, pattern := range c.ReadOnly {
		if _, err := path.Match(strings.TrimPrefix(pattern, "/"), ""); err != nil {
			return fmt.Errorf("readonly pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// WithRoot returns a copy of c bound to root.
func (c *Config) WithRoot(root string) *Config {
	cp := *c
	cp.root = root
	return &cp
}

func (c *Config) Root() string {
	return c.root
}

// StatePath returns the absolute state directory.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.root, c.StateDir)
}

// Editable reports whether rel, a slash-separated path relative to the root,
// escapes every readonly pattern. A pattern matches the path itself, its base
// name when the pattern has no slash, or any directory above it.
func (c *Config) Editable(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.ReadOnly {
		if readOnlyMatch(strings.TrimPrefix(pattern, "/"), rel) {
			return false
		}
	}
	return true
}

func readOnlyMatch(pattern, rel string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	if !strings.Contains(pattern, "/") {
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, seg); ok {
				return true
			}
		}
		return false
	}
	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
