// Package config loads the project configuration of a max workspace and
// locates the per-project daemon files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/supervisor"
	"gopkg.in/yaml.v3"
)

// FileNames are the accepted project files, in lookup order.
var FileNames = []string{"max.yaml", "max.yml", "max.json", "max.toml"}

// StateDirName is the directory marking a project root next to its config file.
const StateDirName = ".max"

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ErrNoConfig is returned when a directory holds none of FileNames.
var ErrNoConfig = errors.New("no max config file")

// Config is the content of a project file.
type Config struct {
	// Workspace is the workspace id. Defaults to the project directory name.
	Workspace     string                             `yaml:"workspace" json:"workspace" toml:"workspace"`
	Installations map[string]domain.DeploymentConfig `yaml:"installations" json:"installations" toml:"installations"`
	// Autostart lists installations started right after registration.
	Autostart []string `yaml:"autostart" json:"autostart" toml:"autostart"`
	// Restart is the supervisor restart policy: manual, always or escalate.
	Restart string      `yaml:"restart" json:"restart" toml:"restart"`
	Store   StoreConfig `yaml:"store" json:"store" toml:"store"`
	Admin   AdminConfig `yaml:"admin" json:"admin" toml:"admin"`
	// Profiles is the subprocess profiles file, relative to the project root.
	Profiles string `yaml:"profiles" json:"profiles" toml:"profiles"`
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`
}

// StoreConfig selects where sync records and loaded data are kept.
type StoreConfig struct {
	Kind string `yaml:"kind" json:"kind" toml:"kind"`
	// Path is the directory of a file store or the database of a sqlite store.
	Path string `yaml:"path" json:"path" toml:"path"`
	// URL is a redis URL, e.g. redis://localhost:6379/0.
	URL string `yaml:"url" json:"url" toml:"url"`
	// TTL expires finished sync records in redis. Zero keeps them.
	TTL    string `yaml:"ttl" json:"ttl" toml:"ttl"`
	Prefix string `yaml:"prefix" json:"prefix" toml:"prefix"`
}

// AdminConfig configures the HTTP admin surface of the daemon.
type AdminConfig struct {
	// Addr enables the admin server when set, e.g. 127.0.0.1:7300.
	Addr    string `yaml:"addr" json:"addr" toml:"addr"`
	Metrics bool   `yaml:"metrics" json:"metrics" toml:"metrics"`
	// RPC accepts remote providers on /rpc.
	RPC bool `yaml:"rpc" json:"rpc" toml:"rpc"`
}

// Default returns the configuration of a project with no file.
func Default(root string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(root)
	return cfg
}

// Find returns the first project file present in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoConfig, dir)
}

// Load reads, defaults and validates the project file of root.
func Load(root string) (*Config, error) {
	path, err := Find(root)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(root)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadFile decodes one project file by extension without defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext (".yaml", ".yml", ".json", ".toml").
func Parse(ext string, data []byte) (*Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", domain.ErrInvalidArgs, ext)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(root string) {
	if c.Workspace == "" {
		c.Workspace = filepath.Base(root)
	}
	if c.Installations == nil {
		c.Installations = map[string]domain.DeploymentConfig{}
	}
	for id, inst := range c.Installations {
		if inst.Kind == "" {
			inst.Kind = domain.ProviderInProcess
			c.Installations[id] = inst
		}
	}
	if c.Store.Kind == "" {
		c.Store.Kind = StoreMemory
	}
	if c.Store.Path == "" {
		switch c.Store.Kind {
		case StoreFile:
			c.Store.Path = filepath.Join(root, StateDirName, "syncs")
		case StoreSQLite:
			c.Store.Path = filepath.Join(root, StateDirName, "max.db")
		}
	} else if !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(root, c.Store.Path)
	}
	if c.Profiles == "" {
		c.Profiles = filepath.Join(root, StateDirName, "profiles.yaml")
	} else if !filepath.IsAbs(c.Profiles) {
		c.Profiles = filepath.Join(root, c.Profiles)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// StoreTTL parses Store.TTL.
func (c *Config) StoreTTL() (time.Duration, error) {
	if c.Store.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.TTL)
	if err != nil {
		return 0, fmt.Errorf("%w: store ttl: %v", domain.ErrInvalidArgs, err)
	}
	return d, nil
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace) == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	for id, inst := range c.Installations {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, errors.New("installation id is required"))
			continue
		}
		switch inst.Kind {
		case domain.ProviderInProcess, domain.ProviderSubprocess, domain.ProviderRemote:
		default:
			errs = append(errs, fmt.Errorf("installation %s: unknown provider %q", id, inst.Kind))
		}
	}
	for _, id := range c.Autostart {
		if _, ok := c.Installations[id]; !ok {
			errs = append(errs, fmt.Errorf("autostart: unknown installation %q", id))
		}
	}
	switch c.Store.Kind {
	case StoreMemory, StoreFile, StoreSQLite:
	case StoreRedis:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store: redis needs a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown kind %q", c.Store.Kind))
	}
	if _, err := c.StoreTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := supervisor.ParseRestartPolicy(c.Restart); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgs, err)
	}
	return nil
}

// InstallationIDs returns the configured installation ids, sorted.
func (c *Config) InstallationIDs() []domain.InstallationID {
	ids := make([]domain.InstallationID, 0, len(c.Installations))
	for id := range c.Installations {
		ids = append(ids, domain.InstallationID(id))
	}
	slices.Sort(ids)
	return ids
}
