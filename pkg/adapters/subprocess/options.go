package subprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Options are the subprocess-specific keys of DeploymentConfig.Options. Other
// keys are handed to the child untouched through node.json.
type Options struct {
	// Profile names an entry of the profiles file; its fields fill the gaps below.
	Profile string            `mapstructure:"profile"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Dir     string            `mapstructure:"dir"`

	DialAttempts int           `mapstructure:"dial_attempts"`
	DialInterval time.Duration `mapstructure:"dial_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
}

// Defaults of the dial and shutdown timings.
const (
	DefaultDialAttempts = 20
	DefaultDialInterval = 50 * time.Millisecond
	DefaultGracePeriod  = 5 * time.Second
)

// DecodeOptions reads Options from raw deployment options. Durations accept Go
// duration strings such as "250ms".
func DecodeOptions(raw map[string]any) (Options, error) {
	var o Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &o,
	})
	if err != nil {
		return o, err
	}
	if err := dec.Decode(raw); err != nil {
		return o, fmt.Errorf("%w: subprocess options: %v", domain.ErrInvalidArgs, err)
	}
	return o, nil
}

func (o Options) withProfile(profiles map[string]Profile) (Options, error) {
	if o.Profile != "" {
		p, ok := profiles[o.Profile]
		if !ok {
			return o, fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidArgs, o.Profile)
		}
		if o.Command == "" {
			o.Command = p.Command
			if len(o.Args) == 0 {
				o.Args = p.Args
			}
		}
		if o.Env == nil {
			o.Env = p.Env
		}
	}
	if o.Command == "" {
		return o, fmt.Errorf("%w: subprocess needs a command or a profile", domain.ErrInvalidArgs)
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = DefaultDialAttempts
	}
	if o.DialInterval <= 0 {
		o.DialInterval = DefaultDialInterval
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	return o, nil
}

// Profile is a named command line for hosting nodes, e.g. a container runtime.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Env         map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ProfilesFile represents the structure of profiles.yaml.
type ProfilesFile struct {
	Profiles []Profile `yaml:"profiles" json:"profiles"`
}

// LoadProfiles reads a profiles file (YAML or JSON). A missing file yields no
// profiles.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	var file ProfilesFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	profiles := make(map[string]Profile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Name == "" {
			continue
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}
