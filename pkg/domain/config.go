package domain

import "fmt"

// ProviderKind selects the hosting strategy of a node. The set is closed:
// adding a kind requires registering a provider for it in every selector.
type ProviderKind string

const (
	ProviderInProcess  ProviderKind = "inprocess"
	ProviderSubprocess ProviderKind = "subprocess"
	ProviderRemote     ProviderKind = "remote"
)

// ProviderKinds lists every known provider kind.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderInProcess, ProviderSubprocess, ProviderRemote}
}

// Validate reports whether k is one of the known kinds.
func (k ProviderKind) Validate() error {
	switch k {
	case ProviderInProcess, ProviderSubprocess, ProviderRemote:
		return nil
	default:
		return fmt.Errorf("%w: unknown provider kind %q", ErrInvalidArgs, string(k))
	}
}

// DeploymentConfig tells a provider selector how to host a node.
// Options are opaque to supervisors and decoded by the selected provider.
type DeploymentConfig struct {
	Kind    ProviderKind   `json:"kind" yaml:"kind" toml:"kind" mapstructure:"kind"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty" mapstructure:"options"`
}

// Clone returns a copy whose top-level Options map can be mutated independently.
func (c DeploymentConfig) Clone() DeploymentConfig {
	out := DeploymentConfig{Kind: c.Kind}
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}
