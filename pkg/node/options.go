package node

import (
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// InstallationSpec is the part of a deployment's options that describes the
// installation itself, independent of where it is hosted.
type InstallationSpec struct {
	Connector string         `mapstructure:"connector" json:"connector"`
	Settings  map[string]any `mapstructure:"settings" json:"settings,omitempty"`
	Schedule  string         `mapstructure:"schedule" json:"schedule,omitempty"`
	// Global tags runs with the multi-tenant domain instead of the local one.
	Global bool `mapstructure:"global" json:"global,omitempty"`
}

// DecodeInstallationSpec reads an InstallationSpec from deployment options.
// Keys owned by the hosting strategy are ignored.
func DecodeInstallationSpec(opts map[string]any) (InstallationSpec, error) {
	var spec InstallationSpec
	if err := mapstructure.Decode(opts, &spec); err != nil {
		return spec, fmt.Errorf("%w: installation options: %v", domain.ErrInvalidArgs, err)
	}
	if spec.Connector == "" {
		return spec, fmt.Errorf("%w: option %q is required", domain.ErrInvalidArgs, domain.KeyConnector)
	}
	return spec, nil
}

// Domain returns the scope runs of installation id are tagged with.
func (s InstallationSpec) Domain(id domain.InstallationID) (domain.Domain, error) {
	if s.Global {
		return domain.Global(id)
	}
	return domain.Local(), nil
}

// Catalog maps connector names to their factories.
type Catalog map[string]ports.ConnectorFactory

// Lookup returns the factory of name.
func (c Catalog) Lookup(name string) (ports.ConnectorFactory, error) {
	f, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connector %q (known: %v)", domain.ErrInvalidArgs, name, slices.Sorted(maps.Keys(c)))
	}
	return f, nil
}
