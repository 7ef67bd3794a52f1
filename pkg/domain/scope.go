package domain

import (
	"encoding/json"
	"fmt"
)

type scopeKind uint8

const (
	scopeLocal scopeKind = iota + 1
	scopeGlobal
)

// Domain tags whether an operation executes against a single installation (local)
// or in a multi-tenant context where the installation must be named (global).
// The zero value is not a valid Domain; use Local or Global.
type Domain struct {
	kind         scopeKind
	installation InstallationID
}

// Local returns the single-installation scope. It never carries an installation id.
func Local() Domain {
	return Domain{kind: scopeLocal}
}

// Global returns the multi-tenant scope for the given installation.
// An empty id is rejected.
func Global(id InstallationID) (Domain, error) {
	if id == "" {
		return Domain{}, fmt.Errorf("%w: global domain requires an installation id", ErrInvalidArgs)
	}
	return Domain{kind: scopeGlobal, installation: id}, nil
}

// IsLocal reports whether d is the local scope.
func (d Domain) IsLocal() bool { return d.kind == scopeLocal }

// IsGlobal reports whether d is the global scope.
func (d Domain) IsGlobal() bool { return d.kind == scopeGlobal }

// Valid reports whether d was built by Local or Global.
func (d Domain) Valid() bool { return d.kind == scopeLocal || d.kind == scopeGlobal }

// Installation returns the installation id of a global domain.
func (d Domain) Installation() (InstallationID, bool) {
	if d.kind != scopeGlobal {
		return "", false
	}
	return d.installation, true
}

// Match calls exactly one of the branches depending on the scope.
// It panics on the zero Domain, which can only be produced by bypassing the constructors.
func (d Domain) Match(local func(), global func(InstallationID)) {
	switch d.kind {
	case scopeLocal:
		local()
	case scopeGlobal:
		global(d.installation)
	default:
		panic("domain: match on uninitialized Domain")
	}
}

func (d Domain) String() string {
	switch d.kind {
	case scopeLocal:
		return "local"
	case scopeGlobal:
		return "global:" + string(d.installation)
	default:
		return "invalid"
	}
}

type domainJSON struct {
	Kind         string         `json:"kind"`
	Installation InstallationID `json:"installation,omitempty"`
}

// MarshalJSON encodes the domain as {"kind":"local"} or {"kind":"global","installation":"..."}.
func (d Domain) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case scopeLocal:
		return json.Marshal(domainJSON{Kind: "local"})
	case scopeGlobal:
		return json.Marshal(domainJSON{Kind: "global", Installation: d.installation})
	default:
		return nil, fmt.Errorf("%w: cannot encode uninitialized domain", ErrInvalidArgs)
	}
}

// UnmarshalJSON decodes a domain and enforces the installation id invariant.
func (d *Domain) UnmarshalJSON(data []byte) error {
	var raw domainJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "local":
		if raw.Installation != "" {
			return fmt.Errorf("%w: local domain must not carry an installation id", ErrInvalidArgs)
		}
		*d = Local()
		return nil
	case "global":
		g, err := Global(raw.Installation)
		if err != nil {
			return err
		}
		*d = g
		return nil
	default:
		return fmt.Errorf("%w: unknown domain kind %q", ErrInvalidArgs, raw.Kind)
	}
}
