package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/max/pkg/domain"
)

// Schema maps field names to their declared types.
type Schema map[string]Type

// ForEntity builds the schema of def. Untyped and reference fields are left
// out. An unknown type name fails with domain.ErrInvalidArgs.
func ForEntity(def domain.EntityDef) (Schema, error) {
	s := make(Schema, len(def.Fields))
	var errs []error
	for _, f := range def.Fields {
		if f.Type == "" || f.Ref != "" {
			continue
		}
		t, err := ParseType(f.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
			continue
		}
		s[f.Name] = t
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: entity %s: %w", domain.ErrInvalidArgs, def.Name, err)
	}
	return s, nil
}

// Check validates the typed fields present in fields. Missing and nil fields
// pass. Every mismatch is reported, wrapped in domain.ErrInvalidArgs.
func (s Schema) Check(fields map[string]any) error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(s)) {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		if err := s[name].Validate(v); err != nil {
			errs = append(errs, &FieldError{Field: name, Reason: err.Error()})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgs, err)
	}
	return nil
}

// FieldErrors returns the field mismatches carried by err.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	var walk func(error)
	walk = func(err error) {
		switch u := err.(type) {
		case *FieldError:
			out = append(out, u)
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}
