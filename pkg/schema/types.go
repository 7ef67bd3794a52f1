package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Type validates the value of one field.
type Type interface {
	// Name is the declaration form of the type, e.g. "int" or "[string]".
	Name() string
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		// Numbers decoded from JSON arrive as float64.
		if v != float64(int64(v)) {
			return fmt.Errorf("expected int, got %v", v)
		}
		return nil
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("expected int, got %s", v)
		}
		return nil
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Validate(value any) error {
	switch v := value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case json.Number:
		if _, err := v.Float64(); err != nil {
			return fmt.Errorf("expected float, got %s", v)
		}
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type sliceType struct {
	elem Type
}

func (t sliceType) Name() string { return "[" + t.elem.Name() + "]" }

func (t sliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected %s, got %T", t.Name(), value)
	}
	for i := range rv.Len() {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// String, Int, Float and Bool are the scalar types.
func String() Type { return stringType{} }
func Int() Type { return intType{} }
func Float() Type { return floatType{} }
func Bool() Type { return boolType{} }

// Slice is a list of elem values.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// ParseType reads a type declaration. Names are case-insensitive.
func ParseType(decl string) (Type, error) {
	decl = strings.ToLower(strings.TrimSpace(decl))
	if inner, ok := strings.CutPrefix(decl, "["); ok {
		inner, ok = strings.CutSuffix(inner, "]")
		if !ok || inner == "" {
			return nil, fmt.Errorf("malformed list type %q", decl)
		}
		elem, err := ParseType(inner)
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	}
	switch decl {
	case "string":
		return String(), nil
	case "int", "integer":
		return Int(), nil
	case "float", "number":
		return Float(), nil
	case "bool", "boolean":
		return Bool(), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", decl)
	}
}
