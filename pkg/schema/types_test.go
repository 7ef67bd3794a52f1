package schema

import (
	"encoding/json"
	"testing"
)

func TestScalarTypes(t *testing.T) {
	tests := []struct {
		typ     Type
		value   any
		wantErr bool
	}{
		{String(), "hello", false},
		{String(), 42, true},
		{Int(), 42, false},
		{Int(), int64(42), false},
		{Int(), float64(42), false},
		{Int(), 42.5, true},
		{Int(), json.Number("7"), false},
		{Int(), json.Number("7.5"), true},
		{Int(), "42", true},
		{Float(), 3.14, false},
		{Float(), 3, false},
		{Float(), json.Number("1e3"), false},
		{Float(), "3.14", true},
		{Bool(), true, false},
		{Bool(), "true", true},
	}

	for _, tt := range tests {
		err := tt.typ.Validate(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s.Validate(%#v) error = %v, wantErr %v", tt.typ.Name(), tt.value, err, tt.wantErr)
		}
	}
}

func TestSliceType(t *testing.T) {
	typ := Slice(String())
	if typ.Name() != "[string]" {
		t.Errorf("Name() = %q, want %q", typ.Name(), "[string]")
	}
	if err := typ.Validate([]any{"a", "b"}); err != nil {
		t.Errorf("Validate(strings) error = %v", err)
	}
	if err := typ.Validate([]any{"a", 1}); err == nil {
		t.Error("Validate(mixed) error = nil, want element error")
	}
	if err := typ.Validate("a"); err == nil {
		t.Error("Validate(scalar) error = nil, want error")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		decl    string
		want    string
		wantErr bool
	}{
		{"string", "string", false},
		{"Integer", "int", false},
		{"number", "float", false},
		{"boolean", "bool", false},
		{"[int]", "[int]", false},
		{"[[string]]", "[[string]]", false},
		{"date", "", true},
		{"[]", "", true},
		{"[int", "", true},
	}

	for _, tt := range tests {
		typ, err := ParseType(tt.decl)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.decl, err, tt.wantErr)
			continue
		}
		if err == nil && typ.Name() != tt.want {
			t.Errorf("ParseType(%q).Name() = %q, want %q", tt.decl, typ.Name(), tt.want)
		}
	}
}
