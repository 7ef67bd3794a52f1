package domain

import "fmt"

// Schema is the static description of an installation's entity types.
// The core passes it through without interpreting it.
type Schema struct {
	Installation InstallationID `json:"installation"`
	Connector    string         `json:"connector"`
	Entities     []EntityDef    `json:"entities"`
}

// Entity returns the definition with the given name.
func (s Schema) Entity(name string) (EntityDef, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntityDef{}, false
}

// EntityDef describes one entity type exposed by a connector.
type EntityDef struct {
	Name        string     `json:"name" mapstructure:"name"`
	Description string     `json:"description,omitempty" mapstructure:"description"`
	Fields      []FieldDef `json:"fields,omitempty" mapstructure:"fields"`
}

// FieldDef describes one field of an entity. Ref names another entity for references.
type FieldDef struct {
	Name string `json:"name" mapstructure:"name"`
	Type string `json:"type" mapstructure:"type"`
	Ref  string `json:"ref,omitempty" mapstructure:"ref"`
}

// Record is one stored entity instance.
type Record struct {
	ID     string         `json:"id"`
	Entity string         `json:"entity"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Page is one batch returned by a loader. Next is the cursor for the following page.
type Page struct {
	Records []Record `json:"records"`
	Next    string   `json:"next,omitempty"`
	Done    bool     `json:"done"`
}

// Query is handed to an Engine. Filter is an opaque expression owned by the engine;
// Match is a structured equality selector every engine understands.
type Query struct {
	Entity string         `json:"entity"`
	Match  map[string]any `json:"match,omitempty"`
	Filter string         `json:"filter,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// ResultSet is the answer of one installation's engine.
type ResultSet struct {
	Installation InstallationID `json:"installation"`
	Entity       string         `json:"entity"`
	Records      []Record       `json:"records"`
	Truncated    bool           `json:"truncated,omitempty"`
}

// QueryResult aggregates a fan-out query. Errors is keyed by node id so one failing
// node does not hide the answers of its siblings.
type QueryResult struct {
	Sets   []ResultSet       `json:"sets"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Matches reports whether every key of match equals the record field of the same
// name. "id" matches the record id. Values are compared by their text form, so a
// decoded JSON number matches an int.
func (r Record) Matches(match map[string]any) bool {
	for k, want := range match {
		var got any
		if k == "id" {
			got = r.ID
		} else {
			v, ok := r.Fields[k]
			if !ok {
				return false
			}
			got = v
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Clone returns a copy whose Fields map can be mutated independently.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
