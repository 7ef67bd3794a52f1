package loam

// DocumentMetadata is the frontmatter of a document holding one record.
//
//	---
//	entity: user
//	id: ada
//	fields:
//	  team: core
//	---
//	Free text becomes the "content" field.
type DocumentMetadata struct {
	// ID overrides the document path as record id.
	ID     string         `json:"id" mapstructure:"id"`
	Entity string         `json:"entity" mapstructure:"entity"`
	Fields map[string]any `json:"fields" mapstructure:"fields"`
}

// ContentField is the record field receiving the document body.
const ContentField = "content"
