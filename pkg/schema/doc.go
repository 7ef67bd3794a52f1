// Package schema checks loaded records against the field types their entity
// declares.
//
// An entity field may declare one of the built-in types:
//
//	string, int, float, bool, [string], [int], ...
//
// Fields without a type, and reference fields, are not checked. A record may
// omit a declared field; a field that is present must match its type.
//
//	s, err := schema.ForEntity(domain.EntityDef{
//		Name:   "user",
//		Fields: []domain.FieldDef{{Name: "age", Type: "int"}},
//	})
//	if err != nil {
//		return err
//	}
//	if err := s.Check(rec.Fields); err != nil {
//		// errors.Is(err, domain.ErrInvalidArgs)
//	}
package schema
