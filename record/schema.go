package record

// EntityKind names one of the document kinds carrying sensitive fields.
type EntityKind string

const (
	KindUser      EntityKind = "user"
	KindCompany   EntityKind = "company"
	KindStructure EntityKind = "structure"
	KindContact   EntityKind = "contact"
	KindProspect  EntityKind = "prospect"
)

// Schema lists the sensitive fields of one entity kind. Static
// configuration: schemas are fixed at compile time and never mutated.
type Schema struct {
	Kind       EntityKind
	Collection string
	// Fields are encrypted at rest. Fields not listed are never touched.
	Fields []string
	// DateField, if set, is normalized to canonical YYYY-MM-DD before
	// encryption. At most one per kind in the current dataset.
	DateField string
}

// SensitiveFields returns Fields plus the DateField.
func (s Schema) SensitiveFields() []string {
	if s.DateField == "" {
		return s.Fields
	}
	out := make([]string, 0, len(s.Fields)+1)
	out = append(out, s.Fields...)
	out = append(out, s.DateField)
	return out
}

var schemas = map[EntityKind]Schema{
	KindUser: {
		Kind:       KindUser,
		Collection: "users",
		Fields:     []string{"socialSecurityNumber", "phone", "address", "city", "postalCode"},
		DateField:  "birthDate",
	},
	KindCompany: {
		Kind:       KindCompany,
		Collection: "companies",
		Fields:     []string{"siret", "vatNumber", "address", "city", "postalCode", "phone"},
	},
	KindStructure: {
		Kind:       KindStructure,
		Collection: "structures",
		Fields:     []string{"siret", "address", "city", "postalCode", "phone"},
	},
	KindContact: {
		Kind:       KindContact,
		Collection: "contacts",
		Fields:     []string{"phone", "address", "city", "postalCode"},
		DateField:  "birthDate",
	},
	KindProspect: {
		Kind:       KindProspect,
		Collection: "prospects",
		Fields:     []string{"phone", "address", "city", "postalCode"},
	},
}

// SchemaFor returns the sensitive-field schema for a kind.
func SchemaFor(kind EntityKind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// AllSchemas returns every registered schema, for migration runs that
// walk the whole store.
func AllSchemas() []Schema {
	out := make([]Schema, 0, len(schemas))
	for _, k := range []EntityKind{KindUser, KindCompany, KindStructure, KindContact, KindProspect} {
		out = append(out, schemas[k])
	}
	return out
}
