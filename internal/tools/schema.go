// Package tools declares the agent's callable tools and the typed argument
// schemas the agent graph validates every tool call against before
// execution ever reaches the policy enforcer or the host API.
package tools

import (
	"fmt"
	"regexp"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// FieldType is the closed set of argument primitive kinds a schema field can
// declare.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldEnum     FieldType = "enum"
	FieldList     FieldType = "list"
	FieldBool     FieldType = "bool"
	FieldDate     FieldType = "date"     // ISO-8601 date-only, e.g. 2025-01-15
	FieldDateTime FieldType = "datetime" // RFC3339
)

// Field declares one argument's shape and constraints.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Enum        []string // populated when Type == FieldEnum
	MaxListSize int      // populated when Type == FieldList; 0 = unbounded
}

// Schema is a tool's full declarative argument contract.
type Schema struct {
	Tool   string
	Fields []Field
}

var isoDateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks raw against the schema, returning a new map containing
// only the validated, typed fields. Validation is total: no argument
// reaches a tool function without passing through here.
func (s Schema) Validate(raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.Fields))

	for _, f := range s.Fields {
		v, present := raw[f.Name]
		if !present {
			if f.Required {
				return nil, kerrors.MissingParameter(f.Name)
			}
			continue
		}

		validated, err := validateField(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = validated
	}

	return out, nil
}

func validateField(f Field, v interface{}) (interface{}, error) {
	switch f.Type {
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return nil, kerrors.InvalidFormat(f.Name, "non-empty string")
		}
		if s == "" {
			return nil, kerrors.InvalidFormat(f.Name, "non-empty string")
		}
		return s, nil

	case FieldEnum:
		s, ok := v.(string)
		if !ok {
			return nil, kerrors.InvalidFormat(f.Name, fmt.Sprintf("one of %v", f.Enum))
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, kerrors.OutOfRange(f.Name, f.Enum[0], f.Enum[len(f.Enum)-1])

	case FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, kerrors.InvalidFormat(f.Name, "bool")
		}
		return b, nil

	case FieldList:
		list, ok := v.([]interface{})
		if !ok {
			return nil, kerrors.InvalidFormat(f.Name, "list")
		}
		if f.MaxListSize > 0 && len(list) > f.MaxListSize {
			return nil, kerrors.OutOfRange(f.Name, 0, f.MaxListSize)
		}
		return list, nil

	case FieldDate:
		s, ok := v.(string)
		if !ok || !isoDateRE.MatchString(s) {
			return nil, kerrors.InvalidFormat(f.Name, "YYYY-MM-DD")
		}
		return s, nil

	case FieldDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, kerrors.InvalidFormat(f.Name, "RFC3339 date-time")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, kerrors.InvalidFormat(f.Name, "RFC3339 date-time")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("tools: unknown field type %q", f.Type)
	}
}
