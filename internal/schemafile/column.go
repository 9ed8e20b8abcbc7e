package schemafile

import (
	"regexp"

	"cuelang.org/go/cue"

	"github.com/roach88/datatable/internal/schema"
)

// compileColumn turns a column declaration into a schema. Refinements that
// do not apply to the declared type are rejected.
func compileColumn(v cue.Value) (schema.Schema, error) {
	typ, err := optionalString(v, "type")
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = string(schema.TypeAny)
	}

	var s schema.Schema
	switch schema.Type(typ) {
	case schema.TypeString:
		s, err = compileString(v)
	case schema.TypeInt:
		s, err = compileInt(v)
	case schema.TypeFloat:
		s = schema.Float()
	case schema.TypeBool:
		s = schema.Bool()
	case schema.TypeTime:
		s = schema.Time()
	case schema.TypeJSON:
		s = schema.JSON()
	case schema.TypeAny:
		s = schema.Any()
	default:
		return nil, errorAt(v, "unsupported column type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	if typ != string(schema.TypeString) && typ != string(schema.TypeInt) {
		for _, f := range []string{"min", "max", "one_of", "match"} {
			if v.LookupPath(cue.ParsePath(f)).Exists() {
				return nil, errorAt(v, "%s does not apply to %s columns", f, typ)
			}
		}
	}

	expr, err := optionalString(v, "constraint")
	if err != nil {
		return nil, err
	}
	if expr != "" {
		cs, err := schema.CUE(s, expr)
		if err != nil {
			return nil, errorAt(v, "%v", err)
		}
		s = cs
	}

	nullable, err := optionalBool(v, "nullable")
	if err != nil {
		return nil, err
	}
	if nullable {
		s = schema.Nullable(s)
	}
	return s, nil
}

func compileString(v cue.Value) (schema.Schema, error) {
	s := schema.String()
	if n, err := optionalInt(v, "min"); err != nil {
		return nil, err
	} else if n != nil {
		s = s.Min(int(*n))
	}
	if n, err := optionalInt(v, "max"); err != nil {
		return nil, err
	} else if n != nil {
		s = s.Max(int(*n))
	}
	if oneOf := v.LookupPath(cue.ParsePath("one_of")); oneOf.Exists() {
		values, err := stringList(oneOf)
		if err != nil {
			return nil, err
		}
		s = s.OneOf(values...)
	}
	match, err := optionalString(v, "match")
	if err != nil {
		return nil, err
	}
	if match != "" {
		if _, err := regexp.Compile(match); err != nil {
			return nil, errorAt(v, "match: %v", err)
		}
		s = s.Match(match)
	}
	return s, nil
}

func compileInt(v cue.Value) (schema.Schema, error) {
	if v.LookupPath(cue.ParsePath("one_of")).Exists() || v.LookupPath(cue.ParsePath("match")).Exists() {
		return nil, errorAt(v, "one_of and match apply to string columns")
	}
	s := schema.Int()
	if n, err := optionalInt(v, "min"); err != nil {
		return nil, err
	} else if n != nil {
		s = s.Min(*n)
	}
	if n, err := optionalInt(v, "max"); err != nil {
		return nil, err
	} else if n != nil {
		s = s.Max(*n)
	}
	return s, nil
}
