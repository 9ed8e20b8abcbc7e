package schemafile

import (
	"cuelang.org/go/cue"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/table"
)

type pendingRelation struct {
	source *table.Table
	name   string
	v      cue.Value
}

// compileRelations builds direct relations first so that hasManyThrough
// declarations can name them in "via".
func (c *Catalog) compileRelations(v cue.Value) error {
	sources, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	var direct, through []pendingRelation
	for sources.Next() {
		src, ok := c.byName[sources.Label()]
		if !ok {
			return errorAt(sources.Value(), "unknown table %q", sources.Label())
		}
		rels, err := sources.Value().Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for rels.Next() {
			p := pendingRelation{source: src, name: rels.Label(), v: rels.Value()}
			kind, err := optionalString(p.v, "kind")
			if err != nil {
				return err
			}
			if table.Kind(kind) == table.KindHasManyThrough {
				through = append(through, p)
			} else {
				direct = append(direct, p)
			}
		}
	}

	for _, p := range append(direct, through...) {
		rel, err := c.compileRelation(p)
		if err != nil {
			return err
		}
		if c.relations[p.source.Name()] == nil {
			c.relations[p.source.Name()] = make(map[string]*table.Relation)
		}
		c.relations[p.source.Name()][p.name] = rel
	}
	return nil
}

func (c *Catalog) compileRelation(p pendingRelation) (*table.Relation, error) {
	kind, err := optionalString(p.v, "kind")
	if err != nil {
		return nil, err
	}
	targetName, err := optionalString(p.v, "target")
	if err != nil {
		return nil, err
	}
	target, ok := c.byName[targetName]
	if !ok {
		return nil, errorAt(p.v, "unknown target table %q", targetName)
	}

	keys, err := keyOptions(p.v)
	if err != nil {
		return nil, err
	}

	var rel *table.Relation
	switch table.Kind(kind) {
	case table.KindHasMany:
		rel, err = p.source.HasMany(target, keys...)
	case table.KindHasOne:
		rel, err = p.source.HasOne(target, keys...)
	case table.KindBelongsTo:
		rel, err = p.source.BelongsTo(target, keys...)
	case table.KindHasManyThrough:
		viaName, verr := optionalString(p.v, "via")
		if verr != nil {
			return nil, verr
		}
		via, ok := c.relations[p.source.Name()][viaName]
		if !ok {
			return nil, errorAt(p.v, "via names unknown relation %q of %s", viaName, p.source.Name())
		}
		if via.Kind() == table.KindHasManyThrough {
			return nil, errorAt(p.v, "via relation %q must be direct", viaName)
		}
		rel, err = p.source.HasManyThrough(target, via, keys...)
	default:
		return nil, errorAt(p.v, "unknown relation kind %q", kind)
	}
	if err != nil {
		return nil, &Error{Path: p.v.Path().String(), Message: err.Error(), Pos: p.v.Pos()}
	}
	return applyModifiers(rel, p.v)
}

func keyOptions(v cue.Value) ([]table.KeyOption, error) {
	fields := []struct {
		name string
		opt  func(...string) table.KeyOption
	}{
		{"source_key", table.SourceKey},
		{"target_key", table.TargetKey},
		{"through_source_key", table.ThroughSourceKey},
		{"through_target_key", table.ThroughTargetKey},
	}
	var opts []table.KeyOption
	for _, f := range fields {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		cols, err := stringList(fv)
		if err != nil {
			return nil, err
		}
		opts = append(opts, f.opt(cols...))
	}
	return opts, nil
}

func applyModifiers(rel *table.Relation, v cue.Value) (*table.Relation, error) {
	if w := v.LookupPath(cue.ParsePath("where")); w.Exists() {
		where, err := whereMap(w)
		if err != nil {
			return nil, err
		}
		rel = rel.Where(where)
	}

	if ob := v.LookupPath(cue.ParsePath("order_by")); ob.Exists() {
		iter, err := ob.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			col, err := optionalString(iter.Value(), "column")
			if err != nil {
				return nil, err
			}
			dir, err := optionalString(iter.Value(), "direction")
			if err != nil {
				return nil, err
			}
			switch adapter.Direction(dir) {
			case "":
				dir = string(adapter.Asc)
			case adapter.Asc, adapter.Desc:
			default:
				return nil, errorAt(iter.Value(), "direction must be asc or desc, got %q", dir)
			}
			if !rel.Target().HasColumn(col) {
				return nil, errorAt(iter.Value(), "unknown column %q on %s", col, rel.Target().Name())
			}
			rel = rel.OrderBy(col, adapter.Direction(dir))
		}
	}

	if n, err := optionalInt(v, "limit"); err != nil {
		return nil, err
	} else if n != nil {
		rel = rel.Limit(int(*n))
	}
	if n, err := optionalInt(v, "offset"); err != nil {
		return nil, err
	} else if n != nil {
		rel = rel.Offset(int(*n))
	}
	return rel, nil
}

// whereMap reads an equality filter. Only scalar values are accepted.
func whereMap(v cue.Value) (predicate.Where, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := predicate.Where{}
	for iter.Next() {
		val, err := scalar(iter.Value())
		if err != nil {
			return nil, err
		}
		out[iter.Label()] = val
	}
	return out, nil
}

func scalar(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind:
		return v.Float64()
	case cue.BoolKind:
		return v.Bool()
	default:
		return nil, errorAt(v, "expected a concrete scalar, got %v", v.IncompleteKind())
	}
}
