package table

import (
	"slices"

	"github.com/go-openapi/inflect"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/predicate"
)

// Kind is the relation kind.
type Kind string

const (
	KindHasMany        Kind = "hasMany"
	KindHasOne         Kind = "hasOne"
	KindBelongsTo      Kind = "belongsTo"
	KindHasManyThrough Kind = "hasManyThrough"
)

// Cardinality says whether a relation attaches one row or a list.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Through bridges a hasManyThrough relation from the intermediate table to
// the target table.
type Through struct {
	// Relation runs from the declaring table to the intermediate table.
	Relation *Relation

	// SourceKey lists the intermediate table columns referencing the target.
	SourceKey []string

	// TargetKey lists the matching target table columns.
	TargetKey []string
}

// Named is a relation attached under a name.
type Named struct {
	Name     string
	Relation *Relation
}

// Modifiers are clauses applied to every load of a relation.
type Modifiers struct {
	Where   []predicate.Predicate
	OrderBy []adapter.OrderBy
	Limit   *int
	Offset  *int
	With    []Named
}

func (m Modifiers) clone() Modifiers {
	out := Modifiers{
		Where:   slices.Clone(m.Where),
		OrderBy: slices.Clone(m.OrderBy),
		With:    slices.Clone(m.With),
	}
	if m.Limit != nil {
		n := *m.Limit
		out.Limit = &n
	}
	if m.Offset != nil {
		n := *m.Offset
		out.Offset = &n
	}
	return out
}

// Relation is an immutable, typed edge from a source table to a target
// table. Modifier methods return a new relation.
type Relation struct {
	kind        Kind
	cardinality Cardinality
	source      *Table
	target      *Table
	sourceKey   []string
	targetKey   []string
	through     *Through
	mods        Modifiers
}

// KeyOption overrides the inferred relation keys.
type KeyOption func(*keySpec)

type keySpec struct {
	source        []string
	target        []string
	throughSource []string
	throughTarget []string
}

// SourceKey sets the key columns on the declaring table.
func SourceKey(cols ...string) KeyOption {
	return func(k *keySpec) { k.source = slices.Clone(cols) }
}

// TargetKey sets the key columns on the target table.
func TargetKey(cols ...string) KeyOption {
	return func(k *keySpec) { k.target = slices.Clone(cols) }
}

// ThroughSourceKey sets the intermediate table columns of a hasManyThrough
// relation that reference the target.
func ThroughSourceKey(cols ...string) KeyOption {
	return func(k *keySpec) { k.throughSource = slices.Clone(cols) }
}

// ThroughTargetKey sets the target table columns of a hasManyThrough
// relation that the intermediate table references.
func ThroughTargetKey(cols ...string) KeyOption {
	return func(k *keySpec) { k.throughTarget = slices.Clone(cols) }
}

func applyKeys(opts []KeyOption) keySpec {
	var k keySpec
	for _, opt := range opts {
		opt(&k)
	}
	return k
}

// ForeignKey is the inferred foreign key column referencing t.
func ForeignKey(t *Table) string {
	return inflect.Singularize(t.name) + "_id"
}

// HasMany declares that each source row owns any number of target rows.
// The target key defaults to singular(source)_id, the source key to the
// source primary key.
func (t *Table) HasMany(target *Table, opts ...KeyOption) (*Relation, error) {
	return t.owning(KindHasMany, Many, target, opts)
}

// HasOne is HasMany with at most one attached row.
func (t *Table) HasOne(target *Table, opts ...KeyOption) (*Relation, error) {
	return t.owning(KindHasOne, One, target, opts)
}

func (t *Table) owning(kind Kind, card Cardinality, target *Table, opts []KeyOption) (*Relation, error) {
	if target == nil {
		return nil, tableError(t.name, "%s relation has no target table", kind)
	}
	k := applyKeys(opts)
	if k.source == nil {
		k.source = t.PrimaryKey()
	}
	if k.target == nil {
		k.target = []string{ForeignKey(t)}
	}
	return newRelation(kind, card, t, target, k.source, k.target)
}

// BelongsTo declares that each source row references one target row.
// The source key defaults to singular(target)_id, the target key to the
// target primary key.
func (t *Table) BelongsTo(target *Table, opts ...KeyOption) (*Relation, error) {
	if target == nil {
		return nil, tableError(t.name, "%s relation has no target table", KindBelongsTo)
	}
	k := applyKeys(opts)
	if k.source == nil {
		k.source = []string{ForeignKey(target)}
	}
	if k.target == nil {
		k.target = target.PrimaryKey()
	}
	return newRelation(KindBelongsTo, One, t, target, k.source, k.target)
}

// HasManyThrough declares a many relation that hops over an intermediate
// table. via must start at t; its keys link source rows to intermediate
// rows. The bridging keys default to singular(target)_id on the
// intermediate table and the target primary key.
func (t *Table) HasManyThrough(target *Table, via *Relation, opts ...KeyOption) (*Relation, error) {
	if target == nil || via == nil {
		return nil, tableError(t.name, "%s relation needs a target and a through relation", KindHasManyThrough)
	}
	if via.source != t {
		return nil, tableError(t.name, "through relation starts at %s, not %s", via.source.name, t.name)
	}
	k := applyKeys(opts)
	if k.throughSource == nil {
		k.throughSource = []string{ForeignKey(target)}
	}
	if k.throughTarget == nil {
		k.throughTarget = target.PrimaryKey()
	}
	if err := assertKeyLengths(t.name, k.throughSource, k.throughTarget); err != nil {
		return nil, err
	}
	if err := assertColumns(via.target, k.throughSource); err != nil {
		return nil, err
	}
	if err := assertColumns(target, k.throughTarget); err != nil {
		return nil, err
	}

	r, err := newRelation(KindHasManyThrough, Many, t, target, via.sourceKey, via.targetKey)
	if err != nil {
		return nil, err
	}
	r.through = &Through{
		Relation:  via,
		SourceKey: k.throughSource,
		TargetKey: k.throughTarget,
	}
	return r, nil
}

func newRelation(kind Kind, card Cardinality, source, target *Table, sourceKey, targetKey []string) (*Relation, error) {
	if err := assertKeyLengths(source.name, sourceKey, targetKey); err != nil {
		return nil, err
	}
	if err := assertColumns(source, sourceKey); err != nil {
		return nil, err
	}
	if kind != KindHasManyThrough {
		if err := assertColumns(target, targetKey); err != nil {
			return nil, err
		}
	}
	return &Relation{
		kind:        kind,
		cardinality: card,
		source:      source,
		target:      target,
		sourceKey:   slices.Clone(sourceKey),
		targetKey:   slices.Clone(targetKey),
	}, nil
}

func assertKeyLengths(table string, source, target []string) error {
	if len(source) == 0 {
		return tableError(table, "relation key list is empty")
	}
	if len(source) != len(target) {
		return tableError(table, "relation key lengths differ: %d source, %d target", len(source), len(target))
	}
	return nil
}

func assertColumns(t *Table, cols []string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return tableError(t.name, "relation key column %q does not exist", c)
		}
	}
	return nil
}

// Kind returns the relation kind.
func (r *Relation) Kind() Kind { return r.kind }

// Cardinality returns One or Many.
func (r *Relation) Cardinality() Cardinality { return r.cardinality }

// Source returns the declaring table.
func (r *Relation) Source() *Table { return r.source }

// Target returns the table whose rows are attached.
func (r *Relation) Target() *Table { return r.target }

// SourceKey returns the key columns on the source table.
func (r *Relation) SourceKey() []string { return slices.Clone(r.sourceKey) }

// TargetKey returns the key columns on the table the source key matches:
// the target for direct relations, the intermediate table for
// hasManyThrough.
func (r *Relation) TargetKey() []string { return slices.Clone(r.targetKey) }

// Through returns the bridge of a hasManyThrough relation, or nil.
func (r *Relation) Through() *Through {
	if r.through == nil {
		return nil
	}
	return &Through{
		Relation:  r.through.Relation,
		SourceKey: slices.Clone(r.through.SourceKey),
		TargetKey: slices.Clone(r.through.TargetKey),
	}
}

// Modifiers returns a copy of the attached clauses.
func (r *Relation) Modifiers() Modifiers { return r.mods.clone() }

func (r *Relation) derive(patch func(*Modifiers)) *Relation {
	next := *r
	next.mods = r.mods.clone()
	patch(&next.mods)
	return &next
}

// Where adds target-table predicates.
func (r *Relation) Where(preds ...predicate.Predicate) *Relation {
	return r.derive(func(m *Modifiers) {
		for _, p := range preds {
			if p != nil {
				m.Where = append(m.Where, predicate.Normalize(p))
			}
		}
	})
}

// OrderBy adds an ordering of the target rows.
func (r *Relation) OrderBy(col string, dir adapter.Direction) *Relation {
	return r.derive(func(m *Modifiers) {
		m.OrderBy = append(m.OrderBy, adapter.OrderBy{Column: col, Direction: dir})
	})
}

// Limit caps the number of target rows attached to each source row.
func (r *Relation) Limit(n int) *Relation {
	return r.derive(func(m *Modifiers) { m.Limit = &n })
}

// Offset skips the first target rows of each source row.
func (r *Relation) Offset(n int) *Relation {
	return r.derive(func(m *Modifiers) { m.Offset = &n })
}

// With attaches a nested relation, loaded on the target rows. A relation
// already attached under name is replaced.
func (r *Relation) With(name string, rel *Relation) *Relation {
	return r.derive(func(m *Modifiers) {
		for i, n := range m.With {
			if n.Name == name {
				m.With[i].Relation = rel
				return
			}
		}
		m.With = append(m.With, Named{Name: name, Relation: rel})
	})
}
