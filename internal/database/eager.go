package database

import (
	"context"
	"slices"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/table"
)

// relationQuery applies the relation's filters, ordering and nested
// relations to a query on its target. Limit and offset apply per parent row
// and are left to window.
func (db *Database) relationQuery(rel *table.Relation) *QueryBuilder {
	mods := rel.Modifiers()
	q := db.Query(rel.Target()).Where(mods.Where...)
	for _, o := range mods.OrderBy {
		q = q.OrderBy(o.Column, o.Direction)
	}
	for _, n := range mods.With {
		q = q.With(n.Name, n.Relation)
	}
	return q
}

// window applies the relation's offset and limit to one parent's rows.
func window(rows []adapter.Row, mods table.Modifiers) []adapter.Row {
	if mods.Offset != nil {
		rows = rows[min(max(*mods.Offset, 0), len(rows)):]
	}
	if mods.Limit != nil {
		rows = rows[:min(max(*mods.Limit, 0), len(rows))]
	}
	return rows
}

func requireColumns(rows []adapter.Row, name string, cols []string) error {
	for _, r := range rows {
		for _, c := range cols {
			if _, ok := r[c]; !ok {
				return dberr.NewQueryError("relation %s needs column %q in the selection", name, c)
			}
		}
	}
	return nil
}

func attachEmpty(rows []adapter.Row, name string, card table.Cardinality) {
	for _, r := range rows {
		if card == table.Many {
			r[name] = []adapter.Row{}
		} else {
			r[name] = nil
		}
	}
}

// loadRelation fetches rel for rows with one follow-up query (two for
// hasManyThrough) and attaches the matches to each row under name.
func (db *Database) loadRelation(ctx context.Context, rows []adapter.Row, name string, rel *table.Relation) error {
	if len(rows) == 0 {
		return nil
	}
	sourceKey := rel.SourceKey()
	if err := requireColumns(rows, name, sourceKey); err != nil {
		return err
	}
	attachEmpty(rows, name, rel.Cardinality())

	keys := tuples(rows, sourceKey)
	if len(keys) == 0 {
		return nil
	}

	switch rel.Kind() {
	case table.KindHasManyThrough:
		return db.loadThrough(ctx, rows, name, rel, keys)
	case table.KindHasMany, table.KindHasOne, table.KindBelongsTo:
		return db.loadDirect(ctx, rows, name, rel, keys)
	default:
		return dberr.NewQueryError("unknown relation kind %q", rel.Kind())
	}
}

func (db *Database) loadDirect(ctx context.Context, rows []adapter.Row, name string, rel *table.Relation, keys [][]any) error {
	targetKey := rel.TargetKey()
	targets, err := db.relationQuery(rel).Where(keyFilter(targetKey, keys)).All(ctx)
	if err != nil {
		return err
	}
	if err := requireColumns(targets, name, targetKey); err != nil {
		return err
	}

	groups := map[string][]adapter.Row{}
	for _, t := range targets {
		k, ok := tupleKey(t, targetKey)
		if ok {
			groups[k] = append(groups[k], t)
		}
	}

	mods := rel.Modifiers()
	for k, group := range groups {
		groups[k] = slices.Clip(window(group, mods))
	}

	sourceKey := rel.SourceKey()
	for _, r := range rows {
		k, ok := tupleKey(r, sourceKey)
		if !ok {
			continue
		}
		group, found := groups[k]
		if rel.Cardinality() == table.Many {
			if found {
				r[name] = group
			}
		} else if len(group) > 0 {
			r[name] = group[0]
		}
	}
	return nil
}

// loadThrough hops source rows → intermediate rows → target rows. Each
// source row gets its targets in target-query order, each target at most
// once, before offset and limit are applied.
func (db *Database) loadThrough(ctx context.Context, rows []adapter.Row, name string, rel *table.Relation, keys [][]any) error {
	through := rel.Through()
	linkKey := rel.TargetKey()

	links, err := db.Query(through.Relation.Target()).
		Where(through.Relation.Modifiers().Where...).
		Where(keyFilter(linkKey, keys)).
		All(ctx)
	if err != nil {
		return err
	}
	if err := requireColumns(links, name, slices.Concat(linkKey, through.SourceKey)); err != nil {
		return err
	}

	// Bridge keys per source key, in link order.
	bridges := map[string][]string{}
	for _, l := range links {
		sk, ok := tupleKey(l, linkKey)
		if !ok {
			continue
		}
		bk, ok := tupleKey(l, through.SourceKey)
		if !ok {
			continue
		}
		bridges[sk] = append(bridges[sk], bk)
	}

	bridgeTuples := tuples(links, through.SourceKey)
	if len(bridgeTuples) == 0 {
		return nil
	}
	targets, err := db.relationQuery(rel).Where(keyFilter(through.TargetKey, bridgeTuples)).All(ctx)
	if err != nil {
		return err
	}
	pk := rel.Target().PrimaryKey()
	if err := requireColumns(targets, name, slices.Concat(pk, through.TargetKey)); err != nil {
		return err
	}

	mods := rel.Modifiers()
	sourceKey := rel.SourceKey()
	for _, r := range rows {
		sk, ok := tupleKey(r, sourceKey)
		if !ok {
			continue
		}
		wanted := map[string]bool{}
		for _, bk := range bridges[sk] {
			wanted[bk] = true
		}
		if len(wanted) == 0 {
			continue
		}
		seen := map[string]bool{}
		matched := []adapter.Row{}
		for _, t := range targets {
			tk, ok := tupleKey(t, through.TargetKey)
			if !ok || !wanted[tk] {
				continue
			}
			id, ok := tupleKey(t, pk)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			matched = append(matched, t)
		}
		r[name] = window(matched, mods)
	}
	return nil
}
