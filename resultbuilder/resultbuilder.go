// Package resultbuilder joins the flat, depth-first raw result list the
// executor produces into the nested response shape the resolved
// config.Registry and resolver.ResourceTree describe. It is pure: the same
// (tree, results) pair always assembles the same response.
package resultbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/executor"
	"github.com/florajs/flora-go/extension"
	"github.com/florajs/flora-go/floraerr"
	"github.com/florajs/flora-go/resolver"
	log "github.com/sirupsen/logrus"
)

// Response is what ResultBuilder hands back to the façade, matching the
// envelope's "data"/"cursor" fields.
type Response struct {
	// Data is a map[string]any for a many=false root, or []map[string]any
	// for many=true.
	Data any

	// Cursor is non-nil only for many=true nodes.
	Cursor *Cursor
}

// Cursor carries pagination metadata for the response envelope's "cursor"
// field.
type Cursor struct {
	TotalCount int `json:"totalCount"`
}

// Builder assembles a Response from one request's flat raw result list.
// Extensions runs the "item" hook once per assembled row, per resource.
type Builder struct {
	Extensions *extension.Registry
}

// resultKey keys a single executor.Result by the (attributePath, dataSource)
// pair its owning DST node was built from.
type resultKey struct {
	attributePath string
	dataSource    string
}

// Build assembles the response for the resolved root tree.
func (b *Builder) Build(ctx context.Context, tree *resolver.ResourceTree, results []executor.Result) (*Response, error) {
	byKey := map[resultKey]executor.Result{}
	for _, r := range results {
		byKey[resultKey{r.AttributePath, r.DataSourceName}] = r
	}

	root, ok := byKey[resultKey{tree.AttributePath, tree.PrimaryDataSource}]
	if !ok {
		return nil, floraerr.NewImplementationError("%s: no result for primary data source %s", tree.AttributePath, tree.PrimaryDataSource)
	}

	if !tree.Many {
		// many=false with zero rows is NotFoundError; more than one row
		// returns the first (logged).
		if len(root.Rows) == 0 {
			return nil, floraerr.NewNotFoundError("%s: no matching row", tree.AttributePath)
		}
		if len(root.Rows) > 1 {
			log.WithField("attribute", tree.AttributePath).Warnf("%d rows for a single-object request; returning the first", len(root.Rows))
		}
		item, err := b.buildItem(ctx, tree, root.Rows[0], byKey)
		if err != nil {
			return nil, err
		}
		return &Response{Data: item}, nil
	}

	items := make([]map[string]any, 0, len(root.Rows))
	for _, row := range root.Rows {
		item, err := b.buildItem(ctx, tree, row, byKey)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	total := len(items)
	if root.TotalCount != nil {
		total = *root.TotalCount
	}
	return &Response{Data: items, Cursor: &Cursor{TotalCount: total}}, nil
}

// buildItem recursively assembles one row of tree's primary data source
// into the response shape.
func (b *Builder) buildItem(ctx context.Context, tree *resolver.ResourceTree, row datasource.Row, byKey map[resultKey]executor.Result) (map[string]any, error) {
	secondaryRows, err := b.secondaryRows(tree, row, byKey)
	if err != nil {
		return nil, err
	}

	item, err := b.walkAttrs(ctx, tree, tree.Attrs, tree.Sel, row, secondaryRows, byKey)
	if err != nil {
		return nil, err
	}

	if b.Extensions != nil {
		item, err = b.Extensions.RunItem(ctx, tree.ResourceName, item)
		if err != nil {
			return nil, err
		}
	}
	return item, nil
}

// secondaryRows resolves every non-primary data source's row matching the
// current primary row's primary key: for every secondary data source of
// this resource, look up its row by the primary key; missing rows become
// null (logged, not fatal).
func (b *Builder) secondaryRows(tree *resolver.ResourceTree, row datasource.Row, byKey map[resultKey]executor.Result) (map[string]datasource.Row, error) {
	out := map[string]datasource.Row{}
	primaryCols := tree.ResolvedPrimaryKey[tree.PrimaryDataSource]
	key, isNull := rowKey(row, primaryCols)
	if isNull {
		return nil, floraerr.NewDataError("%s: row missing primary key column(s) %v", tree.AttributePath, primaryCols)
	}

	for ds := range tree.SelectedByDataSource {
		if ds == tree.PrimaryDataSource || ds == tree.JoinVia {
			continue // join rows are attached by buildChildItem
		}
		res, ok := byKey[resultKey{tree.AttributePath, ds}]
		if !ok {
			return nil, floraerr.NewImplementationError("%s: no result for secondary data source %s", tree.AttributePath, ds)
		}
		cols := tree.ResolvedPrimaryKey[ds]
		idx := indexUnique(res.Rows, cols)
		secRow, found := idx[key]
		if !found {
			// An empty sub-request result (a secondary source with zero
			// matching rows for this id) is a normal outcome, not a config
			// bug: the attributes it serves stay null.
			log.WithFields(log.Fields{"attribute": tree.AttributePath, "dataSource": ds, "key": key}).Warn("no secondary row for primary key")
			continue
		}
		out[ds] = secRow
	}
	return out, nil
}

// walkAttrs recurses the frame's Leaf/Nested/SubResource attribute tree,
// filtered to what the client selected, building one output map
func (b *Builder) walkAttrs(ctx context.Context, tree *resolver.ResourceTree, attrs map[string]*config.Attribute, sel *resolver.SelectNode, row datasource.Row, secondaryRows map[string]datasource.Row, byKey map[resultKey]executor.Result) (map[string]any, error) {
	return b.walkAttrsAt(ctx, tree, attrs, sel, tree.AttributePath, nil, row, secondaryRows, byKey)
}

func (b *Builder) walkAttrsAt(ctx context.Context, tree *resolver.ResourceTree, attrs map[string]*config.Attribute, sel *resolver.SelectNode, attrPath string, pathPrefix []string, row datasource.Row, secondaryRows map[string]datasource.Row, byKey map[resultKey]executor.Result) (map[string]any, error) {
	out := map[string]any{}
	for _, name := range attributeOrder(attrs, sel) {
		attr := attrs[name]
		switch attr.Kind {
		case config.KindLeaf:
			path := strings.Join(append(append([]string{}, pathPrefix...), name), ".")
			binding, ok := tree.LeafBindings[path]
			if !ok {
				continue // a depends-only internal selection, never surfaced
			}
			out[name] = leafValue(binding, row, secondaryRows)

		case config.KindNested:
			var childSel *resolver.SelectNode
			if sel != nil {
				if sub, ok := sel.SubResources[name]; ok && sub != nil {
					childSel = sub.Select
				}
			}
			nested, err := b.walkAttrsAt(ctx, tree, attr.Nested.Attributes, childSel, attrPath+"."+name, append(pathPrefix, name), row, secondaryRows, byKey)
			if err != nil {
				return nil, err
			}
			out[name] = nested

		case config.KindSubResource:
			if sel == nil {
				continue
			}
			if _, ok := sel.SubResources[name]; !ok {
				continue
			}
			childPath := attrPath + "." + name
			child := findChild(tree.Children, childPath)
			if child == nil {
				continue
			}
			value, err := b.buildSubResource(ctx, tree, child, row, secondaryRows, byKey)
			if err != nil {
				return nil, err
			}
			out[name] = value
		}
	}
	return out, nil
}

// buildSubResource derives the parent key value(s) from the current row,
// resolves the matching child row(s) via indexedData, and recurses.
func (b *Builder) buildSubResource(ctx context.Context, parent, child *resolver.ResourceTree, row datasource.Row, secondaryRows map[string]datasource.Row, byKey map[resultKey]executor.Result) (any, error) {
	parentValues, allNull := projectParentKey(parent, child.ParentKey, row, secondaryRows)
	if allNull {
		// keyIsNull semantics: if every part is null, the sub-resource is an
		// empty list (or null for many=false).
		if child.Many {
			return []map[string]any{}, nil
		}
		return nil, nil
	}

	childRows, childSecondaryByKey, err := b.childRowSource(child, byKey)
	if err != nil {
		return nil, err
	}

	if child.MultiValuedParentKey {
		seen := map[string]bool{}
		var items []map[string]any
		for _, v := range asList(parentValues[0]) {
			k := fmt.Sprint(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			rows := childRows[k]
			for _, cr := range rows {
				item, err := b.buildChildItem(ctx, child, cr, childSecondaryByKey, byKey)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
		}
		if items == nil {
			items = []map[string]any{}
		}
		return items, nil
	}

	key := compositeKey(parentValues)
	rows, found := childRows[key]
	if !found || len(rows) == 0 {
		if child.Many {
			return []map[string]any{}, nil
		}
		return nil, nil
	}

	if !child.Many {
		item, err := b.buildChildItem(ctx, child, rows[0], childSecondaryByKey, byKey)
		if err != nil {
			return nil, err
		}
		return item, nil
	}

	items := make([]map[string]any, 0, len(rows))
	for _, cr := range rows {
		item, err := b.buildChildItem(ctx, child, cr, childSecondaryByKey, byKey)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// buildChildItem is buildItem specialized for a sub-resource row: when the
// relation went through a join table, the join row (looked up by the
// child's own resolved childKey) is folded into secondaryRows under the
// joinVia name so join-table columns can be mapped like any other
// secondary source by carrying the join-row into secondaryRows.
func (b *Builder) buildChildItem(ctx context.Context, child *resolver.ResourceTree, row datasource.Row, joinSecondary map[string]datasource.Row, byKey map[resultKey]executor.Result) (map[string]any, error) {
	secondary, err := b.secondaryRows(child, row, byKey)
	if err != nil {
		return nil, err
	}
	if len(joinSecondary) > 0 {
		key, isNull := rowKey(row, child.ResolvedChildKey[child.PrimaryDataSource])
		if !isNull {
			if jr, ok := joinSecondary[key]; ok {
				secondary[child.JoinVia] = jr
			}
		}
	}

	item, err := b.walkAttrs(ctx, child, child.Attrs, child.Sel, row, secondary, byKey)
	if err != nil {
		return nil, err
	}
	if b.Extensions != nil {
		item, err = b.Extensions.RunItem(ctx, child.ResourceName, item)
		if err != nil {
			return nil, err
		}
	}
	return item, nil
}

// childRowSource resolves the executor.Result that actually holds a
// sub-resource's rows, and indexes them by its resolved childKey. For a
// joinVia relation, the join table's rows are walked in their returned
// order (join-row sequence, not map order) so a parent with several
// children through the join table keeps every one of them and preserves
// their original ordering; the join row is also indexed by its own
// child-side column so buildChildItem can re-attach it as secondary data
// once a target row is picked.
func (b *Builder) childRowSource(child *resolver.ResourceTree, byKey map[resultKey]executor.Result) (map[string][]datasource.Row, map[string]datasource.Row, error) {
	targetRes, ok := byKey[resultKey{child.AttributePath, child.PrimaryDataSource}]
	if !ok {
		return nil, nil, floraerr.NewImplementationError("%s: no result for data source %s", child.AttributePath, child.PrimaryDataSource)
	}

	if child.JoinVia == "" {
		idx, err := indexChildRows(targetRes.Rows, child.ResolvedChildKey[child.PrimaryDataSource], child.UniqueChildKey, child.AttributePath)
		return idx, nil, err
	}

	joinRes, ok := byKey[resultKey{child.AttributePath, child.JoinVia}]
	if !ok {
		return nil, nil, floraerr.NewImplementationError("%s: no join result for data source %s", child.AttributePath, child.JoinVia)
	}

	targetIdx, err := indexChildRows(targetRes.Rows, child.ResolvedChildKey[child.PrimaryDataSource], child.UniqueChildKey, child.AttributePath)
	if err != nil {
		return nil, nil, err
	}

	out := map[string][]datasource.Row{}
	joinByChildKey := map[string]datasource.Row{}
	for _, jr := range joinRes.Rows {
		parentVal, parentIsNull := rowKey(jr, child.JoinParentKeyCols)
		childVal, childIsNull := rowKey(jr, child.JoinChildKeyCols)
		if parentIsNull || childIsNull {
			continue
		}
		out[parentVal] = append(out[parentVal], targetIdx[childVal]...)
		joinByChildKey[childVal] = jr
	}
	return out, joinByChildKey, nil
}

func indexChildRows(rows []datasource.Row, cols []string, unique bool, attrPath string) (map[string][]datasource.Row, error) {
	out := map[string][]datasource.Row{}
	for _, row := range rows {
		key, isNull := rowKey(row, cols)
		if isNull {
			return nil, floraerr.NewDataError("%s: row missing childKey column(s) %v", attrPath, cols)
		}
		if unique {
			if existing, ok := out[key]; ok && len(existing) > 0 {
				return nil, floraerr.NewDataError("%s: duplicate value for unique childKey %v", attrPath, cols)
			}
		}
		out[key] = append(out[key], row)
	}
	return out, nil
}

func indexUnique(rows []datasource.Row, cols []string) map[string]datasource.Row {
	out := map[string]datasource.Row{}
	for _, row := range rows {
		key, isNull := rowKey(row, cols)
		if isNull {
			continue
		}
		out[key] = row
	}
	return out
}

// projectParentKey extracts the parentKey value(s) of a sub-resource from
// the enclosing row -- from the primary row if every part maps there, from
// a secondary row otherwise.
func projectParentKey(parent *resolver.ResourceTree, parentKey []string, row datasource.Row, secondaryRows map[string]datasource.Row) ([]any, bool) {
	values := make([]any, len(parentKey))
	allNull := true
	for i, p := range parentKey {
		binding, ok := parent.LeafBindings[p]
		var v any
		if ok && !binding.Static {
			if binding.DataSource == parent.PrimaryDataSource || binding.DataSource == "" {
				v = row[binding.Column]
			} else if sr, found := secondaryRows[binding.DataSource]; found {
				v = sr[binding.Column]
			}
		} else {
			// no binding recorded (e.g. the key wasn't independently
			// selected as a leaf under this exact path): fall back to the
			// resolver's last-segment convention used throughout this
			// engine for key columns (see executor.keyCol).
			v = row[lastSeg([]string{p})]
		}
		values[i] = v
		if v != nil {
			allNull = false
		}
	}
	return values, allNull
}

func leafValue(binding resolver.LeafBinding, row datasource.Row, secondaryRows map[string]datasource.Row) any {
	if binding.Static {
		return binding.StaticValue
	}
	if binding.DataSource == "" {
		return row[binding.Column]
	}
	if sr, ok := secondaryRows[binding.DataSource]; ok {
		return sr[binding.Column]
	}
	return row[binding.Column]
}

// attributeOrder returns a stable, deterministic iteration order over an
// attribute map: selection order for explicit selects (then any further
// selected sub-resources, alphabetically), alphabetical otherwise.
// Deterministic iteration keeps response shape reproducible across runs
// even though the underlying maps are not ordered.
func attributeOrder(attrs map[string]*config.Attribute, sel *resolver.SelectNode) []string {
	if sel != nil && len(sel.Attributes) > 0 {
		out := append([]string{}, sel.Attributes...)
		var subs []string
		for name := range sel.SubResources {
			if !contains(out, name) {
				subs = append(subs, name)
			}
		}
		sortStrings(subs)
		return append(out, subs...)
	}
	var names []string
	for name, attr := range attrs {
		if sel == nil && attr.Kind == config.KindSubResource {
			continue
		}
		if sel != nil {
			if _, ok := sel.SubResources[name]; !ok && attr.Kind == config.KindSubResource {
				continue
			}
		}
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func findChild(children []*resolver.ResourceTree, attrPath string) *resolver.ResourceTree {
	for _, c := range children {
		if c.AttributePath == attrPath {
			return c
		}
	}
	return nil
}

func rowKey(row datasource.Row, cols []string) (string, bool) {
	if len(cols) == 0 {
		return "", true
	}
	parts := make([]string, len(cols))
	allNull := true
	for i, c := range cols {
		v := row[c]
		if v != nil {
			allNull = false
		}
		parts[i] = fmt.Sprint(v)
	}
	if allNull {
		return "", true
	}
	return strings.Join(parts, "-"), false
}

func compositeKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "-")
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func lastSeg(path []string) string {
	if len(path) == 0 {
		return ""
	}
	last := path[len(path)-1]
	if i := strings.LastIndexByte(last, '.'); i >= 0 {
		return last[i+1:]
	}
	return last
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
