package resolver

import (
	"sort"
	"strings"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/floraerr"
)

// Resolver maps a client Request against a parsed config.Registry into a
// ResourceTree and its flattened DST.
type Resolver struct {
	Registry *config.Registry
}

// frameOptions carries the request-level options that apply to one
// resource frame (the top-level resource, or one sub-resource selection),
// plus that frame's resource-level defaults/limits.
type frameOptions struct {
	Filter datasource.Filter
	Search string
	Order  []datasource.OrderClause
	Limit  *int
	Page   *int

	DefaultLimit int
	MaxLimit     int
	DefaultOrder []datasource.OrderClause
}

// Resolve runs the request-resolution pipeline and returns both the
// intermediate ResourceTree and the flattened, executable
// DST. Keeping both lets tests assert on resolution decisions without also
// asserting on DST flattening details.
func (r *Resolver) Resolve(req *Request) (*ResourceTree, *DST, error) {
	res, ok := r.Registry.Resources[req.Resource]
	if !ok {
		return nil, nil, floraerr.NewNotFoundError("resource %s: unknown resource", req.Resource)
	}

	cleanFilter, subFilterTrees, err := r.resolveRootSubFilters(res, req.Filter, req.Resource)
	if err != nil {
		return nil, nil, err
	}

	opts := frameOptions{
		Filter: cleanFilter, Search: req.Search, Order: req.Order, Limit: req.Limit, Page: req.Page,
		DefaultLimit: res.DefaultLimit, MaxLimit: res.MaxLimit, DefaultOrder: res.DefaultOrder,
	}

	tree, err := r.buildFrame(res.Attributes, res.Attributes, res.DataSources, req.Resource,
		res.PrimaryKey, req.Select, opts, req.ID, req.Internal)
	if err != nil {
		return nil, nil, err
	}
	// A request naming an id forces many=false; otherwise a root request
	// always produces a collection (cursor with totalCount).
	tree.Many = req.ID == ""
	tree.SubFilterTrees = subFilterTrees

	dst, err := r.buildDST(tree)
	if err != nil {
		return nil, nil, err
	}
	return tree, dst, nil
}

// resolveRootSubFilters rewrites any root-level filter part whose attribute
// path crosses a sub-resource boundary (e.g. "author.groupId") into either
// an inline rewrite (subFilter.RewriteTo) or a valueFromSubFilter marker
// backed by its own ResourceTree. Filter parts that stay within the root
// resource's own attributes pass through unchanged.
func (r *Resolver) resolveRootSubFilters(res *config.Resource, filter datasource.Filter, attrPath string) (datasource.Filter, []*ResourceTree, error) {
	if len(filter) == 0 {
		return filter, nil, nil
	}

	var trees []*ResourceTree
	out := make(datasource.Filter, len(filter))
	for i, and := range filter {
		parts := make([]datasource.FilterPart, len(and.Parts))
		for j, part := range and.Parts {
			if len(part.Attribute) < 2 {
				parts[j] = part
				continue
			}
			subName := part.Attribute[0]
			attr, ok := res.Attributes[subName]
			if !ok || attr.Kind != config.KindSubResource {
				parts[j] = part // within-frame nested path; validateFilter checks it later
				continue
			}

			sf := findSubFilter(res.SubFilters, part.Attribute)
			if sf == nil {
				return nil, nil, floraerr.NewRequestError("%s: filter attribute %s crosses a sub-resource boundary without a registered subFilter",
					attrPath, strings.Join(part.Attribute, "."))
			}
			if !operatorAllowed(sf.Operators, part.Operator) {
				return nil, nil, floraerr.NewRequestError("%s: subFilter %s does not allow operator %s",
					attrPath, strings.Join(part.Attribute, "."), part.Operator)
			}
			if len(sf.RewriteTo) > 0 {
				parts[j] = datasource.FilterPart{Attribute: sf.RewriteTo, Operator: part.Operator, Value: part.Value}
				continue
			}

			sub := attr.SubResource
			remainder := part.Attribute[1:]
			subOpts := frameOptions{
				Filter: datasource.Filter{{Parts: []datasource.FilterPart{{Attribute: remainder, Operator: part.Operator, Value: part.Value}}}},
			}
			subTree, err := r.buildFrame(sub.Attributes, sub.Attributes, sub.DataSources, attrPath+"."+subName,
				sub.PrimaryKey, &SelectNode{Attributes: []string{remainder[0]}}, subOpts, "", false, sub.ChildKey...)
			if err != nil {
				return nil, nil, err
			}
			subTree.Many = true
			subTree.ChildKey = sub.ChildKey
			subTree.ResolvedChildKey = sub.ResolvedChildKey

			idx := len(trees)
			trees = append(trees, subTree)
			parts[j] = datasource.FilterPart{
				Attribute:    sub.ParentKey,
				Operator:     datasource.OpEqual,
				Source:       datasource.ValueFromSubFilter,
				SubFilterIdx: idx,
			}
		}
		out[i] = datasource.AndClause{Parts: parts}
	}
	return out, trees, nil
}

func findSubFilter(subFilters []config.SubFilter, path []string) *config.SubFilter {
	for i, sf := range subFilters {
		if len(sf.Attribute) != len(path) {
			continue
		}
		match := true
		for k, p := range sf.Attribute {
			if p != path[k] {
				match = false
				break
			}
		}
		if match {
			return &subFilters[i]
		}
	}
	return nil
}

func operatorAllowed(allowed []datasource.Operator, op datasource.Operator) bool {
	for _, a := range allowed {
		if a == op {
			return true
		}
	}
	return false
}

// buildFrame resolves one resource frame -- the top-level resource, or a
// single sub-resource's attribute namespace -- into a ResourceTree (spec
// §4.3 steps 2-7). attrs is the attribute map to walk; frameAttrs is the
// same map (a frame has no nested "enclosing" attrs of its own, unlike
// config.resolveAttributes which also walks into nested namespaces without
// changing frame).
func (r *Resolver) buildFrame(attrs, frameAttrs map[string]*config.Attribute, dataSources map[string]*datasource.Descriptor,
	attrPath string, primaryKey []string, sel *SelectNode, opts frameOptions, id string, internal bool, forceSelect ...string) (*ResourceTree, error) {

	selected, children, err := r.walkSelection(attrs, frameAttrs, attrPath, sel, internal, nil)
	if err != nil {
		return nil, err
	}

	// Always select the frame's own primary key, plus whatever relation
	// keys the caller needs joined back against this frame's rows (a
	// sub-resource's childKey, or the enclosing frame's parentKey) --
	// visible or not.
	for _, part := range append(append([]string{}, primaryKey...), forceSelect...) {
		if !contains(selected, part) {
			selected = append(selected, part)
		}
	}
	for _, child := range children {
		for _, part := range child.ParentKey {
			if !contains(selected, part) {
				selected = append(selected, part)
			}
		}
	}

	resolvedPK, err := config.ResolveKeyColumns(frameAttrs, primaryKey)
	if err != nil {
		return nil, floraerr.NewImplementationError("%s: primaryKey: %v", attrPath, err)
	}

	primaryDS := choosePrimaryDataSource(dataSources, opts.Search != "")
	if primaryDS == "" {
		return nil, floraerr.NewImplementationError("%s: no usable primary data source", attrPath)
	}

	selectedByDS, bindings, err := distributeAttributes(frameAttrs, selected, dataSources, primaryDS, resolvedPK, attrPath)
	if err != nil {
		return nil, err
	}

	filter := opts.Filter
	if id != "" {
		filter = withIDEquals(filter, primaryKey, id)
	}
	if err := validateFilter(frameAttrs, filter, attrPath); err != nil {
		return nil, err
	}

	order := opts.Order
	if len(order) == 0 {
		order = opts.DefaultOrder
	}

	limit := opts.Limit
	if limit == nil && opts.DefaultLimit > 0 {
		l := opts.DefaultLimit
		limit = &l
	}
	if limit != nil && opts.MaxLimit > 0 && *limit > opts.MaxLimit {
		return nil, floraerr.NewRequestError("%s: limit %d exceeds maxLimit %d", attrPath, *limit, opts.MaxLimit)
	}

	if opts.Search != "" && !anySearchable(dataSources) {
		return nil, floraerr.NewRequestError("%s: search requested but no searchable data source", attrPath)
	}

	return &ResourceTree{
		ResourceName:         lastSegment(attrPath),
		AttributePath:        attrPath,
		SelectedByDataSource: selectedByDS,
		PrimaryDataSource:    primaryDS,
		PrimaryKey:           primaryKey,
		ResolvedPrimaryKey:   resolvedPK,
		Filter:               filter,
		Order:                order,
		Limit:                limit,
		Page:                 opts.Page,
		Search:               opts.Search,
		Children:             children,
		DataSources:          dataSources,
		Attrs:                frameAttrs,
		Sel:                  sel,
		LeafBindings:         bindings,
	}, nil
}

// walkSelection performs the projection traversal and returns the flat
// list of selected leaf attribute dotted-paths (relative
// to frameAttrs) plus the resolved ResourceTree for every selected
// sub-resource child.
func (r *Resolver) walkSelection(attrs, frameAttrs map[string]*config.Attribute, attrPath string, sel *SelectNode, internal bool, prefix []string) ([]string, []*ResourceTree, error) {
	var selected []string
	var children []*ResourceTree

	names := selectionNames(attrs, sel)
	for _, name := range names {
		attr, ok := attrs[name]
		if !ok {
			return nil, nil, floraerr.NewRequestError("%s: unknown attribute %s", attrPath, name)
		}

		switch attr.Kind {
		case config.KindLeaf:
			if attr.Leaf.Hidden && !internal {
				return nil, nil, floraerr.NewRequestError("%s: attribute %s is hidden", attrPath, name)
			}
			path := append(append([]string{}, prefix...), name)
			selected = append(selected, strings.Join(path, "."))
			// Merge depends as internal-only selections.
			for _, dep := range attr.Leaf.Depends {
				if leaf := config.FindLeaf(frameAttrs, strings.Split(dep, ".")); leaf != nil {
					if !contains(selected, dep) {
						selected = append(selected, dep)
					}
				}
			}

		case config.KindNested:
			var childSel *SelectNode
			if sel != nil {
				if sub, ok := sel.SubResources[name]; ok && sub != nil {
					childSel = sub.Select
				}
			}
			nestedSelected, nestedChildren, err := r.walkSelection(attr.Nested.Attributes, frameAttrs, attrPath+"."+name, childSel, internal, append(prefix, name))
			if err != nil {
				return nil, nil, err
			}
			selected = append(selected, nestedSelected...)
			children = append(children, nestedChildren...)

		case config.KindSubResource:
			if sel == nil {
				continue // sub-resources require explicit selection
			}
			subSel, ok := sel.SubResources[name]
			if !ok {
				continue
			}
			child, err := r.buildSubResourceFrame(attr.SubResource, frameAttrs, attrPath+"."+name, subSel)
			if err != nil {
				return nil, nil, err
			}
			children = append(children, child)
		}
	}

	return selected, children, nil
}

// selectionNames resolves the names to walk at one level: an explicit
// select list, or (when sel is nil, or names is empty with no
// sub-resources named) every non-sub-resource attribute, matching the
// common "no projection means give me the plain fields" default.
func selectionNames(attrs map[string]*config.Attribute, sel *SelectNode) []string {
	if sel != nil && len(sel.Attributes) > 0 {
		out := append([]string{}, sel.Attributes...)
		for name := range sel.SubResources {
			out = append(out, name)
		}
		return out
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
	sort.Strings(names)
	return names
}

func (r *Resolver) buildSubResourceFrame(sub *config.SubResourceAttribute, parentFrameAttrs map[string]*config.Attribute, attrPath string, subSel *SubResourceSelect) (*ResourceTree, error) {
	var sel *SelectNode
	var filter datasource.Filter
	var search string
	var order []datasource.OrderClause
	var limit, page *int
	if subSel != nil {
		sel, filter, search, order, limit, page = subSel.Select, subSel.Filter, subSel.Search, subSel.Order, subSel.Limit, subSel.Page
	}

	opts := frameOptions{Filter: filter, Search: search, Order: order, Limit: limit, Page: page, DefaultLimit: 10, MaxLimit: 100}

	child, err := r.buildFrame(sub.Attributes, sub.Attributes, sub.DataSources, attrPath, sub.PrimaryKey, sel, opts, "", false, sub.ChildKey...)
	if err != nil {
		return nil, err
	}

	child.Many = sub.Many
	child.ParentKey = sub.ParentKey
	child.ChildKey = sub.ChildKey
	child.ResolvedParentKey = sub.ResolvedParentKey
	child.ResolvedChildKey = sub.ResolvedChildKey
	child.JoinVia = sub.JoinVia
	if sub.JoinVia != "" {
		if desc, ok := sub.DataSources[sub.JoinVia]; ok {
			child.JoinParentKeyCols = desc.JoinParentKey
			child.JoinChildKeyCols = desc.JoinChildKey
		}
	}

	if len(sub.ParentKey) == 1 {
		if leaf := config.FindLeaf(parentFrameAttrs, strings.Split(sub.ParentKey[0], ".")); leaf != nil {
			child.MultiValuedParentKey = leaf.MultiValued
		}
	}
	// Child rows are unique per key value only when childKey is the child's
	// own primary key; a 1:n childKey such as comments.articleId repeats
	// across rows.
	uniqueChild := len(sub.ChildKey) == len(sub.PrimaryKey)
	for i := 0; uniqueChild && i < len(sub.ChildKey); i++ {
		uniqueChild = sub.ChildKey[i] == sub.PrimaryKey[i]
	}
	if len(sub.ChildKey) == 1 {
		if leaf := config.FindLeaf(sub.Attributes, strings.Split(sub.ChildKey[0], ".")); leaf != nil && leaf.MultiValued {
			uniqueChild = false
		}
	}
	child.UniqueChildKey = uniqueChild

	return child, nil
}

// choosePrimaryDataSource prefers a data source literally named
// "primary"; otherwise the lexicographically first
// non-join-table data source, further filtered to a searchable one if the
// request needs search.
func choosePrimaryDataSource(dataSources map[string]*datasource.Descriptor, needsSearch bool) string {
	if d, ok := dataSources["primary"]; ok && (!needsSearch || d.Searchable) {
		return "primary"
	}
	var names []string
	for name, d := range dataSources {
		if len(d.JoinParentKey) > 0 {
			continue
		}
		if needsSearch && !d.Searchable {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func anySearchable(dataSources map[string]*datasource.Descriptor) bool {
	for _, d := range dataSources {
		if d.Searchable {
			return true
		}
	}
	return false
}

// distributeAttributes assigns every selected leaf attribute to the data
// source that will serve it. A leaf mapped only
// under "default" is served by the primary data source; a leaf with an
// explicit per-source mapping that differs from the primary data source
// requires a same-resource secondary query, joined on the frame's own
// (already-resolved) primary key, unless that source is a join table, whose
// columns are read from the join node's own rows.
func distributeAttributes(attrs map[string]*config.Attribute, selected []string, dataSources map[string]*datasource.Descriptor, primaryDS string, resolvedPK map[string][]string, attrPath string) (map[string][]string, map[string]LeafBinding, error) {
	out := map[string][]string{}
	bindings := map[string]LeafBinding{}
	for _, path := range selected {
		leaf := config.FindLeaf(attrs, strings.Split(path, "."))
		if leaf == nil {
			return nil, nil, floraerr.NewImplementationError("%s: selected path %s does not reference a leaf attribute", attrPath, path)
		}
		if leaf.Value != nil {
			bindings[path] = LeafBinding{Static: true, StaticValue: *leaf.Value}
			continue // static value, never queried
		}

		ds := primaryDS
		col, ok := leaf.Map[primaryDS]
		if !ok {
			if c, hasDefault := leaf.Map["default"]; hasDefault {
				col = c
			} else {
				// explicit mapping naming a different data source: served
				// by that source instead, joined on the frame's primary
				// key (a same-group-style distribution).
				found := false
				for name, c2 := range leaf.Map {
					if _, exists := dataSources[name]; exists {
						if _, inPK := resolvedPK[name]; !inPK && len(dataSources[name].JoinParentKey) == 0 {
							continue // can't join back without the primary key mapped there
						}
						ds, col, found = name, c2, true
						break
					}
				}
				if !found {
					return nil, nil, floraerr.NewImplementationError("%s: %s has no mapping reachable from primary data source %s", attrPath, path, primaryDS)
				}
			}
		}
		out[ds] = appendUnique(out[ds], col)
		bindings[path] = LeafBinding{DataSource: ds, Column: col}
	}
	return out, bindings, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func withIDEquals(base datasource.Filter, primaryKey []string, id string) datasource.Filter {
	parts := make([]datasource.FilterPart, len(primaryKey))
	ids := strings.Split(id, "-") // composite ids are hyphen-joined
	for i, part := range primaryKey {
		var v any = id
		if len(ids) == len(primaryKey) {
			v = ids[i]
		}
		parts[i] = datasource.FilterPart{Attribute: strings.Split(part, "."), Operator: datasource.OpEqual, Value: v}
	}
	clause := datasource.AndClause{Parts: parts}
	if len(base) == 0 {
		return datasource.Filter{clause}
	}
	out := make(datasource.Filter, len(base))
	for i, and := range base {
		merged := and
		merged.Parts = append(append([]datasource.FilterPart{}, and.Parts...), parts...)
		out[i] = merged
	}
	return out
}

func validateFilter(attrs map[string]*config.Attribute, filter datasource.Filter, attrPath string) error {
	for _, and := range filter {
		for _, part := range and.Parts {
			leaf := config.FindLeaf(attrs, part.Attribute)
			if leaf == nil {
				return floraerr.NewRequestError("%s: filter references unknown attribute %s", attrPath, strings.Join(part.Attribute, "."))
			}
			if part.Source != datasource.ValueLiteral {
				continue // resolved later by the executor
			}
			allowed := false
			for _, op := range leaf.FilterOps {
				if op == part.Operator {
					allowed = true
					break
				}
			}
			if !allowed {
				return floraerr.NewRequestError("%s: attribute %s does not allow filter operator %s", attrPath, strings.Join(part.Attribute, "."), part.Operator)
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func lastSegment(path string) string {
	parts := strings.Split(path, ".")
	return parts[len(parts)-1]
}
