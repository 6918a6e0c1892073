package resolver

import (
	"sort"
	"strings"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/floraerr"
)

// buildDST flattens a resolved ResourceTree into its executable DST: one
// DST node per data source query, same-resource secondary sources and
// child resources both hung off the primary node as subRequests.
func (r *Resolver) buildDST(tree *ResourceTree) (*DST, error) {
	res := r.lookupFrameAttrs(tree)

	primaryCols := append([]string{}, tree.SelectedByDataSource[tree.PrimaryDataSource]...)
	if pk, ok := tree.ResolvedPrimaryKey[tree.PrimaryDataSource]; ok {
		for _, c := range pk {
			primaryCols = appendUnique(primaryCols, c)
		}
	}
	sort.Strings(primaryCols)

	root := &DST{
		AttributePath:  tree.AttributePath,
		DataSourceName: tree.PrimaryDataSource,
		Many:           tree.Many,
		Request: datasource.Query{
			Type:             dsType(tree.DataSources, tree.PrimaryDataSource),
			Attributes:       primaryCols,
			Filter:           tree.Filter,
			Order:            tree.Order,
			Limit:            tree.Limit,
			Page:             tree.Page,
			Search:           tree.Search,
			AttributeOptions: attributeOptions(res, primaryCols),
		},
	}

	for _, sft := range tree.SubFilterTrees {
		sdst, err := r.buildDST(sft)
		if err != nil {
			return nil, err
		}
		sdst.ChildKey = sft.ChildKey
		sdst.ResolvedChildKey = sft.ResolvedChildKey
		root.SubFilters = append(root.SubFilters, sdst)
	}

	var dsNames []string
	for ds := range tree.SelectedByDataSource {
		if ds == tree.PrimaryDataSource || ds == tree.JoinVia {
			continue // join-table columns ride on the join node's query
		}
		dsNames = append(dsNames, ds)
	}
	sort.Strings(dsNames)
	for _, ds := range dsNames {
		cols := append([]string{}, tree.SelectedByDataSource[ds]...)
		if pk, ok := tree.ResolvedPrimaryKey[ds]; ok {
			for _, c := range pk {
				cols = appendUnique(cols, c)
			}
		}
		sort.Strings(cols)
		root.SubRequests = append(root.SubRequests, &DST{
			AttributePath:     tree.AttributePath,
			DataSourceName:    ds,
			ParentKey:         tree.PrimaryKey,
			ChildKey:          tree.PrimaryKey,
			ResolvedParentKey: map[string][]string{tree.PrimaryDataSource: tree.ResolvedPrimaryKey[tree.PrimaryDataSource]},
			ResolvedChildKey:  map[string][]string{ds: tree.ResolvedPrimaryKey[ds]},
			UniqueChildKey:    true,
			Request: datasource.Query{
				Type:             dsType(tree.DataSources, ds),
				Attributes:       cols,
				AttributeOptions: attributeOptions(res, cols),
				Filter:           markerFilter(tree.PrimaryKey),
			},
		})
	}

	for _, child := range tree.Children {
		childDST, err := r.buildDST(child)
		if err != nil {
			return nil, err
		}
		childDST.ParentKey = child.ParentKey
		childDST.ChildKey = child.ChildKey
		childDST.ResolvedParentKey = child.ResolvedParentKey
		childDST.ResolvedChildKey = child.ResolvedChildKey
		childDST.MultiValuedParentKey = child.MultiValuedParentKey
		childDST.UniqueChildKey = child.UniqueChildKey
		// The child's own query always carries a valueFromParentKey marker
		// on its own childKey columns; the executor fills in the values
		// once the parent (or join) node's rows are known.
		childDST.Request.Filter = mergeMarkerFilter(childDST.Request.Filter, child.ChildKey)

		if child.JoinVia != "" {
			desc := r.joinDescriptor(child)
			if desc == nil {
				return nil, floraerr.NewImplementationError("%s: joinVia %s: descriptor not found", child.AttributePath, child.JoinVia)
			}
			// Columns the child resource maps onto the join data source
			// itself (e.g. an "order" column living on the join table) ride
			// along on the join node's own query, not the target's, since
			// that's the row carrying them.
			joinCols := dedupe(append(append([]string{}, desc.JoinParentKey...), desc.JoinChildKey...))
			for _, c := range child.SelectedByDataSource[child.JoinVia] {
				joinCols = appendUnique(joinCols, c)
			}
			childAttrs := r.lookupFrameAttrs(child)
			joinNode := &DST{
				AttributePath:     child.AttributePath,
				DataSourceName:    child.JoinVia,
				ParentKey:         child.ParentKey,
				ChildKey:          desc.JoinParentKey,
				ResolvedParentKey: child.ResolvedParentKey,
				ResolvedChildKey:  map[string][]string{child.JoinVia: desc.JoinParentKey},
				UniqueChildKey:    false,
				Request: datasource.Query{
					Type:             desc.Type,
					Attributes:       joinCols,
					AttributeOptions: attributeOptions(childAttrs, joinCols),
					Filter:           markerFilter(desc.JoinParentKey),
				},
			}
			// The join row, not the parent resource's own row, supplies the
			// value childDST's query joins against: the join table's
			// JoinChildKey column matches the child resource's childKey.
			childDST.ParentKey = desc.JoinChildKey
			joinNode.SubRequests = append(joinNode.SubRequests, childDST)
			root.SubRequests = append(root.SubRequests, joinNode)
			continue
		}

		root.SubRequests = append(root.SubRequests, childDST)
	}

	return root, nil
}

// lookupFrameAttrs re-derives the attribute map for a ResourceTree node so
// buildDST can fetch cast metadata without threading attrs through every
// ResourceTree field. It walks the registry the same way buildFrame did.
func (r *Resolver) lookupFrameAttrs(tree *ResourceTree) map[string]*config.Attribute {
	parts := splitAttrPath(tree.AttributePath)
	res, ok := r.Registry.Resources[parts[0]]
	if !ok {
		return nil
	}
	attrs := res.Attributes
	for _, seg := range parts[1:] {
		attr, ok := attrs[seg]
		if !ok {
			return nil
		}
		switch attr.Kind {
		case config.KindNested:
			attrs = attr.Nested.Attributes
		case config.KindSubResource:
			attrs = attr.SubResource.Attributes
		default:
			return nil
		}
	}
	return attrs
}

func (r *Resolver) joinDescriptor(child *ResourceTree) *datasource.Descriptor {
	parts := splitAttrPath(child.AttributePath)
	res, ok := r.Registry.Resources[parts[0]]
	if !ok {
		return nil
	}
	dataSources := res.DataSources
	attrsWalk := res.Attributes
	for _, seg := range parts[1:] {
		attr, ok := attrsWalk[seg]
		if !ok {
			return nil
		}
		if attr.Kind == config.KindSubResource {
			dataSources = attr.SubResource.DataSources
			attrsWalk = attr.SubResource.Attributes
		}
	}
	return dataSources[child.JoinVia]
}

func attributeOptions(attrs map[string]*config.Attribute, cols []string) map[string]datasource.AttributeOption {
	if attrs == nil {
		return nil
	}
	out := map[string]datasource.AttributeOption{}
	var walk func(m map[string]*config.Attribute)
	walk = func(m map[string]*config.Attribute) {
		for _, attr := range m {
			switch attr.Kind {
			case config.KindLeaf:
				for _, col := range attr.Leaf.Map {
					if containsCol(cols, col) {
						out[col] = datasource.AttributeOption{
							Type:              string(attr.Leaf.Type),
							StoredType:        attr.Leaf.StoredType.Type,
							StoredTypeOptions: attr.Leaf.StoredType.Options,
							MultiValued:       attr.Leaf.MultiValued,
							Delimiter:         attr.Leaf.Delimiter,
						}
					}
				}
			case config.KindNested:
				walk(attr.Nested.Attributes)
			}
		}
	}
	walk(attrs)
	return out
}

// dsType looks up a data source's driver type name from the frame's own
// descriptor map -- Query.Type is the driver name, from Descriptor.Type.
func dsType(dataSources map[string]*datasource.Descriptor, name string) string {
	if d, ok := dataSources[name]; ok {
		return d.Type
	}
	return ""
}

// markerFilter builds the single valueFromParentKey placeholder AndClause a
// DST node carries until the executor substitutes real values projected
// from its parent's rows.
func markerFilter(keyPath []string) datasource.Filter {
	if len(keyPath) == 0 {
		return nil
	}
	parts := make([]datasource.FilterPart, len(keyPath))
	for i, p := range keyPath {
		parts[i] = datasource.FilterPart{
			Attribute: strings.Split(p, "."),
			Operator:  datasource.OpEqual,
			Source:    datasource.ValueFromParentKey,
		}
	}
	return datasource.Filter{{Parts: parts}}
}

// mergeMarkerFilter conjoins the valueFromParentKey marker onto every
// existing AndClause of a sub-resource's own client-supplied filter (if
// any), so a nested selection's filter and the join-key substitution both
// apply.
func mergeMarkerFilter(existing datasource.Filter, keyPath []string) datasource.Filter {
	marker := markerFilter(keyPath)
	if len(marker) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return marker
	}
	out := make(datasource.Filter, len(existing))
	for i, and := range existing {
		out[i] = datasource.AndClause{Parts: append(append([]datasource.FilterPart{}, and.Parts...), marker[0].Parts...)}
	}
	return out
}

func containsCol(cols []string, v string) bool {
	for _, c := range cols {
		if c == v {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	var out []string
	for _, v := range in {
		out = appendUnique(out, v)
	}
	return out
}

func splitAttrPath(path string) []string {
	var out []string
	cur := ""
	for _, r := range path {
		if r == '.' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}
