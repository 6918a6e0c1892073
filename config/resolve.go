package config

import (
	"context"
	"strings"

	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/floraerr"
)

// resolveResource runs pass 2 for one top-level resource.
func (p *Parser) resolveResource(reg *Registry, res *Resource, name string, depth int, visited map[string]bool) error {
	if depth > maxInclusionDepth {
		return floraerr.NewImplementationError("resource %s: inclusion depth exceeds %d", name, maxInclusionDepth)
	}

	resolved, err := resolveKeyColumns(res.Attributes, res.PrimaryKey)
	if err != nil {
		return floraerr.NewImplementationError("resource %s: primaryKey: %v", name, err)
	}
	if len(resolved) == 0 {
		return floraerr.NewImplementationError("resource %s: primaryKey does not map to any data source", name)
	}
	res.ResolvedPrimaryKey = resolved

	// resolvedPrimaryKey must contain every non-join data source.
	for dsName, desc := range res.DataSources {
		if len(desc.JoinParentKey) > 0 {
			continue // a join-table descriptor is not required to carry the primary key
		}
		if _, ok := resolved[dsName]; !ok {
			return floraerr.NewImplementationError("resource %s: primaryKey not mapped for data source %s", name, dsName)
		}
	}

	// A single-column visible primary key gets a default equality filter
	// unless already overridden.
	if len(res.PrimaryKey) == 1 {
		if leaf := findLeaf(res.Attributes, strings.Split(res.PrimaryKey[0], ".")); leaf != nil && !leaf.Hidden {
			if len(leaf.FilterOps) == 0 {
				leaf.FilterOps = []datasource.Operator{datasource.OpEqual}
			}
		}
	}

	return p.resolveAttributes(reg, res.Attributes, res.Attributes, name, res.PrimaryKey, depth, cloneVisited(visited, name))
}

func cloneVisited(visited map[string]bool, add string) map[string]bool {
	out := map[string]bool{add: true}
	for k := range visited {
		out[k] = true
	}
	return out
}

// resolveAttributes walks one attribute map, expanding sub-resource
// inclusions and resolving parent/child keys. frameAttrs
// is the root attribute map of the *enclosing resource frame* (the
// top-level resource, or the sub-resource that introduced this frame): a
// parentKey path is always relative to that frame, never to an
// intermediate nested-attribute namespace, so it is threaded separately
// from attrs (the map currently being walked). parentPrimaryKey is the
// enclosing resource's primaryKey, used to expand the `{primary}` shorthand
// in a sub-resource's parentKey.
func (p *Parser) resolveAttributes(reg *Registry, attrs, frameAttrs map[string]*Attribute, resourceName string, parentPrimaryKey []string, depth int, visited map[string]bool) error {
	for attrName, attr := range attrs {
		switch attr.Kind {
		case KindNested:
			if err := p.resolveAttributes(reg, attr.Nested.Attributes, frameAttrs, resourceName, parentPrimaryKey, depth, visited); err != nil {
				return err
			}
		case KindSubResource:
			if err := p.resolveSubResource(reg, attr.SubResource, frameAttrs, resourceName, attrName, parentPrimaryKey, depth, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Parser) resolveSubResource(reg *Registry, sub *SubResourceAttribute, frameAttrs map[string]*Attribute, resourceName, attrName string, parentPrimaryKey []string, depth int, visited map[string]bool) error {
	path := resourceName + "." + attrName

	if sub.Resource != "" {
		if depth >= maxInclusionDepth {
			return floraerr.NewImplementationError("%s: inclusion depth exceeds %d", path, maxInclusionDepth)
		}
		if visited[sub.Resource] {
			return floraerr.NewImplementationError("%s: cyclic resource inclusion via %s", path, sub.Resource)
		}
		included, ok := reg.Resources[sub.Resource]
		if !ok {
			return floraerr.NewImplementationError("%s: resource %s: unknown resource", path, sub.Resource)
		}
		// An inclusion may not overwrite attributes or data sources -- only
		// fill in what the including node left unset.
		if sub.DataSources == nil {
			sub.DataSources = cloneDescriptors(included.DataSources)
		}
		if sub.Attributes == nil {
			sub.Attributes = cloneAttributes(included.Attributes)
		}
		if len(sub.PrimaryKey) == 0 {
			sub.PrimaryKey = append([]string(nil), included.PrimaryKey...)
		}
		depth++
		visited = cloneVisited(visited, sub.Resource)
	}

	if len(sub.ParentKey) == 1 && sub.ParentKey[0] == "{primary}" {
		sub.ParentKey = parentPrimaryKey
	}
	if len(sub.ChildKey) == 1 && sub.ChildKey[0] == "{primary}" {
		sub.ChildKey = sub.PrimaryKey
	}

	if len(sub.ParentKey) != len(sub.ChildKey) {
		return floraerr.NewImplementationError("%s: len(parentKey)=%d != len(childKey)=%d", path, len(sub.ParentKey), len(sub.ChildKey))
	}

	childResolved, err := resolveKeyColumns(sub.Attributes, sub.ChildKey)
	if err != nil {
		return floraerr.NewImplementationError("%s: childKey: %v", path, err)
	}
	sub.ResolvedChildKey = childResolved

	parentResolved, err := resolveKeyColumns(frameAttrs, sub.ParentKey)
	if err != nil {
		return floraerr.NewImplementationError("%s: parentKey: %v", path, err)
	}
	sub.ResolvedParentKey = parentResolved

	if sub.JoinVia != "" {
		joinDesc, ok := sub.DataSources[sub.JoinVia]
		if !ok {
			return floraerr.NewImplementationError("%s: joinVia %s: unknown data source", path, sub.JoinVia)
		}
		if len(joinDesc.JoinParentKey) != len(sub.ParentKey) {
			return floraerr.NewImplementationError("%s: joinParentKey length must match parentKey", path)
		}
		if len(joinDesc.JoinChildKey) != len(sub.ChildKey) {
			return floraerr.NewImplementationError("%s: joinChildKey length must match childKey", path)
		}
	}

	// A composite key forbids multiValued parts; childKey may be
	// multiValued only when its length is 1.
	if len(sub.ChildKey) > 1 {
		for _, part := range sub.ChildKey {
			if leaf := findLeaf(sub.Attributes, strings.Split(part, ".")); leaf != nil && leaf.MultiValued {
				return floraerr.NewImplementationError("%s: composite childKey part %s may not be multiValued", path, part)
			}
		}
	}

	return p.resolveAttributes(reg, sub.Attributes, sub.Attributes, resourceName+"."+attrName, sub.PrimaryKey, depth, visited)
}

func cloneDescriptors(in map[string]*datasource.Descriptor) map[string]*datasource.Descriptor {
	out := make(map[string]*datasource.Descriptor, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneAttributes(in map[string]*Attribute) map[string]*Attribute {
	out := make(map[string]*Attribute, len(in))
	for k, v := range in {
		cp := *v
		switch v.Kind {
		case KindNested:
			ncp := *v.Nested
			ncp.Attributes = cloneAttributes(v.Nested.Attributes)
			cp.Nested = &ncp
		case KindSubResource:
			scp := *v.SubResource
			scp.Attributes = cloneAttributes(v.SubResource.Attributes)
			scp.DataSources = cloneDescriptors(v.SubResource.DataSources)
			cp.SubResource = &scp
		}
		out[k] = &cp
	}
	return out
}

// resolveKeyColumns resolves an ordered list of attribute paths (a
// primary/parent/child key) into a per-data-source column list: a data
// source is included only if every part of the key has a mapping for it.
// ResolveKeyColumns is the exported form of resolveKeyColumns, used by the
// resolver package to re-derive a frame's resolvedPrimaryKey-shaped mapping
// on demand (e.g. for a sub-resource, which only stores ResolvedParentKey/
// ResolvedChildKey, not its own resolved primary key).
func ResolveKeyColumns(attrs map[string]*Attribute, keyPath []string) (map[string][]string, error) {
	return resolveKeyColumns(attrs, keyPath)
}

func resolveKeyColumns(attrs map[string]*Attribute, keyPath []string) (map[string][]string, error) {
	if len(attrs) == 0 || len(keyPath) == 0 {
		return map[string][]string{}, nil
	}

	perPart := make([]map[string]string, len(keyPath))
	for i, part := range keyPath {
		leaf := findLeaf(attrs, strings.Split(part, "."))
		if leaf == nil {
			return nil, floraerr.NewImplementationError("key part %s does not reference a leaf attribute", part)
		}
		perPart[i] = leaf.Map
	}

	// Intersect data source names across all parts.
	dsNames := map[string]bool{}
	for ds := range perPart[0] {
		dsNames[ds] = true
	}
	for _, m := range perPart[1:] {
		for ds := range dsNames {
			if _, ok := m[ds]; !ok {
				delete(dsNames, ds)
			}
		}
	}

	out := map[string][]string{}
	for ds := range dsNames {
		cols := make([]string, len(perPart))
		for i, m := range perPart {
			cols[i] = m[ds]
		}
		out[ds] = cols
	}
	return out, nil
}

// FindLeaf is the exported form of findLeaf, used by the resolver package to
// look up a selected attribute's cast metadata (type/storedType/multiValued)
// when building a DST node's AttributeOptions.
func FindLeaf(attrs map[string]*Attribute, path []string) *LeafAttribute {
	return findLeaf(attrs, path)
}

func findLeaf(attrs map[string]*Attribute, path []string) *LeafAttribute {
	if len(path) == 0 {
		return nil
	}
	attr, ok := attrs[path[0]]
	if !ok {
		return nil
	}
	if len(path) == 1 {
		if attr.Kind == KindLeaf {
			return attr.Leaf
		}
		return nil
	}
	if attr.Kind == KindNested {
		return findLeaf(attr.Nested.Attributes, path[1:])
	}
	if attr.Kind == KindSubResource {
		return findLeaf(attr.SubResource.Attributes, path[1:])
	}
	return nil
}

// prepareAll calls Prepare once per descriptor across the whole registry,
// collecting the set of columns every leaf attribute maps to that data
// source.
func (p *Parser) prepareAll(ctx context.Context, reg *Registry) error {
	type target struct {
		desc *datasource.Descriptor
		cols map[string]bool
	}
	targets := map[*datasource.Descriptor]*target{}

	var walk func(attrs map[string]*Attribute, dataSources map[string]*datasource.Descriptor)
	walk = func(attrs map[string]*Attribute, dataSources map[string]*datasource.Descriptor) {
		for _, desc := range dataSources {
			if _, ok := targets[desc]; !ok {
				targets[desc] = &target{desc: desc, cols: map[string]bool{}}
			}
		}
		for _, attr := range attrs {
			switch attr.Kind {
			case KindLeaf:
				if attr.Leaf.Value != nil {
					continue
				}
				for dsName, col := range attr.Leaf.Map {
					desc, ok := dataSources[dsName]
					if !ok {
						continue
					}
					t, ok := targets[desc]
					if !ok {
						t = &target{desc: desc, cols: map[string]bool{}}
						targets[desc] = t
					}
					t.cols[col] = true
				}
			case KindNested:
				walk(attr.Nested.Attributes, dataSources)
			case KindSubResource:
				walk(attr.SubResource.Attributes, attr.SubResource.DataSources)
			}
		}
	}

	for _, res := range reg.Resources {
		walk(res.Attributes, res.DataSources)
	}

	for _, t := range targets {
		driver, ok := p.Drivers[t.desc.Type]
		if !ok {
			return floraerr.NewImplementationError("data source %s: no driver registered for type %s", t.desc.Name, t.desc.Type)
		}
		cols := make([]string, 0, len(t.cols))
		for c := range t.cols {
			cols = append(cols, c)
		}
		if err := driver.Prepare(ctx, t.desc, cols); err != nil {
			return floraerr.NewImplementationError("data source %s: prepare failed: %v", t.desc.Name, err)
		}
	}

	return nil
}
