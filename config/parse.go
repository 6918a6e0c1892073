package config

import (
	"context"
	"sort"
	"strings"

	"github.com/florajs/flora-go/cast"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/floraerr"
)

const maxInclusionDepth = 10

// Parser runs a two-pass normalization over raw config nodes. It is built
// once, handed every resource's raw config plus the driver instances
// needed to call Prepare, and produces an immutable Registry.
type Parser struct {
	Drivers map[string]datasource.DataSource
	Engine  Engine
}

// ParseRegistry runs both passes over raw (resource name -> raw config
// node) and returns the validated Registry, or the first ImplementationError
// encountered. Failures are emphatic and positional: every error names the
// offending resource/attribute path.
func (p *Parser) ParseRegistry(ctx context.Context, raw map[string]RawNode) (*Registry, error) {
	reg := &Registry{Resources: map[string]*Resource{}, Engine: p.Engine}

	// Pass 1: per-node option parsing, independent of other resources.
	for name, node := range raw {
		res, err := p.parseResourcePass1(name, node)
		if err != nil {
			return nil, err
		}
		reg.Resources[name] = res
	}

	// Pass 2: relation resolution now that every resource is visible.
	for name, res := range reg.Resources {
		if err := p.resolveResource(reg, res, name, 0, nil); err != nil {
			return nil, err
		}
	}

	// Prepare every referenced data source once all descriptors are final.
	if err := p.prepareAll(ctx, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// --- Pass 1 -----------------------------------------------------------

var rootOptions = map[string]bool{
	"dataSources": true, "attributes": true, "primaryKey": true,
	"subFilters": true, "defaultLimit": true, "maxLimit": true,
	"defaultOrder": true, "permission": true,
}

func (p *Parser) parseResourcePass1(name string, node RawNode) (*Resource, error) {
	if err := checkUnknown(node, rootOptions, name); err != nil {
		return nil, err
	}

	res := &Resource{Name: name, DefaultLimit: 10, MaxLimit: 100}

	if dsRaw, ok := node["dataSources"].(map[string]any); ok {
		ds, err := parseDataSources(dsRaw, name)
		if err != nil {
			return nil, err
		}
		res.DataSources = ds
	} else {
		return nil, floraerr.NewImplementationError("resource %s: missing dataSources", name)
	}

	if pk, ok := node["primaryKey"]; ok {
		res.PrimaryKey = toStringList(pk)
	} else {
		return nil, floraerr.NewImplementationError("resource %s: missing primaryKey", name)
	}

	if sf, ok := node["subFilters"].([]any); ok {
		for _, raw := range sf {
			m, _ := raw.(map[string]any)
			res.SubFilters = append(res.SubFilters, SubFilter{
				Attribute: strings.Split(toStringValue(m["attribute"]), "."),
				Operators: parseOperatorList(m["allowedOperators"]),
				RewriteTo: toStringListOrNil(m["rewriteTo"]),
			})
		}
	}

	if v, ok := node["defaultLimit"]; ok {
		res.DefaultLimit = toInt(v)
	}
	if v, ok := node["maxLimit"]; ok {
		res.MaxLimit = toInt(v)
	}
	if v, ok := node["permission"]; ok {
		res.Permission = toStringValue(v)
	}
	if v, ok := node["defaultOrder"]; ok {
		res.DefaultOrder = parseOrderList(v)
	}

	attrsRaw, _ := node["attributes"].(map[string]any)
	attrs, err := p.parseAttributes(attrsRaw, name)
	if err != nil {
		return nil, err
	}
	res.Attributes = attrs

	return res, nil
}

func parseDataSources(raw map[string]any, path string) (map[string]*datasource.Descriptor, error) {
	out := map[string]*datasource.Descriptor{}
	for name, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, floraerr.NewImplementationError("%s.dataSources.%s: expected object", path, name)
		}
		desc := &datasource.Descriptor{Name: name}
		if t, ok := m["type"]; ok {
			desc.Type = toStringValue(t)
		} else if inherit, ok := m["inherit"]; ok {
			desc.Inherit = toStringValue(inherit)
		} else {
			return nil, floraerr.NewImplementationError("%s.dataSources.%s: missing type or inherit", path, name)
		}
		if opts, ok := m["options"].(map[string]any); ok {
			desc.Options = opts
		}
		if jpk, ok := m["joinParentKey"]; ok {
			desc.JoinParentKey = toStringList(jpk)
		}
		if jck, ok := m["joinChildKey"]; ok {
			desc.JoinChildKey = toStringList(jck)
		}
		if s, ok := m["searchable"].(bool); ok {
			desc.Searchable = s
		}
		out[name] = desc
	}
	return out, nil
}

var leafOptions = map[string]bool{
	"type": true, "storedType": true, "multiValued": true, "delimiter": true,
	"map": true, "filter": true, "order": true, "value": true, "hidden": true,
	"deprecated": true, "depends": true,
}

var subResourceOptions = map[string]bool{
	"dataSources": true, "attributes": true, "primaryKey": true, "resource": true,
	"parentKey": true, "childKey": true, "many": true, "joinVia": true,
}

// parseAttributes dispatches each child node to leaf/nested/subResource
// parsing by shape: identify its kind first, then run the kind-specific
// schema.
func (p *Parser) parseAttributes(raw map[string]any, path string) (map[string]*Attribute, error) {
	out := map[string]*Attribute{}
	for name, v := range raw {
		node, ok := v.(map[string]any)
		if !ok {
			return nil, floraerr.NewImplementationError("%s.%s: expected object", path, name)
		}
		childPath := path + "." + name

		switch classify(node) {
		case KindSubResource:
			if err := checkUnknown(node, subResourceOptions, childPath); err != nil {
				return nil, err
			}
			sub, err := p.parseSubResource(node, childPath)
			if err != nil {
				return nil, err
			}
			out[name] = &Attribute{Kind: KindSubResource, SubResource: sub}
		case KindNested:
			nestedRaw, _ := node["attributes"].(map[string]any)
			children, err := p.parseAttributes(nestedRaw, childPath)
			if err != nil {
				return nil, err
			}
			out[name] = &Attribute{Kind: KindNested, Nested: &NestedAttribute{Attributes: children}}
		default:
			if err := checkUnknown(node, leafOptions, childPath); err != nil {
				return nil, err
			}
			leaf, err := parseLeaf(node, name, childPath)
			if err != nil {
				return nil, err
			}
			out[name] = &Attribute{Kind: KindLeaf, Leaf: leaf}
		}
	}
	return out, nil
}

// classify identifies which of the three attribute variants a raw node is.
func classify(node map[string]any) AttributeKind {
	_, hasResource := node["resource"]
	_, hasDataSources := node["dataSources"]
	if hasResource || hasDataSources {
		return KindSubResource
	}
	if _, hasAttrs := node["attributes"]; hasAttrs {
		return KindNested
	}
	return KindLeaf
}

func parseLeaf(node map[string]any, name, path string) (*LeafAttribute, error) {
	leaf := &LeafAttribute{}

	if v, ok := node["value"]; ok {
		leaf.Value = &v
		return leaf, nil
	}

	t, ok := node["type"]
	if !ok {
		return nil, floraerr.NewImplementationError("%s: leaf attribute missing type", path)
	}
	leaf.Type = cast.Type(toStringValue(t))

	if st, ok := node["storedType"]; ok {
		leaf.StoredType = cast.ParseStoredType(toStringValue(st))
	}
	if mv, ok := node["multiValued"].(bool); ok {
		leaf.MultiValued = mv
	}
	if d, ok := node["delimiter"]; ok {
		leaf.Delimiter = toStringValue(d)
	}

	if m, ok := node["map"].(map[string]any); ok {
		leaf.Map = map[string]string{}
		for ds, col := range m {
			leaf.Map[ds] = toStringValue(col)
		}
	} else {
		// No explicit map: the leaf's own name maps to "primary" by default.
		leaf.Map = map[string]string{"primary": name}
	}

	if f, ok := node["filter"]; ok {
		leaf.FilterOps = parseOperatorToken(f, datasource.OpEqual)
	}
	if o, ok := node["order"]; ok {
		leaf.OrderDirs = parseOrderToken(o)
	}
	if h, ok := node["hidden"].(bool); ok {
		leaf.Hidden = h
	}
	if dep, ok := node["deprecated"].(bool); ok {
		leaf.Deprecated = dep
	}
	if deps, ok := node["depends"]; ok {
		leaf.Depends = toStringList(deps)
	}

	return leaf, nil
}

func (p *Parser) parseSubResource(node map[string]any, path string) (*SubResourceAttribute, error) {
	sub := &SubResourceAttribute{}

	if r, ok := node["resource"]; ok {
		sub.Resource = toStringValue(r)
	}

	if dsRaw, ok := node["dataSources"].(map[string]any); ok {
		ds, err := parseDataSources(dsRaw, path)
		if err != nil {
			return nil, err
		}
		sub.DataSources = ds
	}

	if attrsRaw, ok := node["attributes"].(map[string]any); ok {
		attrs, err := p.parseAttributes(attrsRaw, path)
		if err != nil {
			return nil, err
		}
		sub.Attributes = attrs
	}

	if pk, ok := node["primaryKey"]; ok {
		sub.PrimaryKey = toStringList(pk)
	}
	if pk, ok := node["parentKey"]; ok {
		sub.ParentKey = toStringList(pk)
	}
	if ck, ok := node["childKey"]; ok {
		sub.ChildKey = toStringList(ck)
	}
	if many, ok := node["many"].(bool); ok {
		sub.Many = many
	}
	if jv, ok := node["joinVia"]; ok {
		sub.JoinVia = toStringValue(jv)
	}

	if sub.Resource == "" && sub.DataSources == nil {
		return nil, floraerr.NewImplementationError("%s: sub-resource must declare dataSources or resource", path)
	}

	return sub, nil
}

func checkUnknown(node map[string]any, allowed map[string]bool, path string) error {
	unknown := []string{}
	for k := range node {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return floraerr.NewImplementationError("%s: unrecognized option(s) %s", path, strings.Join(unknown, ", "))
}

// --- option-token helpers ----------------------------------------------

var filterTokenAliases = map[string]datasource.Operator{
	"equal": datasource.OpEqual, "notEqual": datasource.OpNotEqual,
	"greater": datasource.OpGreater, "greaterOrEqual": datasource.OpGreaterOrEqual,
	"less": datasource.OpLess, "lessOrEqual": datasource.OpLessOrEqual,
	"like": datasource.OpLike, "between": datasource.OpBetween, "notBetween": datasource.OpNotBetween,
}

var orderTokenAliases = map[string]datasource.OrderDirection{
	"asc": datasource.OrderAsc, "desc": datasource.OrderDesc,
	"random": datasource.OrderRandom, "topflop": datasource.OrderTopflop,
}

// parseOperatorToken accepts the literal true (expanding to
// [literalTrueDefault]) or a comma-separated subset of allowed operator
// tokens.
func parseOperatorToken(v any, literalTrueDefault datasource.Operator) []datasource.Operator {
	if b, ok := v.(bool); ok && b {
		return []datasource.Operator{literalTrueDefault}
	}
	return parseOperatorList(v)
}

func parseOperatorList(v any) []datasource.Operator {
	var out []datasource.Operator
	for _, tok := range splitCSV(v) {
		if op, ok := filterTokenAliases[tok]; ok {
			out = append(out, op)
		}
	}
	return out
}

// parseOrderToken implements the `true` -> [asc,desc] expansion.
func parseOrderToken(v any) []datasource.OrderDirection {
	if b, ok := v.(bool); ok && b {
		return []datasource.OrderDirection{datasource.OrderAsc, datasource.OrderDesc}
	}
	var out []datasource.OrderDirection
	for _, tok := range splitCSV(v) {
		if d, ok := orderTokenAliases[tok]; ok {
			out = append(out, d)
		}
	}
	return out
}

func parseOrderList(v any) []datasource.OrderClause {
	list, _ := v.([]any)
	var out []datasource.OrderClause
	for _, raw := range list {
		m, _ := raw.(map[string]any)
		out = append(out, datasource.OrderClause{
			Attribute: strings.Split(toStringValue(m["attribute"]), "."),
			Direction: datasource.OrderDirection(toStringValue(m["direction"])),
		})
	}
	return out
}

func splitCSV(v any) []string {
	s := toStringValue(v)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func toStringValue(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.Split(t, ".")
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = toStringValue(item)
		}
		return out
	default:
		return nil
	}
}

func toStringListOrNil(v any) []string {
	if v == nil {
		return nil
	}
	return toStringList(v)
}
