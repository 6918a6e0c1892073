// Package config normalizes raw per-resource configuration into the
// validated form the resolver and executor consume.
//
// Parsing is two-pass: pass 1 walks each node in isolation (option parsing,
// local validation); pass 2 walks the resolved graph of resources to settle
// relations, since a sub-resource's keys can only be resolved once every
// resource it references is itself parsed.
package config

import (
	"github.com/florajs/flora-go/cast"
	"github.com/florajs/flora-go/datasource"
)

// AttributeKind tags the three-way attribute variant -- a sum type rather
// than a subclass hierarchy.
type AttributeKind int

const (
	KindLeaf AttributeKind = iota
	KindNested
	KindSubResource
)

// Attribute is the tagged-union attribute node. Exactly one of
// Leaf/Nested/SubResource is populated, selected by Kind.
type Attribute struct {
	Kind AttributeKind

	Leaf        *LeafAttribute
	Nested      *NestedAttribute
	SubResource *SubResourceAttribute
}

// LeafAttribute is a scalar (or array-of-scalar) attribute mapped to one or
// more data source columns.
type LeafAttribute struct {
	Type        cast.Type
	StoredType  cast.StoredType
	MultiValued bool
	Delimiter   string

	// Map is dataSourceName -> column name. A leaf with no explicit map is
	// mapped under "primary" to its own name.
	Map map[string]string

	FilterOps []datasource.Operator
	OrderDirs []datasource.OrderDirection

	// Value holds a static value; when set, Map/StoredType are unused and
	// the attribute never touches a data source.
	Value *any

	Hidden     bool
	Deprecated bool

	// Depends is a projection-AST of other attributes this one needs in
	// order to compute itself (e.g. a virtual attribute derived from two
	// columns); merged into the request as internal-only selections.
	Depends []string
}

// NestedAttribute is a pure namespace with no data source of its own.
type NestedAttribute struct {
	Attributes map[string]*Attribute
}

// SubResourceAttribute describes a relation to another resource.
type SubResourceAttribute struct {
	// Resource is set when this sub-resource is `resource: name` shorthand
	// for a whole separately-defined resource, rather than an inline
	// attribute/dataSource block.
	Resource string

	DataSources map[string]*datasource.Descriptor
	Attributes  map[string]*Attribute

	PrimaryKey []string

	ParentKey []string
	ChildKey  []string

	ResolvedParentKey map[string][]string
	ResolvedChildKey  map[string][]string

	// Many is true for 1:n/m:n, false for 1:1/n:1.
	Many bool

	// JoinVia names the data source acting as an m:n join table.
	JoinVia string
}

// SubFilter is a precomputed-key filter crossing a sub-resource boundary.
type SubFilter struct {
	Attribute []string
	Operators []datasource.Operator

	// RewriteTo lets a subFilter be inlined as a plain filter on a
	// different attribute instead of executing a sub-query.
	RewriteTo []string
}

// Resource is the parsed, validated form of one resource's configuration.
type Resource struct {
	Name string

	PrimaryKey         []string
	ResolvedPrimaryKey map[string][]string

	DataSources map[string]*datasource.Descriptor

	SubFilters []SubFilter

	Attributes map[string]*Attribute

	DefaultLimit int
	MaxLimit     int
	DefaultOrder []datasource.OrderClause
	Permission   string
}

// Engine bundles engine-wide defaults used while parsing and executing:
// resource-level options that are really engine-wide.
type Engine struct {
	Timezone              string
	DefaultStoredTimezone string
	AllowExplain          bool
	ExposeErrors          bool
}

// Registry is the parsed configuration for every resource, immutable for
// the process lifetime once built.
type Registry struct {
	Resources map[string]*Resource
	Engine    Engine
}
