package resolver

import (
	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
)

// DST is one node of the data-source tree: an executable backend call plus
// its dependencies.
type DST struct {
	AttributePath string
	DataSourceName string

	Request datasource.Query

	ParentKey []string // dotted attribute paths, projected from the parent node's rows
	ChildKey  []string

	MultiValuedParentKey bool
	UniqueChildKey       bool

	SubFilters   []*DST
	SubRequests  []*DST

	// ResolvedParentKey/ResolvedChildKey are dataSource-name -> column list
	// for the *other* side of the relation.
	ResolvedParentKey map[string][]string
	ResolvedChildKey  map[string][]string

	// Many marks whether this node's rows are a collection; the executor
	// copies it into Result.Many.
	Many bool

	// Empty marks a node whose main query is skipped entirely. The executor
	// reads it; when subFilter substitution leaves nothing to query it skips
	// the call as well, without setting this field.
	Empty bool
}

// ResourceTree is the intermediate structure produced before flattening
// into a DST: it mirrors the parsed resource graph but carries only
// selected nodes. It exists mainly to make resolution steps
// unit-testable independent of DST flattening.
type ResourceTree struct {
	ResourceName string
	AttributePath string

	// SelectedByDataSource groups the mapped columns of the selected leaf
	// attributes by the data source that will serve them.
	SelectedByDataSource map[string][]string

	PrimaryDataSource string

	// PrimaryKey/ResolvedPrimaryKey let buildDST always-select this frame's
	// own key without re-querying config.Resource, since
	// a ResourceTree node may describe either a top-level Resource or a
	// SubResourceAttribute frame.
	PrimaryKey         []string
	ResolvedPrimaryKey map[string][]string

	Filter datasource.Filter
	Order  []datasource.OrderClause
	Limit  *int
	Page   *int
	Search string

	Many bool

	Children []*ResourceTree

	ParentKey         []string
	ChildKey          []string
	ResolvedParentKey map[string][]string
	ResolvedChildKey  map[string][]string
	JoinVia           string

	// JoinParentKeyCols/JoinChildKeyCols are the join data source's own raw
	// column names (not attribute paths) matching the parent and child
	// sides of the relation, copied from the join descriptor so
	// resultbuilder can read a join row without re-deriving them. Only set
	// when JoinVia is non-empty.
	JoinParentKeyCols []string
	JoinChildKeyCols  []string

	MultiValuedParentKey bool
	UniqueChildKey       bool

	// DataSources is the frame's own data source descriptor map, carried
	// through so buildDST can fill in Request.Type without re-walking the
	// registry -- Query.Type is the driver name, from Descriptor.Type.
	DataSources map[string]*datasource.Descriptor

	// SubFilterTrees holds the resource trees for request-level filter
	// parts that cross a sub-resource boundary through a registered
	// config.SubFilter (valueFromSubFilter). Populated only on the root
	// frame in this implementation: a nested sub-resource selection's own
	// filter crossing a further boundary is not supported.
	SubFilterTrees []*ResourceTree

	// Attrs is this frame's own attribute map (resolver.buildFrame's attrs
	// parameter, identical to frameAttrs in every call site) -- carried so
	// package resultbuilder can walk the same Leaf/Nested/SubResource tree
	// the resolver walked, without re-deriving it from the registry, so it
	// can locate the attribute node a selected leaf belongs to.
	Attrs map[string]*config.Attribute

	// Sel is the client projection this frame was built from; nil means
	// "select every non-sub-resource attribute" (the default selection).
	Sel *SelectNode

	// LeafBindings maps a selected leaf's dotted path (relative to this
	// frame) to the data source/column (or static value) it resolves to,
	// mirroring what distributeAttributes computed for DST construction so
	// resultbuilder need not re-derive it: the value is row[mappedColumn]
	// for the primary data source, or secondaryRows[dsName][mappedColumn]
	// for a secondary one, or the static value for value:static.
	LeafBindings map[string]LeafBinding
}

// LeafBinding is where a selected leaf attribute's value comes from once a
// row is in hand: either a specific data source's column, or a static
// literal (value:static).
type LeafBinding struct {
	DataSource string
	Column     string

	Static     bool
	StaticValue any
}
