// Package datasource defines the external-collaborator contract the engine
// consumes to reach a backing store. It is the query-engine
// analogue of the teacher's discovery.Adapter: where an Adapter exposes
// Get/List/Search against a single item type, a DataSource exposes a single
// Process(query) entry point whose shape (filter, order, limit, search) is
// decided by the resolver, not by the data source itself.
package datasource

import "context"

// Descriptor is the parsed, per-resource configuration for one data source
// binding. It is mutable during ConfigParser's
// Prepare pass so a driver can stash prepared statements/queries on it.
type Descriptor struct {
	Name    string
	Type    string
	Options map[string]any

	// JoinParentKey/JoinChildKey are set when this descriptor is the
	// intermediate join table of an m:n relation.
	JoinParentKey         []string
	JoinChildKey          []string
	ResolvedJoinParentKey map[string][]string
	ResolvedJoinChildKey  map[string][]string

	// Inherit marks a data source that reuses another resource's connection
	// instead of declaring its own options.
	Inherit string

	// Searchable marks a data source that can serve full-text `search`.
	Searchable bool

	// Prepared is reserved for the driver to stash whatever compiled
	// representation of the query it wants (prepared statement, index
	// handle, ...). The engine never reads or writes it itself.
	Prepared any
}

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual          Operator = "equal"
	OpNotEqual       Operator = "notEqual"
	OpGreater        Operator = "greater"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLess           Operator = "less"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpLike           Operator = "like"
	OpBetween        Operator = "between"
	OpNotBetween     Operator = "notBetween"
)

// AllFilterOperators is the set of operators an attribute's `filter` option
// may name explicitly. The `true` shorthand does not expand to this list; it
// expands to just [equal].
var AllFilterOperators = []Operator{
	OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual,
	OpLike, OpBetween, OpNotBetween,
}

// OrderDirection is a sort direction.
type OrderDirection string

const (
	OrderAsc      OrderDirection = "asc"
	OrderDesc     OrderDirection = "desc"
	OrderRandom   OrderDirection = "random"
	OrderTopflop  OrderDirection = "topflop"
)

// ValueSource tags where a FilterPart's Value will come from once the
// executor resolves the DST.
type ValueSource int

const (
	ValueLiteral ValueSource = iota
	ValueFromSubFilter
	ValueFromParentKey
)

// FilterPart is one leaf condition in an OR-of-AND filter tree, as passed
// to DataSource.Process's query.filter.
type FilterPart struct {
	Attribute []string // dotted path, split; composite keys have len > 1
	Operator  Operator
	Value     any

	Source        ValueSource
	SubFilterIdx  int  // meaningful when Source == ValueFromSubFilter
	Empty         bool // set by the executor when substitution yields no values
}

// AndClause is a conjunction of FilterParts.
type AndClause struct {
	Parts []FilterPart
	Empty bool // the whole clause collapsed to nothing
}

// Filter is a disjunction of AndClauses: [OR [AND filter-part...]...]
type Filter []AndClause

// AttributeOption carries the cast metadata needed to coerce a column's
// stored value to its logical type.
type AttributeOption struct {
	Type              string
	StoredType        string
	StoredTypeOptions map[string]string // e.g. storedType's timezone
	MultiValued       bool
	Delimiter         string
}

// Query is what the executor hands to DataSource.Process.
type Query struct {
	Type       string // driver name, from Descriptor.Type
	Attributes []string
	Filter     Filter
	Order      []OrderClause
	Limit      *int
	LimitPer   []string // "limitPer" (limitPerGroup)
	Page       *int
	Search     string

	// AttributeOptions maps a selected column to its cast metadata so a
	// driver-agnostic caller (the executor) can coerce values uniformly
	// without needing to understand the driver's own type system.
	AttributeOptions map[string]AttributeOption

	// Passthrough carries driver-specific options verbatim, plus any
	// driver-specific passthrough.
	Passthrough map[string]any
}

// OrderClause is one `order` entry.
type OrderClause struct {
	Attribute []string
	Direction OrderDirection
}

// Row is one backend record: column name -> raw stored value.
type Row map[string]any

// Result is what DataSource.Process returns.
type Result struct {
	Data []Row

	// TotalCount is nil when the driver cannot cheaply compute it and no
	// pagination was requested.
	TotalCount *int
}

// DataSource is the external collaborator the engine calls out to. Drivers
// (SQL, search, ...) implement this; the engine core never implements it
// itself.
type DataSource interface {
	// Prepare is invoked once per descriptor at config parse time. It may
	// mutate descriptor (e.g. to stash a compiled query) and must be
	// deterministic for equal inputs.
	Prepare(ctx context.Context, descriptor *Descriptor, usedColumns []string) error

	// Process executes one query and returns its rows.
	Process(ctx context.Context, query Query) (Result, error)

	// Close releases any resources held by the data source.
	Close(ctx context.Context) error
}
