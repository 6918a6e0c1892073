// Package resolver maps a Request against a parsed config.Registry into an
// executable data-source tree. It is the DST construction pipeline:
// resource tree -> flattened per-data-source queries.
package resolver

import "github.com/florajs/flora-go/datasource"

// Request is the logical client request.
type Request struct {
	Resource string
	Action   string // e.g. "retrieve"; not read by the resolver
	Format   string // e.g. "json"; not read by the resolver

	ID     string
	Select *SelectNode

	Filter datasource.Filter
	Search string
	Order  []datasource.OrderClause
	Limit  *int
	Page   *int

	// Internal marks a request as allowed to select hidden attributes;
	// hidden attributes are refused unless the request is marked internal.
	Internal bool

	// Explain/Profile surface `_explain` / `_profile`.
	Explain bool
	Profile string // "", "1", or "raw"
}

// SelectNode is one node of the client's projection tree.
type SelectNode struct {
	// Attributes selected directly under this node, by name.
	Attributes []string

	// SubResources maps attribute name -> its own projection, order,
	// filter, limit/page for nested selections.
	SubResources map[string]*SubResourceSelect
}

// SubResourceSelect is the projection plus per-sub-resource request options
// a client can specify on a nested selection.
type SubResourceSelect struct {
	Select *SelectNode
	Filter datasource.Filter
	Order  []datasource.OrderClause
	Limit  *int
	Page   *int
	Search string
}
