// Package executor walks a resolver.DST and produces the flat, ordered raw
// result list the result builder assembles a response from. Concurrency
// within one node's siblings is structured via sourcegraph/conc/pool, the
// same fail-fast cancel-on-first-error pattern the teacher uses for its own
// concurrent adapter fan-out (see sdp-go/sdpws/client.go's documented pool
// usage and aws-source/adapterhelpers' listInternal).
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/florajs/flora-go/cast"
	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/extension"
	"github.com/florajs/flora-go/floraerr"
	"github.com/florajs/flora-go/profiler"
	"github.com/florajs/flora-go/resolver"
	"github.com/florajs/flora-go/tracing"
)

// Result is one flattened raw result, in depth-first main-before-subs
// order. ResultBuilder consumes a []Result built this way.
type Result struct {
	AttributePath  string
	DataSourceName string

	Rows       []datasource.Row
	TotalCount *int

	Many           bool
	ChildKey       []string
	UniqueChildKey bool
}

// Executor runs a DST against a set of driver instances, keyed by
// Descriptor.Type the same way config.Parser.Drivers is: data-source driver
// types are pluggable by name.
type Executor struct {
	Drivers    map[string]datasource.DataSource
	Extensions *extension.Registry

	// DefaultStoredTZ/OutputTZ carry the engine's timezone fallback chain
	// (configured defaultStoredTimezone or timezone, else UTC) and its
	// output rule: every row value is re-emitted in the engine timezone.
	DefaultStoredTZ *time.Location
	OutputTZ        *time.Location
}

// New builds an Executor from a parsed registry's engine defaults plus a
// driver set.
func New(engine config.Engine, drivers map[string]datasource.DataSource, ext *extension.Registry) *Executor {
	return &Executor{
		Drivers:         drivers,
		Extensions:      ext,
		DefaultStoredTZ: resolveTZ(engine.DefaultStoredTimezone, engine.Timezone),
		OutputTZ:        resolveTZ(engine.Timezone, ""),
	}
}

func resolveTZ(primary, fallback string) *time.Location {
	if loc, err := time.LoadLocation(primary); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(fallback); err == nil {
		return loc
	}
	return time.UTC
}

// Execute runs the whole DST rooted at root and returns the flattened raw
// result list.
func (e *Executor) Execute(ctx context.Context, root *resolver.DST, prof *profiler.Node) ([]Result, error) {
	return e.process(ctx, root, prof)
}

// process runs one DST node end to end: subFilters, marker substitution,
// the main backend call (or skip), casting, extension hooks, and finally
// subRequests, recursing into both subFilters and subRequests.
func (e *Executor) process(ctx context.Context, node *resolver.DST, prof *profiler.Node) ([]Result, error) {
	// Step 1: run subFilters concurrently.
	subFilterRows := make([][]datasource.Row, len(node.SubFilters))
	if len(node.SubFilters) > 0 {
		p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
		for i, sf := range node.SubFilters {
			i, sf := i, sf
			p.Go(func(ctx context.Context) error {
				defer tracing.LogRecoverToReturn(ctx, sf.AttributePath+":subFilter")
				results, err := e.process(ctx, sf, prof)
				if err != nil {
					return err
				}
				subFilterRows[i] = flattenRows(results)
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	// Step 2: substitute valueFromSubFilter markers.
	filter := node.Request.Filter
	for i, sf := range node.SubFilters {
		values := projectValues(subFilterRows[i], sf.ChildKey, false)
		filter, _ = substituteMarker(filter, isSubFilterMarker(i), values)
	}
	empty := node.Empty || filterFullyEmpty(node.Request.Filter, filter)
	node.Request.Filter = filter

	// Step 3: cast filter values to their column's storedType.
	castFilterValues(&node.Request, e.DefaultStoredTZ, e.OutputTZ)

	// Step 4: preExecute extension.
	if err := e.Extensions.RunPreExecute(ctx, node.AttributePath, &node.Request); err != nil {
		return nil, err
	}

	// Step 5: execute the main request (or skip when empty).
	var mainRows []datasource.Row
	var total *int
	if empty {
		zero := 0
		total = &zero
	} else {
		res, err := e.runMain(ctx, node, prof)
		if err != nil {
			return nil, err
		}
		mainRows, total = res.Data, res.TotalCount
	}

	// Step 6: cast row values.
	castRows(mainRows, node.Request.AttributeOptions, e.DefaultStoredTZ, e.OutputTZ)

	// Step 7: postExecute extension.
	mainRows, err := e.Extensions.RunPostExecute(ctx, node.AttributePath, mainRows)
	if err != nil {
		return nil, err
	}

	mainResult := Result{
		AttributePath:  node.AttributePath,
		DataSourceName: node.DataSourceName,
		Rows:           mainRows,
		TotalCount:     total,
		Many:           node.Many,
		ChildKey:       node.ChildKey,
		UniqueChildKey: node.UniqueChildKey,
	}

	// Step 8: run subRequests concurrently.
	subResults, err := e.runSubRequests(ctx, node, mainRows, prof)
	if err != nil {
		return nil, err
	}

	// Step 9: concatenate main before subs, depth-first.
	out := make([]Result, 0, 1+len(subResults))
	out = append(out, mainResult)
	out = append(out, subResults...)
	return out, nil
}

// runMain calls the backend driver, wrapping the call in a profiler child
// named "attributePath:dataSourceName".
func (e *Executor) runMain(ctx context.Context, node *resolver.DST, prof *profiler.Node) (datasource.Result, error) {
	driver, ok := e.Drivers[node.Request.Type]
	if !ok {
		return datasource.Result{}, floraerr.NewImplementationError("%s: no driver registered for type %s", node.AttributePath, node.Request.Type).
			WithPath(node.AttributePath, "", node.DataSourceName)
	}

	span, spanCtx := prof.Start(ctx, node.AttributePath+":"+node.DataSourceName)
	defer span.Stop()

	res, err := driver.Process(spanCtx, node.Request)
	if err != nil {
		return datasource.Result{}, floraerr.Wrap(floraerr.KindConnection, err).
			WithPath(node.AttributePath, "", node.DataSourceName)
	}
	return res, nil
}

// runSubRequests projects this node's own rows onto each sub-request's
// parentKey, substitutes valueFromParentKey, and runs every sub-request
// concurrently (fail-fast, same pool pattern as subFilters).
func (e *Executor) runSubRequests(ctx context.Context, node *resolver.DST, mainRows []datasource.Row, prof *profiler.Node) ([]Result, error) {
	if len(node.SubRequests) == 0 {
		return nil, nil
	}

	results := make([][]Result, len(node.SubRequests))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, sub := range node.SubRequests {
		i, sub := i, sub
		p.Go(func(ctx context.Context) error {
			defer tracing.LogRecoverToReturn(ctx, sub.AttributePath+":subRequest")

			values := projectValues(mainRows, sub.ParentKey, node.MultiValuedParentKey)
			if len(values) == 0 {
				// A sub-request whose parent values are empty is skipped
				// entirely: return an empty result without invoking the backend.
				results[i] = []Result{{
					AttributePath:  sub.AttributePath,
					DataSourceName: sub.DataSourceName,
					Many:           sub.Many,
					ChildKey:       sub.ChildKey,
					UniqueChildKey: sub.UniqueChildKey,
					TotalCount:     zeroPtr(),
				}}
				return nil
			}

			sub.Request.Filter, _ = substituteMarker(sub.Request.Filter, isParentKeyMarker, values)
			res, err := e.process(ctx, sub, prof)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func zeroPtr() *int {
	z := 0
	return &z
}

func flattenRows(results []Result) []datasource.Row {
	var out []datasource.Row
	for _, r := range results {
		out = append(out, r.Rows...)
	}
	return out
}

// filterFullyEmpty reports whether every AndClause of a substituted filter
// collapsed to empty, meaning no OR branch survived and the DST node should
// be marked empty. A filter that had no clauses to begin with is never
// "empty" in this sense -- it simply has no constraint.
func filterFullyEmpty(original, substituted datasource.Filter) bool {
	if len(original) == 0 {
		return false
	}
	if len(substituted) == 0 {
		return true
	}
	for _, and := range substituted {
		if !and.Empty {
			return false
		}
	}
	return true
}

func attrCastOptions(ao map[string]datasource.AttributeOption, col string) (cast.Options, bool) {
	opt, ok := ao[col]
	if !ok {
		return cast.Options{}, false
	}
	return cast.Options{
		Type:        cast.Type(opt.Type),
		StoredType:  cast.StoredType{Type: opt.StoredType, Options: opt.StoredTypeOptions},
		MultiValued: opt.MultiValued,
		Delimiter:   opt.Delimiter,
	}, true
}

// castRows coerces every selected column of every row in place, using each
// column's attributeOptions.
func castRows(rows []datasource.Row, ao map[string]datasource.AttributeOption, engineTZ, outputTZ *time.Location) {
	for _, row := range rows {
		for col := range row {
			opts, ok := attrCastOptions(ao, col)
			if !ok {
				continue
			}
			opts.EngineTZ, opts.OutputTZ = engineTZ, outputTZ
			row[col] = cast.Value(row[col], opts)
		}
	}
}

// castFilterValues normalizes a literal filter value toward its column's
// storedType before the backend call. Scalar types
// (string/int/float/boolean) round-trip through cast.Value cleanly in
// either direction; temporal/object/json storedTypes need a stored-format
// re-encoding cast.Value does not provide (it only goes storedType ->
// logical), so those are left as the client supplied them.
func castFilterValues(q *datasource.Query, engineTZ, outputTZ *time.Location) {
	for i, and := range q.Filter {
		for j, part := range and.Parts {
			if part.Source != datasource.ValueLiteral || part.Value == nil {
				continue
			}
			col := lastSeg(part.Attribute)
			opts, ok := attrCastOptions(q.AttributeOptions, col)
			if !ok {
				continue
			}
			switch opts.Type {
			case cast.TypeInt, cast.TypeFloat, cast.TypeBoolean, cast.TypeString:
				opts.EngineTZ, opts.OutputTZ = engineTZ, outputTZ
				q.Filter[i].Parts[j].Value = cast.Value(part.Value, opts)
			}
		}
	}
}

func lastSeg(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// marker substitution -------------------------------------------------

func isSubFilterMarker(idx int) func(datasource.FilterPart) bool {
	return func(p datasource.FilterPart) bool {
		return p.Source == datasource.ValueFromSubFilter && p.SubFilterIdx == idx
	}
}

func isParentKeyMarker(p datasource.FilterPart) bool {
	return p.Source == datasource.ValueFromParentKey
}

// substituteMarker expands every AndClause containing a FilterPart matched
// by match, cloning the clause once per value, or marking it empty:true if
// no values were projected. A composite key projects each row as a []any
// tuple; the marker parts within one clause are assigned tuple components
// in declaration order.
func substituteMarker(filter datasource.Filter, match func(datasource.FilterPart) bool, values []any) (datasource.Filter, bool) {
	if len(filter) == 0 {
		return filter, false
	}

	var out datasource.Filter
	anyMarker := false
	for _, and := range filter {
		var markerIdx []int
		for i, p := range and.Parts {
			if match(p) {
				markerIdx = append(markerIdx, i)
			}
		}
		if len(markerIdx) == 0 {
			out = append(out, and)
			continue
		}
		anyMarker = true
		if len(values) == 0 {
			out = append(out, datasource.AndClause{Parts: and.Parts, Empty: true})
			continue
		}
		for _, v := range values {
			parts := append([]datasource.FilterPart{}, and.Parts...)
			tuple, isTuple := v.([]any)
			for k, idx := range markerIdx {
				p := parts[idx]
				if isTuple && k < len(tuple) {
					p.Value = tuple[k]
				} else {
					p.Value = v
				}
				p.Source = datasource.ValueLiteral
				parts[idx] = p
			}
			out = append(out, datasource.AndClause{Parts: parts})
		}
	}

	if !anyMarker {
		return filter, false
	}
	allEmpty := true
	for _, and := range out {
		if !and.Empty {
			allEmpty = false
			break
		}
	}
	return out, allEmpty
}

// projectValues extracts the distinct value (or composite tuple, for
// len(keyPath) > 1) of keyPath from each row, deduplicated by a serialized
// key. When flatten is set (multiValuedParentKey) a single-column key's
// array value is expanded into its elements first.
func projectValues(rows []datasource.Row, keyPath []string, flatten bool) []any {
	seen := map[string]bool{}
	var out []any

	if flatten && len(keyPath) == 1 {
		col := keyCol(keyPath[0])
		for _, row := range rows {
			for _, item := range asList(row[col]) {
				if item == nil {
					continue
				}
				k := fmt.Sprint(item)
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, item)
			}
		}
		return out
	}

	for _, row := range rows {
		if len(keyPath) == 1 {
			v := row[keyCol(keyPath[0])]
			if v == nil {
				continue
			}
			k := fmt.Sprint(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
			continue
		}

		tuple := make([]any, len(keyPath))
		allNil := true
		for i, kp := range keyPath {
			v := row[keyCol(kp)]
			tuple[i] = v
			if v != nil {
				allNil = false
			}
		}
		if allNil {
			continue
		}
		k := fmt.Sprint(tuple)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, tuple)
	}
	return out
}

// keyCol derives the row-column key for a parentKey/childKey path segment.
// Like memds' own filter matching (datasource/memds/memds.go partMatches),
// this engine matches a dotted attribute path to a stored row key by its
// last segment rather than re-resolving through Leaf.Map -- consistent with
// how Filter/Order attribute paths are already matched elsewhere in this
// package (documented simplification, DESIGN.md).
func keyCol(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
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
