package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/datasource/memds"
	"github.com/florajs/flora-go/executor"
	"github.com/florajs/flora-go/profiler"
	"github.com/florajs/flora-go/resolver"
)

func newExecutor(drivers map[string]datasource.DataSource) *executor.Executor {
	return executor.New(config.Engine{Timezone: "UTC"}, drivers, nil)
}

// author.groupId=7 is resolved as a cross-resource subFilter: the group
// data source is queried first for the matching group id, then that value
// is substituted into the author query's marker filter part.
func TestExecuteSubFilterSubstitution(t *testing.T) {
	groups := memds.New([]datasource.Row{{"id": 7, "name": "admins"}})
	authors := memds.New([]datasource.Row{
		{"id": 1, "name": "alice", "groupId": 7},
		{"id": 2, "name": "bob", "groupId": 9},
	})
	drivers := map[string]datasource.DataSource{"authors": authors, "groups": groups}

	root := &resolver.DST{
		AttributePath:  "author",
		DataSourceName: "authors",
		Request: datasource.Query{
			Type:       "authors",
			Attributes: []string{"id", "name", "groupId"},
			Filter: datasource.Filter{{Parts: []datasource.FilterPart{
				{Attribute: []string{"groupId"}, Operator: datasource.OpEqual, Source: datasource.ValueFromSubFilter, SubFilterIdx: 0},
			}}},
		},
		SubFilters: []*resolver.DST{
			{
				AttributePath:  "author.group",
				DataSourceName: "groups",
				ChildKey:       []string{"id"},
				Request: datasource.Query{
					Type:       "groups",
					Attributes: []string{"id"},
					Filter: datasource.Filter{{Parts: []datasource.FilterPart{
						{Attribute: []string{"name"}, Operator: datasource.OpEqual, Value: "admins", Source: datasource.ValueLiteral},
					}}},
				},
			},
		},
	}

	ex := newExecutor(drivers)
	results, err := ex.Execute(context.Background(), root, profiler.New().Root())
	require.NoError(t, err)

	require.Len(t, groups.Calls, 1)
	require.Len(t, authors.Calls, 1)
	require.Len(t, authors.Calls[0].Filter, 1)
	assert.Equal(t, datasource.ValueLiteral, authors.Calls[0].Filter[0].Parts[0].Source)
	assert.Equal(t, 7, authors.Calls[0].Filter[0].Parts[0].Value)

	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, 1, results[0].Rows[0]["id"])
}

// When the subFilter returns no rows, the marker substitution collapses
// every AND-clause to empty and the main query must never reach the
// backend at all.
func TestExecuteEmptySubFilterSkipsBackendCall(t *testing.T) {
	groups := memds.New(nil)
	authors := memds.New([]datasource.Row{{"id": 1, "name": "alice", "groupId": 7}})
	drivers := map[string]datasource.DataSource{"authors": authors, "groups": groups}

	root := &resolver.DST{
		AttributePath:  "author",
		DataSourceName: "authors",
		Request: datasource.Query{
			Type:       "authors",
			Attributes: []string{"id", "name", "groupId"},
			Filter: datasource.Filter{{Parts: []datasource.FilterPart{
				{Attribute: []string{"groupId"}, Operator: datasource.OpEqual, Source: datasource.ValueFromSubFilter, SubFilterIdx: 0},
			}}},
		},
		SubFilters: []*resolver.DST{
			{
				AttributePath:  "author.group",
				DataSourceName: "groups",
				ChildKey:       []string{"id"},
				Request: datasource.Query{
					Type:       "groups",
					Attributes: []string{"id"},
					Filter: datasource.Filter{{Parts: []datasource.FilterPart{
						{Attribute: []string{"name"}, Operator: datasource.OpEqual, Value: "nonexistent", Source: datasource.ValueLiteral},
					}}},
				},
			},
		},
	}

	ex := newExecutor(drivers)
	results, err := ex.Execute(context.Background(), root, profiler.New().Root())
	require.NoError(t, err)

	assert.Len(t, groups.Calls, 1)
	assert.Empty(t, authors.Calls, "the empty subFilter cascade must skip the main backend call entirely")

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Rows)
	require.NotNil(t, results[0].TotalCount)
	assert.Equal(t, 0, *results[0].TotalCount)
}

// A sub-request whose parent rows carry no value for its parentKey is
// skipped without invoking its backend, returning an empty result instead.
func TestRunSubRequestsSkipsWhenParentKeyValuesEmpty(t *testing.T) {
	articles := memds.New([]datasource.Row{{"id": 1, "title": "first"}})
	authors := memds.New([]datasource.Row{{"id": 9, "name": "ghost"}})
	drivers := map[string]datasource.DataSource{"articles": articles, "authors": authors}

	root := &resolver.DST{
		AttributePath:  "article",
		DataSourceName: "articles",
		Request:        datasource.Query{Type: "articles", Attributes: []string{"id", "title"}},
		SubRequests: []*resolver.DST{
			{
				AttributePath:  "article.author",
				DataSourceName: "authors",
				ParentKey:      []string{"authorId"},
				ChildKey:       []string{"id"},
				Request: datasource.Query{
					Type:       "authors",
					Attributes: []string{"id", "name"},
					Filter: datasource.Filter{{Parts: []datasource.FilterPart{
						{Attribute: []string{"id"}, Operator: datasource.OpEqual, Source: datasource.ValueFromParentKey},
					}}},
				},
			},
		},
	}

	ex := newExecutor(drivers)
	results, err := ex.Execute(context.Background(), root, profiler.New().Root())
	require.NoError(t, err)

	assert.Empty(t, authors.Calls, "sub-request must not reach the backend when no parent value is available")

	require.Len(t, results, 2)
	assert.Equal(t, "article", results[0].AttributePath)
	assert.Equal(t, "article.author", results[1].AttributePath)
	assert.Empty(t, results[1].Rows)
}

// Sibling sub-requests run concurrently but their results are concatenated
// in declaration order, main result first.
func TestExecuteConcurrentSiblingSubRequests(t *testing.T) {
	articles := memds.New([]datasource.Row{{"id": 1, "title": "first"}})
	comments := memds.New([]datasource.Row{
		{"id": 10, "articleId": 1, "content": "c1"},
		{"id": 11, "articleId": 1, "content": "c2"},
	})
	tags := memds.New([]datasource.Row{
		{"id": 20, "articleId": 1, "label": "go"},
	})
	drivers := map[string]datasource.DataSource{"articles": articles, "comments": comments, "tags": tags}

	root := &resolver.DST{
		AttributePath:  "article",
		DataSourceName: "articles",
		Request:        datasource.Query{Type: "articles", Attributes: []string{"id", "title"}},
		SubRequests: []*resolver.DST{
			{
				AttributePath:  "article.comments",
				DataSourceName: "comments",
				ParentKey:      []string{"id"},
				ChildKey:       []string{"articleId"},
				Many:           true,
				Request: datasource.Query{
					Type:       "comments",
					Attributes: []string{"id", "articleId", "content"},
					Filter: datasource.Filter{{Parts: []datasource.FilterPart{
						{Attribute: []string{"articleId"}, Operator: datasource.OpEqual, Source: datasource.ValueFromParentKey},
					}}},
				},
			},
			{
				AttributePath:  "article.tags",
				DataSourceName: "tags",
				ParentKey:      []string{"id"},
				ChildKey:       []string{"articleId"},
				Many:           true,
				Request: datasource.Query{
					Type:       "tags",
					Attributes: []string{"id", "articleId", "label"},
					Filter: datasource.Filter{{Parts: []datasource.FilterPart{
						{Attribute: []string{"articleId"}, Operator: datasource.OpEqual, Source: datasource.ValueFromParentKey},
					}}},
				},
			},
		},
	}

	ex := newExecutor(drivers)
	results, err := ex.Execute(context.Background(), root, profiler.New().Root())
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "article", results[0].AttributePath)
	assert.Equal(t, "article.comments", results[1].AttributePath)
	assert.Equal(t, "article.tags", results[2].AttributePath)
	assert.Len(t, results[1].Rows, 2)
	assert.Len(t, results[2].Rows, 1)
}
