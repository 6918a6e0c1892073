package resultbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/executor"
	"github.com/florajs/flora-go/resolver"
)

func leafAttr() *config.Attribute {
	return &config.Attribute{Kind: config.KindLeaf, Leaf: &config.LeafAttribute{}}
}

func articleTree() *resolver.ResourceTree {
	return &resolver.ResourceTree{
		ResourceName:       "article",
		AttributePath:      "article",
		PrimaryDataSource:  "primary",
		ResolvedPrimaryKey: map[string][]string{"primary": {"id"}},
		Many:               true,
		Attrs: map[string]*config.Attribute{
			"id":    leafAttr(),
			"title": leafAttr(),
		},
		Sel: &resolver.SelectNode{Attributes: []string{"id", "title"}},
		LeafBindings: map[string]resolver.LeafBinding{
			"id":    {DataSource: "primary", Column: "id"},
			"title": {DataSource: "primary", Column: "title"},
		},
	}
}

func TestBuildFlatSelectMany(t *testing.T) {
	tree := articleTree()
	results := []executor.Result{
		{
			AttributePath:  "article",
			DataSourceName: "primary",
			Rows: []datasource.Row{
				{"id": 1, "title": "first"},
				{"id": 2, "title": "second"},
			},
		},
	}

	b := &Builder{}
	resp, err := b.Build(context.Background(), tree, results)
	require.NoError(t, err)
	require.NotNil(t, resp.Cursor)
	assert.Equal(t, 2, resp.Cursor.TotalCount)

	items, ok := resp.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0]["title"])
	assert.Equal(t, 2, items[1]["id"])
}

func TestBuildSingleObjectNotFound(t *testing.T) {
	tree := articleTree()
	tree.Many = false

	results := []executor.Result{
		{AttributePath: "article", DataSourceName: "primary", Rows: nil},
	}

	b := &Builder{}
	_, err := b.Build(context.Background(), tree, results)
	require.Error(t, err)
}

func TestBuildOneToManySubResource(t *testing.T) {
	parent := articleTree()

	comments := &resolver.ResourceTree{
		ResourceName:       "comments",
		AttributePath:      "article.comments",
		PrimaryDataSource:  "primary",
		ResolvedPrimaryKey: map[string][]string{"primary": {"id"}},
		ResolvedChildKey:   map[string][]string{"primary": {"articleId"}},
		ParentKey:          []string{"id"},
		Many:               true,
		Attrs: map[string]*config.Attribute{
			"id":        leafAttr(),
			"articleId": leafAttr(),
			"content":   leafAttr(),
		},
		Sel: &resolver.SelectNode{Attributes: []string{"content"}},
		LeafBindings: map[string]resolver.LeafBinding{
			"id":        {DataSource: "primary", Column: "id"},
			"articleId": {DataSource: "primary", Column: "articleId"},
			"content":   {DataSource: "primary", Column: "content"},
		},
	}
	parent.Children = []*resolver.ResourceTree{comments}
	parent.Sel.SubResources = map[string]*resolver.SubResourceSelect{
		"comments": {Select: comments.Sel},
	}
	parent.Attrs["comments"] = &config.Attribute{
		Kind:        config.KindSubResource,
		SubResource: &config.SubResourceAttribute{Many: true, ParentKey: []string{"id"}, ChildKey: []string{"articleId"}},
	}

	results := []executor.Result{
		{
			AttributePath:  "article",
			DataSourceName: "primary",
			Rows:           []datasource.Row{{"id": 1, "title": "first"}},
		},
		{
			AttributePath:  "article.comments",
			DataSourceName: "primary",
			Rows: []datasource.Row{
				{"id": 10, "articleId": 1, "content": "c1"},
				{"id": 11, "articleId": 1, "content": "c2"},
			},
		},
	}

	b := &Builder{}
	resp, err := b.Build(context.Background(), parent, results)
	require.NoError(t, err)

	items, ok := resp.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 1)

	nested, ok := items[0]["comments"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nested, 2)
	assert.Equal(t, "c1", nested[0]["content"])
	assert.Equal(t, "c2", nested[1]["content"])
	_, hasArticleID := nested[0]["articleId"]
	assert.False(t, hasArticleID, "unselected leaf must not appear in the assembled item")
}

// m:n via a join table: one article with three categories through
// articleCategories. Every join row must survive (not just the last one
// seen for a given parent), in join-row sequence, and the join row's own
// "order" column must be exposed on each assembled category.
func TestBuildJoinViaPreservesEveryChildAndOrder(t *testing.T) {
	parent := articleTree()

	categories := &resolver.ResourceTree{
		ResourceName:       "categories",
		AttributePath:      "article.categories",
		PrimaryDataSource:  "primary",
		ResolvedPrimaryKey: map[string][]string{"primary": {"id"}},
		ResolvedChildKey:   map[string][]string{"primary": {"id"}},
		ParentKey:          []string{"id"},
		JoinVia:            "articleCategories",
		JoinParentKeyCols:  []string{"articleId"},
		JoinChildKeyCols:   []string{"categoryId"},
		Many:               true,
		Attrs: map[string]*config.Attribute{
			"id":    leafAttr(),
			"name":  leafAttr(),
			"order": leafAttr(),
		},
		Sel: &resolver.SelectNode{Attributes: []string{"name", "order"}},
		LeafBindings: map[string]resolver.LeafBinding{
			"id":    {DataSource: "primary", Column: "id"},
			"name":  {DataSource: "primary", Column: "name"},
			"order": {DataSource: "articleCategories", Column: "order"},
		},
	}
	parent.Children = []*resolver.ResourceTree{categories}
	parent.Sel.SubResources = map[string]*resolver.SubResourceSelect{
		"categories": {Select: categories.Sel},
	}
	parent.Attrs["categories"] = &config.Attribute{
		Kind:        config.KindSubResource,
		SubResource: &config.SubResourceAttribute{Many: true, JoinVia: "articleCategories"},
	}

	results := []executor.Result{
		{
			AttributePath:  "article",
			DataSourceName: "primary",
			Rows:           []datasource.Row{{"id": 1, "title": "first"}},
		},
		{
			AttributePath:  "article.categories",
			DataSourceName: "articleCategories",
			Rows: []datasource.Row{
				{"articleId": 1, "categoryId": 10, "order": 1},
				{"articleId": 1, "categoryId": 20, "order": 2},
				{"articleId": 1, "categoryId": 30, "order": 3},
			},
		},
		{
			AttributePath:  "article.categories",
			DataSourceName: "primary",
			Rows: []datasource.Row{
				{"id": 10, "name": "tech"},
				{"id": 20, "name": "news"},
				{"id": 30, "name": "life"},
			},
		},
	}

	b := &Builder{}
	resp, err := b.Build(context.Background(), parent, results)
	require.NoError(t, err)

	items, ok := resp.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 1)

	nested, ok := items[0]["categories"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nested, 3, "every join row must survive, not just the last one seen for the parent")
	assert.Equal(t, "tech", nested[0]["name"])
	assert.Equal(t, 1, nested[0]["order"])
	assert.Equal(t, "news", nested[1]["name"])
	assert.Equal(t, 2, nested[1]["order"])
	assert.Equal(t, "life", nested[2]["name"])
	assert.Equal(t, 3, nested[2]["order"])
}

func TestBuildSubResourceEmptyWhenParentKeyNull(t *testing.T) {
	parent := articleTree()
	parent.Many = false
	parent.Attrs["authorId"] = leafAttr()
	parent.LeafBindings["authorId"] = resolver.LeafBinding{DataSource: "primary", Column: "authorId"}

	comments := &resolver.ResourceTree{
		AttributePath:      "article.comments",
		PrimaryDataSource:  "primary",
		ResolvedPrimaryKey: map[string][]string{"primary": {"id"}},
		ResolvedChildKey:   map[string][]string{"primary": {"articleId"}},
		ParentKey:          []string{"authorId"},
		Many:               true,
		Attrs:              map[string]*config.Attribute{"content": leafAttr()},
		Sel:                &resolver.SelectNode{Attributes: []string{"content"}},
		LeafBindings: map[string]resolver.LeafBinding{
			"content": {DataSource: "primary", Column: "content"},
		},
	}
	parent.Children = []*resolver.ResourceTree{comments}
	parent.Sel.SubResources = map[string]*resolver.SubResourceSelect{"comments": {Select: comments.Sel}}
	parent.Attrs["comments"] = &config.Attribute{Kind: config.KindSubResource}

	results := []executor.Result{
		{AttributePath: "article", DataSourceName: "primary", Rows: []datasource.Row{{"id": 1, "title": "orphan", "authorId": nil}}},
		{AttributePath: "article.comments", DataSourceName: "primary", Rows: nil},
	}

	b := &Builder{}
	resp, err := b.Build(context.Background(), parent, results)
	require.NoError(t, err)

	item, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []map[string]any{}, item["comments"])
}
