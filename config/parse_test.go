package config

import (
	"context"
	"testing"

	"github.com/florajs/flora-go/datasource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopDriver struct {
	prepared []string
}

func (n *noopDriver) Prepare(_ context.Context, desc *datasource.Descriptor, cols []string) error {
	n.prepared = append(n.prepared, desc.Name)
	return nil
}
func (n *noopDriver) Process(_ context.Context, _ datasource.Query) (datasource.Result, error) {
	return datasource.Result{}, nil
}
func (n *noopDriver) Close(_ context.Context) error { return nil }

func articleRaw() map[string]RawNode {
	return map[string]RawNode{
		"article": {
			"dataSources": map[string]any{
				"primary": map[string]any{"type": "sql"},
			},
			"primaryKey": []any{"id"},
			"attributes": map[string]any{
				"id":    map[string]any{"type": "int"},
				"title": map[string]any{"type": "string"},
				"comments": map[string]any{
					"dataSources": map[string]any{
						"primary": map[string]any{"type": "sql"},
					},
					"primaryKey": []any{"id"},
					"many":       true,
					"parentKey":  []any{"id"},
					"childKey":   []any{"articleId"},
					"attributes": map[string]any{
						"id":        map[string]any{"type": "int"},
						"articleId": map[string]any{"type": "int"},
						"content":   map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func TestParseRegistrySimpleResource(t *testing.T) {
	driver := &noopDriver{}
	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": driver}}

	reg, err := p.ParseRegistry(context.Background(), articleRaw())

	require.NoError(t, err)
	res := reg.Resources["article"]
	require.NotNil(t, res)
	assert.Equal(t, map[string][]string{"primary": {"id"}}, res.ResolvedPrimaryKey)

	idLeaf := res.Attributes["id"].Leaf
	require.NotNil(t, idLeaf)
	assert.Contains(t, idLeaf.FilterOps, datasource.OpEqual, "single-column primary key gets a default equality filter")

	comments := res.Attributes["comments"].SubResource
	require.NotNil(t, comments)
	assert.Equal(t, map[string][]string{"primary": {"id"}}, comments.ResolvedParentKey)
	assert.Equal(t, map[string][]string{"primary": {"articleId"}}, comments.ResolvedChildKey)
	assert.True(t, comments.Many)
}

func TestDefaultMapToPrimary(t *testing.T) {
	driver := &noopDriver{}
	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": driver}}

	reg, err := p.ParseRegistry(context.Background(), articleRaw())
	require.NoError(t, err)

	title := reg.Resources["article"].Attributes["title"].Leaf
	assert.Equal(t, "title", title.Map["primary"])
}

func TestUnknownOptionFailsWithPath(t *testing.T) {
	raw := articleRaw()
	raw["article"]["bogusOption"] = true

	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": &noopDriver{}}}
	_, err := p.ParseRegistry(context.Background(), raw)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogusOption")
}

func TestMismatchedKeyLengthFails(t *testing.T) {
	raw := articleRaw()
	comments := raw["article"]["attributes"].(map[string]any)["comments"].(map[string]any)
	comments["childKey"] = []any{"articleId", "extra"}

	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": &noopDriver{}}}
	_, err := p.ParseRegistry(context.Background(), raw)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parentKey")
}

func TestFilterTrueExpandsToEqual(t *testing.T) {
	raw := articleRaw()
	raw["article"]["attributes"].(map[string]any)["title"].(map[string]any)["filter"] = true

	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": &noopDriver{}}}
	reg, err := p.ParseRegistry(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, []datasource.Operator{datasource.OpEqual}, reg.Resources["article"].Attributes["title"].Leaf.FilterOps)
}

func TestPrepareCalledPerDataSource(t *testing.T) {
	driver := &noopDriver{}
	p := &Parser{Drivers: map[string]datasource.DataSource{"sql": driver}}

	_, err := p.ParseRegistry(context.Background(), articleRaw())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"primary", "primary"}, driver.prepared)
}

func TestUnknownDriverFails(t *testing.T) {
	p := &Parser{Drivers: map[string]datasource.DataSource{}}
	_, err := p.ParseRegistry(context.Background(), articleRaw())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no driver registered")
}
