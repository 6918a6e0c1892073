// Command floraengine is a small demonstration binary wiring an in-memory
// DataSource to the engine, parsing a YAML resource config, and running one
// request end to end (SPEC_FULL §11) -- the role sources/example plays for
// the teacher: exercise every pipeline stage without a real backend driver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/datasource/memds"
	"github.com/florajs/flora-go/engine"
	"github.com/florajs/flora-go/resolver"
)

// demoConfigYAML describes an article resource with a 1:n comments
// sub-resource.
const demoConfigYAML = `
article:
  dataSources:
    primary:
      type: articles_mem
  primaryKey: [id]
  attributes:
    id: {type: int}
    title: {type: string}
    comments:
      dataSources:
        primary:
          type: comments_mem
      primaryKey: [id]
      many: true
      parentKey: [id]
      childKey: [articleId]
      attributes:
        id: {type: int}
        articleId: {type: int}
        content: {type: string}
`

// dataSourceStruct/attributeStruct/resourceStruct mirror the RawNode shape
// with json tags, so a resource can be authored as a Go value (e.g.
// generated from a database schema) instead of hand-written YAML and still
// flow through the same config.DecodeYAML-shaped path via
// config.DecodeStructAsYAML.
type dataSourceStruct struct {
	Type string `json:"type"`
}

type attributeStruct struct {
	Type string `json:"type"`
}

type resourceStruct struct {
	DataSources map[string]dataSourceStruct `json:"dataSources"`
	PrimaryKey  []string                    `json:"primaryKey"`
	Attributes  map[string]attributeStruct  `json:"attributes"`
}

func main() {
	ctx := context.Background()

	doc, err := config.DecodeYAML([]byte(demoConfigYAML))
	must(err)
	articleNode, ok := doc["article"].(map[string]any)
	if !ok {
		must(fmt.Errorf("demo config: missing article resource"))
	}

	authorStruct := resourceStruct{
		DataSources: map[string]dataSourceStruct{"primary": {Type: "authors_mem"}},
		PrimaryKey:  []string{"id"},
		Attributes: map[string]attributeStruct{
			"id":   {Type: "int"},
			"name": {Type: "string"},
		},
	}
	authorDoc, err := config.DecodeStructAsYAML(authorStruct)
	must(err)

	articles := memds.New([]datasource.Row{
		{"id": 1, "title": "first post"},
		{"id": 2, "title": "second post"},
		{"id": 3, "title": "third post"},
	})
	comments := memds.New([]datasource.Row{
		{"id": 1, "articleId": 1, "content": "c1"},
		{"id": 2, "articleId": 1, "content": "c2"},
		{"id": 3, "articleId": 2, "content": "c3"},
	})
	authors := memds.New([]datasource.Row{
		{"id": 1, "name": "first author"},
	})

	drivers := map[string]datasource.DataSource{
		"articles_mem": articles,
		"comments_mem": comments,
		"authors_mem":  authors,
	}

	parser := &config.Parser{Drivers: drivers, Engine: config.Engine{Timezone: "UTC"}}
	registry, err := parser.ParseRegistry(ctx, map[string]config.RawNode{
		"article": articleNode,
		"author":  authorDoc,
	})
	must(err)

	eng := engine.New(registry, drivers, nil, nil)
	must(eng.Init(ctx))
	defer func() { _ = eng.Close(ctx) }()

	req := &resolver.Request{
		Resource: "article",
		Select: &resolver.SelectNode{
			Attributes: []string{"id", "title"},
			SubResources: map[string]*resolver.SubResourceSelect{
				"comments": {Select: &resolver.SelectNode{Attributes: []string{"content"}}},
			},
		},
		Profile: "1",
	}

	resp := eng.Process(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(resp))
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
