package memds

import (
	"context"
	"testing"

	"github.com/florajs/flora-go/datasource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessOrders(t *testing.T) {
	ds := New([]datasource.Row{
		{"id": 1, "name": "b"},
		{"id": 2, "name": "a"},
		{"id": 3, "name": "c"},
	})

	res, err := ds.Process(context.Background(), datasource.Query{
		Order: []datasource.OrderClause{{Attribute: []string{"name"}, Direction: datasource.OrderAsc}},
	})

	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	assert.Equal(t, 2, res.Data[0]["id"])
	assert.Equal(t, 1, res.Data[1]["id"])
	assert.Equal(t, 3, res.Data[2]["id"])
	assert.Equal(t, 3, *res.TotalCount)
}

func TestProcessFilterEqualWithSubstitutedList(t *testing.T) {
	ds := New([]datasource.Row{
		{"id": 1}, {"id": 2}, {"id": 3},
	})

	res, err := ds.Process(context.Background(), datasource.Query{
		Filter: datasource.Filter{
			{Parts: []datasource.FilterPart{
				{Attribute: []string{"id"}, Operator: datasource.OpEqual, Value: []any{1, 3}},
			}},
		},
	})

	require.NoError(t, err)
	require.Len(t, res.Data, 2)
}

func TestProcessEmptyClauseSkipsRow(t *testing.T) {
	ds := New([]datasource.Row{{"id": 1}})

	res, err := ds.Process(context.Background(), datasource.Query{
		Filter: datasource.Filter{{Empty: true}},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestProcessPagination(t *testing.T) {
	ds := New([]datasource.Row{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}})
	limit := 2
	page := 2

	res, err := ds.Process(context.Background(), datasource.Query{Limit: &limit, Page: &page})

	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, 3, res.Data[0]["id"])
	assert.Equal(t, 4, res.Data[1]["id"])
}
