package extension

import (
	"context"
	"testing"

	"github.com/florajs/flora-go/datasource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostExecuteRunsInOrderAndThreadsResult(t *testing.T) {
	var order []string
	reg := &Registry{
		PostExecute: []PostExecuteFunc{
			func(_ context.Context, _ string, rows []datasource.Row) ([]datasource.Row, error) {
				order = append(order, "first")
				return append(rows, datasource.Row{"a": 1}), nil
			},
			func(_ context.Context, _ string, rows []datasource.Row) ([]datasource.Row, error) {
				order = append(order, "second")
				return append(rows, datasource.Row{"b": 2}), nil
			},
		},
	}

	out, err := reg.RunPostExecute(context.Background(), "article", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Len(t, out, 2)
}

func TestPostExecuteStopsOnFirstError(t *testing.T) {
	called := false
	reg := &Registry{
		PostExecute: []PostExecuteFunc{
			func(_ context.Context, _ string, rows []datasource.Row) ([]datasource.Row, error) {
				return nil, assert.AnError
			},
			func(_ context.Context, _ string, rows []datasource.Row) ([]datasource.Row, error) {
				called = true
				return rows, nil
			},
		},
	}

	_, err := reg.RunPostExecute(context.Background(), "article", nil)

	require.Error(t, err)
	assert.False(t, called)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var reg *Registry
	assert.NoError(t, reg.RunInit(context.Background()))
	rows, err := reg.RunPostExecute(context.Background(), "article", []datasource.Row{{"a": 1}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
