// Package extension implements the engine's typed per-phase hook registry.
// Each phase has its own function
// signature because each fires with different materials available (a raw
// query before it reaches a data source, a row after it returns, a fully
// assembled response item); hooks within a phase run sequentially, in
// registration order, so a later hook sees an earlier hook's edits.
package extension

import (
	"context"

	"github.com/florajs/flora-go/datasource"
)

type InitFunc func(ctx context.Context) error
type CloseFunc func(ctx context.Context) error
type RequestFunc func(ctx context.Context, resource string) error
type PreExecuteFunc func(ctx context.Context, attributePath string, query *datasource.Query) error
type PostExecuteFunc func(ctx context.Context, attributePath string, rows []datasource.Row) ([]datasource.Row, error)
type ItemFunc func(ctx context.Context, resource string, item map[string]any) (map[string]any, error)
type ResponseFunc func(ctx context.Context, response map[string]any) (map[string]any, error)

// Registry holds the ordered hook chain for every phase. A zero Registry
// runs every phase as a no-op, so callers that register nothing pay
// nothing.
type Registry struct {
	Init        []InitFunc
	Close       []CloseFunc
	Request     []RequestFunc
	PreExecute  []PreExecuteFunc
	PostExecute []PostExecuteFunc
	Item        []ItemFunc
	Response    []ResponseFunc
}

func (r *Registry) RunInit(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for _, f := range r.Init {
		if err := f(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) RunClose(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for _, f := range r.Close {
		if err := f(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) RunRequest(ctx context.Context, resource string) error {
	if r == nil {
		return nil
	}
	for _, f := range r.Request {
		if err := f(ctx, resource); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) RunPreExecute(ctx context.Context, attributePath string, query *datasource.Query) error {
	if r == nil {
		return nil
	}
	for _, f := range r.PreExecute {
		if err := f(ctx, attributePath, query); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) RunPostExecute(ctx context.Context, attributePath string, rows []datasource.Row) ([]datasource.Row, error) {
	if r == nil {
		return rows, nil
	}
	var err error
	for _, f := range r.PostExecute {
		rows, err = f(ctx, attributePath, rows)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (r *Registry) RunItem(ctx context.Context, resource string, item map[string]any) (map[string]any, error) {
	if r == nil {
		return item, nil
	}
	var err error
	for _, f := range r.Item {
		item, err = f(ctx, resource, item)
		if err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (r *Registry) RunResponse(ctx context.Context, response map[string]any) (map[string]any, error) {
	if r == nil {
		return response, nil
	}
	var err error
	for _, f := range r.Response {
		response, err = f(ctx, response)
		if err != nil {
			return nil, err
		}
	}
	return response, nil
}
