// Package engine is the ResourceProcessor façade: it owns the
// parsed config.Registry, the driver registry, and the extension.Registry,
// and runs the four pipeline stages -- resolve, execute, build, respond --
// for one request, the way the teacher's discovery.Engine owns the
// adapter/source registry and runs HandleQuery/ExecuteQuery end to end
// (discovery/engine.go, discovery/enginerequests.go).
package engine

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/florajs/flora-go/config"
	"github.com/florajs/flora-go/datasource"
	"github.com/florajs/flora-go/executor"
	"github.com/florajs/flora-go/extension"
	"github.com/florajs/flora-go/floraerr"
	"github.com/florajs/flora-go/profiler"
	"github.com/florajs/flora-go/resolver"
	"github.com/florajs/flora-go/resultbuilder"
)

// Engine bundles everything a request needs: parsed configuration, the
// profiler tree, and the data source registry are read-only during a
// request. There is no package-level singleton: callers construct their
// own Engine and may run any number side by side.
type Engine struct {
	Registry   *config.Registry
	Drivers    map[string]datasource.DataSource
	Extensions *extension.Registry
	Logger     *log.Logger

	resolver *resolver.Resolver
	executor *executor.Executor
	builder  *resultbuilder.Builder
}

// New builds an Engine from a parsed registry and a driver set keyed by
// type name, matching config.Parser.Drivers: data source driver types are
// pluggable by name. logger may be nil, in which case
// logrus.StandardLogger() is used -- never a package-level var the engine
// itself owns.
func New(reg *config.Registry, drivers map[string]datasource.DataSource, ext *extension.Registry, logger *log.Logger) *Engine {
	if ext == nil {
		ext = &extension.Registry{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		Registry:   reg,
		Drivers:    drivers,
		Extensions: ext,
		Logger:     logger,
		resolver:   &resolver.Resolver{Registry: reg},
		executor:   executor.New(reg.Engine, drivers, ext),
		builder:    &resultbuilder.Builder{Extensions: ext},
	}
}

// Response is the envelope returned to the caller.
type Response struct {
	Meta   Meta            `json:"meta"`
	Cursor *resultbuilder.Cursor `json:"cursor,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
	Data   any             `json:"data"`
}

// Meta carries response metadata.
type Meta struct {
	StatusCode int              `json:"statusCode"`
	DurationMs float64          `json:"duration,omitempty"`
	Profile    *profiler.Report `json:"profile,omitempty"`
	Explain    any              `json:"explain,omitempty"`
}

// ResponseError is the public error shape.
type ResponseError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Process runs one request end to end: resolve, execute, build, respond.
// It never panics the caller's goroutine: any stage error is captured into
// Response.Error with the right status hint instead of being returned bare.
func (e *Engine) Process(ctx context.Context, req *resolver.Request) *Response {
	prof := profiler.New()
	root := prof.Root()
	defer root.Stop()

	resp, err := e.process(ctx, req, root)
	if err != nil {
		return e.errorResponse(err, req, root)
	}
	resp.Meta.StatusCode = 200
	e.attachProfile(req, &resp.Meta, root)
	return resp
}

func (e *Engine) process(ctx context.Context, req *resolver.Request, prof *profiler.Node) (*Response, error) {
	if err := e.Extensions.RunRequest(ctx, req.Resource); err != nil {
		return nil, err
	}

	tree, dst, err := e.resolver.Resolve(req)
	if err != nil {
		return nil, err
	}

	results, err := e.executor.Execute(ctx, dst, prof)
	if err != nil {
		return nil, err
	}

	built, err := e.builder.Build(ctx, tree, results)
	if err != nil {
		return nil, err
	}

	response := map[string]any{"data": built.Data}
	if built.Cursor != nil {
		response["cursor"] = map[string]any{"totalCount": built.Cursor.TotalCount}
	}
	if e.Extensions != nil {
		if response, err = e.Extensions.RunResponse(ctx, response); err != nil {
			return nil, err
		}
	}

	return &Response{Data: response["data"], Cursor: built.Cursor}, nil
}

// errorResponse implements the engine's error propagation rules:
// config/resolver/executor/builder errors abort the request with no
// partial results; the public message masks ImplementationError/DataError
// unless exposeErrors is set (see floraerr.Error.PublicMessage).
func (e *Engine) errorResponse(err error, req *resolver.Request, prof *profiler.Node) *Response {
	var fe *floraerr.Error
	if !errors.As(err, &fe) {
		fe = floraerr.Wrap(floraerr.KindImplementation, err)
	}

	e.Logger.WithFields(log.Fields{
		"resource": req.Resource,
		"kind":     fe.Kind,
	}).Error(fe.Error())

	resp := &Response{
		Meta: Meta{StatusCode: fe.Kind.StatusCode()},
		Error: &ResponseError{
			Message: fe.PublicMessage(e.Registry.Engine.ExposeErrors),
		},
	}
	e.attachProfile(req, &resp.Meta, prof)
	return resp
}

// attachProfile fills in Meta.DurationMs/Profile, honoring `_profile` and
// `allowExplain`-style gating: profiler timings are always attached, the
// full tree only when the client asked for it.
func (e *Engine) attachProfile(req *resolver.Request, meta *Meta, prof *profiler.Node) {
	report := prof.Summarize()
	meta.DurationMs = report.DurationMs
	if req.Profile != "" {
		meta.Profile = &report
	}
}

// Init runs the init extension hook. Drivers themselves are already
// prepared by config.Parser.ParseRegistry (it calls Prepare for every
// data-source descriptor) by the time an Engine exists, so Init's only
// remaining job is the extension hook.
func (e *Engine) Init(ctx context.Context) error {
	return e.Extensions.RunInit(ctx)
}

// Close shuts down every driver and runs the close extension hook: a
// graceful shutdown counterpart to the resources established once during
// engine init.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Extensions.RunClose(ctx); err != nil {
		return err
	}
	var firstErr error
	for _, d := range e.Drivers {
		if err := d.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
