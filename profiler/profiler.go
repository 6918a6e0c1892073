// Package profiler implements the hierarchical timing tree attached to a
// request. It is deliberately a plain in-memory tree rather than a full
// tracing SDK: exporter wiring
// (OTLP, stdout, etc.) is left to the hosting process, the same split the
// teacher repo uses between `discovery` (calls tracer.Start) and
// `tracing/main.go` (configures exporters) -- see tracing.Tracer().
package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/florajs/flora-go/tracing"
)

// Node is one entry in the profiler tree: a named span of work (typically
// "attributePath:dataSourceName") with a start/stop time and any number of
// children recorded while it was active.
type Node struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Duration time.Duration `json:"duration"`

	mu       sync.Mutex
	children []*Node
	otel     trace.Span
	memBefore tracing.MemoryStats
}

// Profiler is the root of a request's timing tree. It is created once per
// request by the engine and passed down to the executor.
type Profiler struct {
	root *Node
}

// New creates a profiler rooted at a node named "request".
func New() *Profiler {
	return &Profiler{root: newNode("request")}
}

func newNode(name string) *Node {
	return &Node{ID: uuid.New().String(), Name: name, Start: time.Now()}
}

// Root returns the root node, useful for callers that want to stop it
// explicitly once the whole request is done.
func (p *Profiler) Root() *Node {
	return p.root
}

// Start begins a named child span under parent and returns it. Call Stop (or
// defer it) when the represented work completes. If ctx carries an active
// otel span, a child span is also started so the profiler tree and the trace
// tree stay in sync -- every data-source Process call is wrapped in a
// profiler child this way, with the parent profiler threaded down through
// the DST.
func (parent *Node) Start(ctx context.Context, name string) (*Node, context.Context) {
	child := newNode(name)
	child.memBefore = tracing.ReadMemoryStats()

	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx, otelSpan := traceStart(ctx, name)
		child.otel = otelSpan
		return child, spanCtx
	}
	return child, ctx
}

// traceStart is split out so tests can run without a configured TracerProvider.
func traceStart(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("github.com/florajs/flora-go/profiler")
	return tracer.Start(ctx, name)
}

// Stop finalizes the node's duration and ends the associated otel span, if
// any. It is safe to call Stop more than once; only the first call counts.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Duration != 0 {
		return
	}
	n.Duration = time.Since(n.Start)
	if n.otel != nil {
		tracing.SetMemoryDeltaAttributes(n.otel, n.Name, n.memBefore, tracing.ReadMemoryStats())
		n.otel.End()
	}
}

// Report is the JSON-serializable shape returned when `_profile=1` is set,
// under the response's meta.profile field. The engine attaches the same
// Report for `_profile=raw`.
type Report struct {
	Name       string   `json:"name"`
	DurationMs float64  `json:"durationMs"`
	Children   []Report `json:"children,omitempty"`
}

// Summarize walks the tree and produces the nested millisecond-duration
// report shape used for `_profile=1`.
func (n *Node) Summarize() Report {
	n.mu.Lock()
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	n.mu.Unlock()

	r := Report{Name: n.Name, DurationMs: float64(n.Duration.Microseconds()) / 1000.0}
	for _, c := range children {
		r.Children = append(r.Children, c.Summarize())
	}
	return r
}
