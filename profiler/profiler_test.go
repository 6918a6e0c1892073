package profiler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopRecordsDuration(t *testing.T) {
	p := New()

	child, _ := p.Root().Start(context.Background(), "article:primary")
	time.Sleep(time.Millisecond)
	child.Stop()

	require.NotZero(t, child.Duration)
}

func TestSummarizeNestsChildren(t *testing.T) {
	p := New()

	main, ctx := p.Root().Start(context.Background(), "article:primary")
	sub, _ := main.Start(ctx, "comments:primary")
	sub.Stop()
	main.Stop()
	p.Root().Stop()

	report := p.Root().Summarize()
	require.Len(t, report.Children, 1)
	assert.Equal(t, "article:primary", report.Children[0].Name)
	require.Len(t, report.Children[0].Children, 1)
	assert.Equal(t, "comments:primary", report.Children[0].Children[0].Name)
}

func TestStopIsIdempotent(t *testing.T) {
	p := New()
	node, _ := p.Root().Start(context.Background(), "x")
	node.Stop()
	first := node.Duration
	node.Stop()
	assert.Equal(t, first, node.Duration)
}
