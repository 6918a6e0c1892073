package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracerReturnsNonNil(t *testing.T) {
	assert.NotNil(t, Tracer())
}

func TestLogRecoverToReturnSwallowsPanic(t *testing.T) {
	doPanic := func() {
		defer LogRecoverToReturn(context.Background(), "test")
		panic("boom")
	}
	assert.NotPanics(t, doPanic)
}
