package floraerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	cases := map[Kind]int{
		KindRequest:        400,
		KindAuthentication: 401,
		KindAuthorization:  403,
		KindNotFound:       404,
		KindImplementation: 500,
		KindData:           500,
		KindConnection:     503,
		KindFlora:          503,
	}
	for kind, code := range cases {
		assert.Equal(t, code, kind.StatusCode(), "kind %v", kind)
	}
}

func TestPublicMessageMasksInternal(t *testing.T) {
	implErr := NewImplementationError("missing primary result for %s", "article")

	assert.Equal(t, "Internal Server Error", implErr.PublicMessage(false))
	assert.Contains(t, implErr.PublicMessage(true), "missing primary result")

	notFound := NewNotFoundError("no row matched id %v", 7)
	assert.Contains(t, notFound.PublicMessage(false), "no row matched id 7")
}

func TestWrapPreservesExistingKind(t *testing.T) {
	original := NewDataError("duplicate child key")

	wrapped := Wrap(KindImplementation, original)

	require.Equal(t, KindData, wrapped.Kind, "Wrap must not re-kind an existing floraerr.Error")
}

func TestWithPathAnnotatesMessage(t *testing.T) {
	err := NewRequestError("unsupported operator").WithPath("article", "author.groupId", "primary")

	assert.ErrorContains(t, err, "attribute=author.groupId")
	assert.ErrorContains(t, err, "dataSource=primary")

	var target *Error
	require.True(t, errors.As(error(err), &target))
}

func TestAsHelper(t *testing.T) {
	err := error(NewConnectionError("backend unreachable"))

	assert.True(t, As(err, KindConnection))
	assert.False(t, As(err, KindData))
	assert.False(t, As(errors.New("plain"), KindConnection))
}
