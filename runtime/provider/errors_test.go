package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{429, KindRateLimit, true},
		{401, KindAuth, false},
		{403, KindAuth, false},
		{404, KindModelNotFound, false},
		{408, KindTimeout, true},
		{400, KindBadRequest, false},
		{422, KindBadRequest, false},
		{500, KindServerError, true},
		{503, KindServerError, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			kind, retryable := ClassifyStatus(tc.status)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.retryable, retryable)
		})
	}
}

func TestWrap(t *testing.T) {
	orig := &Error{Kind: KindAuth, Retryable: false, Status: 401, Message: "bad key"}
	assert.Same(t, orig, Wrap(fmt.Errorf("call failed: %w", orig)))

	werr := Wrap(context.DeadlineExceeded)
	require.NotNil(t, werr)
	assert.Equal(t, KindTimeout, werr.Kind)
	assert.True(t, werr.Retryable)

	werr = Wrap(context.Canceled)
	assert.False(t, werr.Retryable)

	werr = Wrap(errors.New("connection reset"))
	assert.Equal(t, KindTransport, werr.Kind)
	assert.True(t, werr.Retryable)

	assert.Nil(t, Wrap(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := FromStatus(500, "server exploded", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "HTTP 500")
}
