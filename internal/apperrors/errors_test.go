package apperrors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsMatchTheirSentinels(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("operation: %w", err) }

	assert.True(t, errors.Is(wrapped(Invalid("pageNumber", "must be positive")), ErrValidation))
	assert.True(t, errors.Is(wrapped(&MismatchError{Expected: "a", Actual: "b"}), ErrMismatch))
	assert.True(t, errors.Is(wrapped(&NotFoundError{Kind: "page", ID: "2"}), ErrNotFound))
	assert.True(t, errors.Is(wrapped(&ConflictError{Path: "m", ExpectedGeneration: 3}), ErrConflict))

	fetch := &UpstreamFetchError{URL: "https://x", Err: io.ErrUnexpectedEOF}
	assert.True(t, errors.Is(wrapped(fetch), ErrUpstreamFetch))
	assert.True(t, errors.Is(fetch, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(fetch, ErrNotFound))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "pageNumber: must be positive", Invalid("pageNumber", "must be positive").Error())
	assert.Equal(t, "body is empty", Invalid("", "body is empty").Error())
	assert.Equal(t, "page 4 not found", (&NotFoundError{Kind: "page", ID: "4"}).Error())
	assert.Equal(t, "fetch u: HTTP 404: missing", (&UpstreamFetchError{URL: "u", StatusCode: 404, Body: "missing"}).Error())
	assert.Equal(t, "fetch u: HTTP 500", (&UpstreamFetchError{URL: "u", StatusCode: 500}).Error())
	assert.Equal(t, "fetch u failed", (&UpstreamFetchError{URL: "u"}).Error())
	assert.Equal(t, `manifest belongs to project "b", expected "a"`, (&MismatchError{Expected: "a", Actual: "b"}).Error())
}
