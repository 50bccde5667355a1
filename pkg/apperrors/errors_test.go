package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHelpers(t *testing.T) {
	validation := Validation("bad field %q", "kind")
	notFound := NotFound("conversation", "c-1")
	storage := Storage("insert", errors.New("disk full"))
	upstream := Upstream("embed", errors.New("timeout"))

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(notFound))

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(storage))

	assert.True(t, IsStorage(storage))
	assert.True(t, IsUpstream(upstream))
	assert.False(t, IsUpstream(storage))
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", NotFound("conversation", "c-1"))
	assert.True(t, IsNotFound(wrapped))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("vector search", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "vector search")
}

func TestNilIsNoKind(t *testing.T) {
	assert.False(t, IsValidation(nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsStorage(nil))
	assert.False(t, IsUpstream(nil))
}
