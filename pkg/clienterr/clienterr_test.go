package clienterr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMessages(t *testing.T) {
	assert.Equal(t, "address resolution failed", ResolutionFailure.Error())
	assert.Equal(t, "schema load failed", SchemaLoadFailure.Error())
	assert.Equal(t, "unknown client error: 42", Kind(42).Error())
}

func TestErrorFormatting(t *testing.T) {
	err := New(TransportFailure, "write", io.ErrClosedPipe)
	assert.Equal(t, "write: transport write failed: io: read/write on closed pipe", err.Error())

	err = New(ConnectFailure, "", nil)
	assert.Equal(t, "connection failed", err.Error())

	err = New(EncodeFailure, "json", nil)
	assert.Equal(t, "json: request encoding failed", err.Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(SchemaLoadFailure, "load schema", io.EOF)
	wrapped := fmt.Errorf("encode: %w", base)

	assert.Equal(t, SchemaLoadFailure, KindOf(wrapped))
	assert.True(t, Is(wrapped, SchemaLoadFailure))
	assert.False(t, Is(wrapped, SchemaParseFailure))
	assert.True(t, errors.Is(wrapped, io.EOF))
	assert.True(t, errors.Is(wrapped, SchemaLoadFailure))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "load schema", e.Op)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, Unknown))
}
