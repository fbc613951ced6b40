package protocol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRequest(t *testing.T) {
	req := DefaultRequest()
	assert.Equal(t, Request{Operation: "set", Key: "k3", Value: "v3"}, req)
	assert.NoError(t, req.Validate())
	assert.Equal(t, "set k3=v3", req.String())
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Request{Key: "k"}.Validate(), ErrEmptyOperation)
	assert.ErrorIs(t, Request{Operation: "  ", Key: "k"}.Validate(), ErrEmptyOperation)
	assert.ErrorIs(t, Request{Operation: "set"}.Validate(), ErrEmptyKey)
	assert.NoError(t, Request{Operation: "set", Key: "k"}.Validate())
}

func TestParseRequestLayouts(t *testing.T) {
	flat := []byte("operation: set\nkey: k3\nvalue: v3\n")
	req, err := ParseRequest(flat)
	require.NoError(t, err)
	assert.Equal(t, DefaultRequest(), req)

	nested := []byte(`{"operation":"set","member":{"key":"k3","value":"v3"}}`)
	req, err = ParseRequest(nested)
	require.NoError(t, err)
	assert.Equal(t, DefaultRequest(), req)

	_, err = ParseRequest([]byte("operation: set\nkey: a\nmember:\n  key: b\n"))
	assert.Error(t, err)

	_, err = ParseRequest([]byte("operation: set\n"))
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = ParseRequest([]byte("operation: [unclosed"))
	assert.Error(t, err)
}

func TestLoadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operation: incr\nkey: counter\n"), 0o644))

	req, err := LoadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, Request{Operation: "incr", Key: "counter"}, req)

	_, err = LoadRequest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
