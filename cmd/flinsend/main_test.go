package main

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skshohagmiah/flinsend/internal/journal"
	"github.com/skshohagmiah/flinsend/internal/sink"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

func listen(t *testing.T, enc protocol.Encoding) (*sink.Sink, string) {
	t.Helper()
	s, err := sink.Listen("127.0.0.1:0", enc)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, strconv.Itoa(s.Addr().(*net.TCPAddr).Port)
}

func next(t *testing.T, s *sink.Sink) sink.Received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := s.Next(ctx)
	require.NoError(t, err)
	return r
}

func TestRunSendsAndJournals(t *testing.T) {
	schema, err := filepath.Abs(filepath.Join("..", "..", "resources", "request.fbs"))
	require.NoError(t, err)
	s, port := listen(t, protocol.EncodingFlatBuffers)
	dir := filepath.Join(t.TempDir(), "journal")

	code := run([]string{"--port", port, "--schema", schema, "--journal", dir, "--log-level", "error"})
	require.Equal(t, 0, code)

	r := next(t, s)
	assert.True(t, r.Frame.Valid())

	j, err := journal.Open(dir, journal.Options{})
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Succeeded())
	assert.Equal(t, "set", entries[0].Operation)
}

func TestRunSizeOnlyJSON(t *testing.T) {
	s, port := listen(t, protocol.EncodingJSON)

	code := run([]string{"--port", port, "--encoding", "json", "--mode", "size-only", "--log-level", "error"})
	require.Equal(t, 0, code)

	r := next(t, s)
	assert.True(t, r.Truncated)
	assert.Len(t, r.Frame.Header, 8)
}

func TestRunFailureExitCode(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	assert.Equal(t, 1, run([]string{"--port", port, "--encoding", "json", "--log-level", "error"}))
	assert.Equal(t, 1, run([]string{"--encoding", "xml"}))
	assert.Equal(t, 2, run([]string{"--no-such-flag"}))
	assert.Equal(t, 0, run([]string{"--version"}))
}
