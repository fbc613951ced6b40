package net

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skshohagmiah/flinsend/pkg/clienterr"
)

// setupTestServer accepts one connection and hands everything it reads to received
func setupTestServer(t *testing.T) (host, port string, received <-chan []byte) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	out := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(out)
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		out <- data
	}()
	t.Cleanup(func() { listener.Close() })

	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), strconv.Itoa(addr.Port), out
}

// closedPort returns a loopback port nothing is listening on
func closedPort(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return strconv.Itoa(port)
}

func TestConnectWriteClose(t *testing.T) {
	host, port, received := setupTestServer(t)

	conn, err := Connect(context.Background(), DefaultConnectionOptions(host, port))
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State())
	assert.True(t, conn.IsConnected())
	assert.Equal(t, net.JoinHostPort(host, port), conn.RemoteAddr().String())

	n, err := conn.Write([]byte("hello server"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, StateSent, conn.State())

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())

	select {
	case data := <-received:
		assert.Equal(t, "hello server", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}
}

func TestWriteIsOneShot(t *testing.T) {
	host, port, _ := setupTestServer(t)

	conn, err := Connect(context.Background(), DefaultConnectionOptions(host, port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("first"))
	require.NoError(t, err)

	_, err = conn.Write([]byte("second"))
	require.Error(t, err)
	assert.Equal(t, clienterr.TransportFailure, clienterr.KindOf(err))
	assert.ErrorIs(t, err, ErrAlreadySent)
}

func TestWriteAfterClose(t *testing.T) {
	host, port, _ := setupTestServer(t)

	conn, err := Connect(context.Background(), DefaultConnectionOptions(host, port))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.Write([]byte("late"))
	assert.Equal(t, clienterr.TransportFailure, clienterr.KindOf(err))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestCloseWithoutWrite(t *testing.T) {
	host, port, received := setupTestServer(t)

	conn, err := Connect(context.Background(), DefaultConnectionOptions(host, port))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case data := <-received:
		assert.Empty(t, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestConnectRefused(t *testing.T) {
	opts := DefaultConnectionOptions("127.0.0.1", closedPort(t))
	opts.DialTimeout = time.Second

	start := time.Now()
	conn, err := Connect(context.Background(), opts)
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.Equal(t, clienterr.ConnectFailure, clienterr.KindOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestConnectCancelledContext(t *testing.T) {
	host, port, _ := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, DefaultConnectionOptions(host, port))
	require.Error(t, err)
	assert.Equal(t, clienterr.ConnectFailure, clienterr.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	addrs, err := Resolve(ctx, nil, "127.0.0.1", "7000")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "127.0.0.1:7000", addrs[0].String())

	addrs, err = Resolve(ctx, nil, "::1", "7000")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:7000", addrs[0].String())

	addrs, err = Resolve(ctx, nil, "localhost", "7777")
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	for _, a := range addrs {
		assert.True(t, a.IP.IsLoopback())
		assert.Equal(t, 7777, a.Port)
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name string
		host string
		port string
		want error
	}{
		{"empty host", "", "7000", ErrEmptyHost},
		{"empty port", "127.0.0.1", "", ErrInvalidPort},
		{"zero port", "127.0.0.1", "0", ErrInvalidPort},
		{"port out of range", "127.0.0.1", "70000", ErrInvalidPort},
		{"unknown service", "127.0.0.1", "no-such-service-xyz", ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(context.Background(), nil, tt.host, tt.port)
			require.Error(t, err)
			assert.Equal(t, clienterr.ResolutionFailure, clienterr.KindOf(err))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Resolve(context.Background(), nil, "this-is-not-a-real-domain.invalid", "80")
	require.Error(t, err)
	assert.Equal(t, clienterr.ResolutionFailure, clienterr.KindOf(err))

	conn, err := Connect(context.Background(), DefaultConnectionOptions("", "7000"))
	assert.Nil(t, conn)
	assert.Equal(t, clienterr.ResolutionFailure, clienterr.KindOf(err))
}

func TestConnectNilOptions(t *testing.T) {
	_, err := Connect(context.Background(), nil)
	assert.Error(t, err)
}

func TestAbortedWriteCarriesCause(t *testing.T) {
	host, port, _ := setupTestServer(t)

	conn, err := Connect(context.Background(), DefaultConnectionOptions(host, port))
	require.NoError(t, err)
	defer conn.Close()

	cause := errors.New("send cancelled")
	conn.AbortWith(cause)

	_, err = conn.Write([]byte("never sent"))
	require.Error(t, err)
	assert.Equal(t, clienterr.TransportFailure, clienterr.KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.True(t, conn.IsConnected())
}
