package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/skshohagmiah/flinsend/pkg/clienterr"
)

// Connection lifecycle states
const (
	StateUnconnected = "unconnected"
	StateConnected   = "connected"
	StateSent        = "sent"
	StateClosed      = "closed"
)

// Connection lifecycle events
const (
	EventConnect = "connect"
	EventSend    = "send"
	EventClose   = "close"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadySent      = errors.New("frame already sent on this connection")
	ErrNotConnected     = errors.New("connection not established")
)

// Connection is a single-use TCP connection: one write, then close
type Connection struct {
	conn         net.Conn
	writeTimeout time.Duration
	state        *fsm.FSM
	aborted      atomic.Bool
	abortCause   atomic.Pointer[error]
	mu           sync.Mutex
}

// ConnectionOptions for creating a new connection
type ConnectionOptions struct {
	Host         string
	Port         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	KeepAlive    time.Duration
	NoDelay      bool
	Resolver     *net.Resolver // nil uses net.DefaultResolver
}

// DefaultConnectionOptions returns default connection options
func DefaultConnectionOptions(host, port string) *ConnectionOptions {
	return &ConnectionOptions{
		Host:         host,
		Port:         port,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		KeepAlive:    30 * time.Second,
		NoDelay:      true,
	}
}

// PortString formats a numeric port for ConnectionOptions.Port
func PortString(port int) string {
	return strconv.Itoa(port)
}

// Address is the host:port the options point at
func (o *ConnectionOptions) Address() string {
	return net.JoinHostPort(o.Host, o.Port)
}

func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		StateUnconnected,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateUnconnected}, Dst: StateConnected},
			{Name: EventSend, Src: []string{StateConnected}, Dst: StateSent},
			{Name: EventClose, Src: []string{StateUnconnected, StateConnected, StateSent}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
}

// Connect resolves the endpoint and dials each address in order until one
// accepts. There is no retry beyond trying every resolved address once.
func Connect(ctx context.Context, opts *ConnectionOptions) (*Connection, error) {
	if opts == nil {
		return nil, errors.New("options cannot be nil")
	}

	addrs, err := Resolve(ctx, opts.Resolver, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.KeepAlive,
	}

	var errs []error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err == nil {
			return newConnection(ctx, conn, opts)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, clienterr.New(clienterr.ConnectFailure, "connect "+opts.Address(), errors.Join(errs...))
}

func newConnection(ctx context.Context, conn net.Conn, opts *ConnectionOptions) (*Connection, error) {
	// Apply TCP optimizations
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(opts.NoDelay); err != nil {
			conn.Close()
			return nil, clienterr.New(clienterr.ConnectFailure, "configure "+opts.Address(), err)
		}
	}

	c := &Connection{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		state:        newLifecycle(),
	}
	if err := c.state.Event(ctx, EventConnect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection state: %w", err)
	}
	return c, nil
}

// Write sends data with a single write call. A connection accepts exactly
// one successful write.
func (c *Connection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Can(EventSend) {
		switch c.state.Current() {
		case StateClosed:
			return 0, clienterr.New(clienterr.TransportFailure, "write", ErrConnectionClosed)
		case StateSent:
			return 0, clienterr.New(clienterr.TransportFailure, "write", ErrAlreadySent)
		default:
			return 0, clienterr.New(clienterr.TransportFailure, "write", ErrNotConnected)
		}
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if c.aborted.Load() {
		c.conn.SetWriteDeadline(time.Now())
	}

	n, err := c.conn.Write(data)
	if err != nil {
		if c.aborted.Load() {
			if cause := c.abortCause.Load(); cause != nil {
				err = errors.Join(err, *cause)
			}
		}
		return n, clienterr.New(clienterr.TransportFailure, "write to "+c.conn.RemoteAddr().String(), err)
	}

	if err := c.state.Event(context.Background(), EventSend); err != nil {
		return n, fmt.Errorf("connection state: %w", err)
	}
	return n, nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Is(StateClosed) {
		return nil
	}
	if err := c.state.Event(context.Background(), EventClose); err != nil {
		return fmt.Errorf("connection state: %w", err)
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Abort makes an in-flight or future Write fail with a timeout.
// Safe to call from another goroutine while Write holds the lock.
func (c *Connection) Abort() {
	c.AbortWith(nil)
}

// AbortWith is Abort, with cause joined to the error Write returns
func (c *Connection) AbortWith(cause error) {
	if cause != nil {
		c.abortCause.CompareAndSwap(nil, &cause)
	}
	c.aborted.Store(true)
	c.conn.SetWriteDeadline(time.Now())
}

// State returns the current lifecycle state
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Current()
}

// IsConnected reports whether the connection can still be written to
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// RemoteAddr returns the remote address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
