// Package sink is a bare TCP listener that reads length-prefixed frames.
// It stands in for the server when testing or debugging flinsend.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

// Received is a frame (or partial frame) read from one connection
type Received struct {
	ConnID    uint64
	Remote    string
	At        time.Time
	Frame     *protocol.Frame
	Truncated bool  // the connection closed before the declared body arrived
	Err       error // read error other than a clean close, if any
}

// Sink accepts connections and publishes every frame it reads
type Sink struct {
	listener    net.Listener
	encoding    protocol.Encoding
	mode        protocol.FrameMode
	frames      chan Received
	logger      zerolog.Logger
	readTimeout time.Duration
	maxBody     uint64

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	connCounter atomic.Uint64
	connections sync.Map
	closeOnce   sync.Once
}

// Option configures a Sink
type Option func(*Sink)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithReadTimeout bounds how long a connection may stay idle
func WithReadTimeout(d time.Duration) Option {
	return func(s *Sink) { s.readTimeout = d }
}

// WithMaxBody rejects frames declaring a larger body
func WithMaxBody(n uint64) Option {
	return func(s *Sink) { s.maxBody = n }
}

// WithFrameMode reads headers in the layout of mode. Use
// protocol.FrameSizeOnly to read what size-only clients write.
func WithFrameMode(mode protocol.FrameMode) Option {
	return func(s *Sink) { s.mode = mode }
}

// WithBuffer sets how many frames may queue before readers block
func WithBuffer(n int) Option {
	return func(s *Sink) { s.frames = make(chan Received, n) }
}

// Listen starts a sink on addr reading frames of the given encoding
func Listen(addr string, enc protocol.Encoding, opts ...Option) (*Sink, error) {
	if protocol.HeaderSize(enc) == 0 {
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		listener:    listener,
		encoding:    enc,
		frames:      make(chan Received, 16),
		logger:      zerolog.Nop(),
		readTimeout: 30 * time.Second,
		maxBody:     protocol.MaxValueLen,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info().Str("addr", listener.Addr().String()).Str("encoding", string(enc)).Str("mode", s.mode.String()).Msg("sink listening")
	return s, nil
}

// Addr returns the address the sink listens on
func (s *Sink) Addr() net.Addr {
	return s.listener.Addr()
}

// Frames delivers received frames. It is closed by Close.
func (s *Sink) Frames() <-chan Received {
	return s.frames
}

// Next waits for the next frame or until ctx is done
func (s *Sink) Next(ctx context.Context) (Received, error) {
	select {
	case r, ok := <-s.frames:
		if !ok {
			return Received{}, errors.New("sink closed")
		}
		return r, nil
	case <-ctx.Done():
		return Received{}, ctx.Err()
	}
}

// Close stops accepting, drops open connections and closes Frames
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.listener.Close()
		s.connections.Range(func(_, v any) bool {
			v.(net.Conn).Close()
			return true
		})
		s.wg.Wait()
		close(s.frames)
	})
	return err
}

func (s *Sink) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads frames until the peer closes the connection
func (s *Sink) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := s.connCounter.Add(1)
	s.connections.Store(connID, conn)
	defer s.connections.Delete(connID)
	defer conn.Close()

	// Close may have swept connections before this one was stored
	if s.ctx.Err() != nil {
		return
	}

	log := s.logger.With().Uint64("conn", connID).Str("remote", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("connection accepted")

	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		frame, err := protocol.ReadFrameMode(conn, s.encoding, s.mode, s.maxBody)
		if frame == nil {
			// Nothing of a new frame arrived
			if err != nil && !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("connection ended")
			}
			return
		}

		r := Received{
			ConnID: connID,
			Remote: conn.RemoteAddr().String(),
			At:     time.Now(),
			Frame:  frame,
		}
		switch {
		case err == nil:
			log.Info().Uint64("declared", frame.DeclaredLen()).Int("body", len(frame.Body)).Msg("frame received")
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			r.Truncated = true
			log.Warn().Uint64("declared", frame.DeclaredLen()).Int("body", len(frame.Body)).Msg("connection closed before frame body was complete")
		default:
			r.Truncated = true
			r.Err = err
			log.Warn().Err(err).Msg("frame read failed")
		}

		if !s.publish(r) || err != nil {
			return
		}
	}
}

func (s *Sink) publish(r Received) bool {
	select {
	case s.frames <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}
