package client

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	flinnet "github.com/skshohagmiah/flinsend/internal/net"
	"github.com/skshohagmiah/flinsend/pkg/clienterr"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

// Config describes where and how a request is sent
type Config struct {
	Host         string
	Port         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Mode         protocol.FrameMode
}

// DefaultConfig targets the local schema-encoded listener
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         "7000",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Mode:         protocol.FrameFull,
	}
}

// Address returns host:port
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Recorder receives the outcome of every send attempt
type Recorder interface {
	RecordSend(res *Result) error
}

// Result is the outcome of one connect-encode-send sequence
type Result struct {
	RequestID    uuid.UUID
	Started      time.Time
	Duration     time.Duration
	Endpoint     string
	Encoding     protocol.Encoding
	Mode         protocol.FrameMode
	Request      protocol.Request
	DeclaredLen  uint64
	BytesWritten int
	Err          error
}

// Sent reports whether the frame was written
func (r *Result) Sent() bool {
	return r.Err == nil
}

// Sender connects to a server and writes one encoded request per call
type Sender struct {
	cfg      Config
	encoder  protocol.Encoder
	logger   zerolog.Logger
	recorder Recorder
}

// Option configures a Sender
type Option func(*Sender)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sender) { s.logger = logger }
}

// WithRecorder attaches a recorder, typically a send journal
func WithRecorder(r Recorder) Option {
	return func(s *Sender) { s.recorder = r }
}

// New creates a new Sender
func New(cfg Config, encoder protocol.Encoder, opts ...Option) (*Sender, error) {
	if encoder == nil {
		return nil, errors.New("encoder cannot be nil")
	}

	s := &Sender{
		cfg:     cfg,
		encoder: encoder,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect resolves the configured endpoint and opens a connection
func (s *Sender) Connect(ctx context.Context) (*flinnet.Connection, error) {
	opts := flinnet.DefaultConnectionOptions(s.cfg.Host, s.cfg.Port)
	opts.DialTimeout = s.cfg.DialTimeout
	opts.WriteTimeout = s.cfg.WriteTimeout
	return flinnet.Connect(ctx, opts)
}

// Encode serializes req with the configured encoder. On failure the frame is nil.
func (s *Sender) Encode(req protocol.Request) (*protocol.Frame, error) {
	return s.encoder.Encode(req)
}

// Send writes the frame to conn with a single write call
func (s *Sender) Send(conn *flinnet.Connection, frame *protocol.Frame) (int, error) {
	if frame == nil {
		return 0, clienterr.New(clienterr.EncodeFailure, "send", errors.New("no frame to send"))
	}
	return conn.Write(frame.Wire(s.cfg.Mode))
}

// ConnectAndSend runs the whole sequence on a worker goroutine and blocks
// until it finishes. The boolean mirrors Result.Sent.
func (s *Sender) ConnectAndSend(ctx context.Context, req protocol.Request) (bool, *Result, error) {
	done := make(chan *Result, 1)
	go func() {
		done <- s.Run(ctx, req)
	}()

	res := <-done
	return res.Sent(), res, res.Err
}

// Run resolves, connects, encodes and writes on the calling goroutine.
// The connection is always closed before Run returns.
func (s *Sender) Run(ctx context.Context, req protocol.Request) *Result {
	res := &Result{
		RequestID: newRequestID(),
		Started:   time.Now(),
		Endpoint:  s.cfg.Address(),
		Encoding:  s.encoder.Encoding(),
		Mode:      s.cfg.Mode,
		Request:   req,
	}
	log := s.logger.With().
		Str("request_id", res.RequestID.String()).
		Str("endpoint", res.Endpoint).
		Str("encoding", string(res.Encoding)).
		Str("mode", res.Mode.String()).
		Logger()

	defer func() {
		res.Duration = time.Since(res.Started)
		s.record(log, res)
	}()

	conn, err := s.Connect(ctx)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("connect failed")
		return res
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("close failed")
		}
	}()
	log.Debug().Str("local", conn.LocalAddr().String()).Msg("connected")

	stop := context.AfterFunc(ctx, func() { conn.AbortWith(context.Cause(ctx)) })
	defer stop()

	frame, err := s.Encode(req)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("encoding failed, nothing sent")
		return res
	}
	res.DeclaredLen = frame.DeclaredLen()

	if err := ctx.Err(); err != nil {
		res.Err = clienterr.New(clienterr.TransportFailure, "write", err)
		return res
	}

	n, err := s.Send(conn, frame)
	res.BytesWritten = n
	if err != nil {
		res.Err = err
		log.Error().Err(err).Int("bytes", n).Msg("send failed")
		return res
	}

	if s.cfg.Mode == protocol.FrameSizeOnly {
		log.Warn().Uint64("declared", res.DeclaredLen).Int("bytes", n).Msg("size-only mode: body was not sent")
	}
	log.Info().Int("bytes", n).Uint64("declared", res.DeclaredLen).Str("request", req.String()).Msg("request sent")
	return res
}

func (s *Sender) record(log zerolog.Logger, res *Result) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSend(res); err != nil {
		log.Warn().Err(err).Msg("failed to record send")
	}
}

func newRequestID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
