package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/skshohagmiah/flinsend/internal/logger"
	"github.com/skshohagmiah/flinsend/internal/sink"
	"github.com/skshohagmiah/flinsend/pkg/fbs"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

var (
	addr        = pflag.String("addr", "127.0.0.1:7000", "listen address")
	format      = pflag.String("format", "flatbuffers", "frame encoding: flatbuffers (fb), json or binary")
	mode        = pflag.String("mode", "full", "header layout: full or size-only")
	schemaPath  = pflag.String("schema", "", "FlatBuffers schema used to decode frames")
	readTimeout = pflag.Duration("read-timeout", 0, "drop idle connections after this long (0 waits forever)")
	logLevel    = pflag.String("log-level", "info", "log level")
	logFormat   = pflag.String("log-format", "console", "log format: console or json")
)

func main() {
	pflag.Parse()

	log, err := logger.New(logger.Options{Level: *logLevel, Format: *logFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	enc, err := protocol.ParseEncoding(*format)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid format")
	}

	frameMode, err := protocol.ParseFrameMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid mode")
	}

	var schema *fbs.Schema
	if *schemaPath != "" {
		schema, err = fbs.LoadFile(*schemaPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load schema")
		}
	}

	s, err := sink.Listen(*addr, enc, sink.WithLogger(log), sink.WithReadTimeout(*readTimeout), sink.WithFrameMode(frameMode))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start sink")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		s.Close()
	}()

	for r := range s.Frames() {
		describe(log, r, schema)
	}
}

func describe(log zerolog.Logger, r sink.Received, schema *fbs.Schema) {
	ev := log.Info()
	if r.Truncated {
		ev = log.Warn()
	}
	ev = ev.Uint64("conn", r.ConnID).
		Str("remote", r.Remote).
		Str("declared", humanize.Bytes(r.Frame.DeclaredLen())).
		Str("received", humanize.Bytes(uint64(len(r.Frame.Body)))).
		Bool("truncated", r.Truncated)

	if r.Err != nil {
		ev.Err(r.Err).Msg("frame")
		return
	}
	if r.Truncated {
		ev.Msg("frame body missing")
		return
	}

	if r.Frame.Encoding == protocol.EncodingFlatBuffers && schema == nil {
		ev.Msg("frame")
		return
	}
	req, err := protocol.Decode(r.Frame, schema)
	if err != nil {
		ev.AnErr("decode_error", err).Msg("frame")
		return
	}
	ev.Str("request", req.String()).Msg("frame")
}
