package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/skshohagmiah/flinsend/internal/config"
	"github.com/skshohagmiah/flinsend/internal/journal"
	"github.com/skshohagmiah/flinsend/internal/logger"
	"github.com/skshohagmiah/flinsend/pkg/client"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("flinsend", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "flinsend %s: send one request to a flin server\n\nUsage: flinsend [flags]\n\n", version)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEvery flag can also be set as %s_<FLAG>, e.g. %s\n", config.EnvPrefix, config.EnvName("dial-timeout"))
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Printf("flinsend %s\n", version)
		return 0
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.File != "" {
		log.Debug().Str("file", cfg.File).Msg("config loaded")
	}

	req, err := cfg.BuildRequest()
	if err != nil {
		log.Error().Err(err).Msg("invalid request")
		return 1
	}

	enc, _ := protocol.ParseEncoding(cfg.Encoding.Format)
	encoder, err := protocol.NewEncoder(enc, cfg.Encoding.Schema)
	if err != nil {
		log.Error().Err(err).Msg("invalid encoding")
		return 1
	}

	opts := []client.Option{client.WithLogger(log)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, journal.Options{Retention: cfg.Journal.Retention, SyncWrites: true})
		if err != nil {
			log.Error().Err(err).Msg("failed to open journal")
			return 1
		}
		defer j.Close()
		opts = append(opts, client.WithRecorder(j))
	}

	sender, err := client.New(cfg.Client(), encoder, opts...)
	if err != nil {
		log.Error().Err(err).Msg("failed to create sender")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sent, res, err := sender.ConnectAndSend(ctx, req)
	fmt.Printf("Data sent : %t\n", sent)
	report(log, res)
	if err != nil {
		return 1
	}
	return 0
}

func report(log zerolog.Logger, res *client.Result) {
	if !res.Sent() {
		return
	}
	log.Info().
		Str("request_id", res.RequestID.String()).
		Str("written", humanize.Bytes(uint64(res.BytesWritten))).
		Str("declared", humanize.Bytes(res.DeclaredLen)).
		Str("took", res.Duration.String()).
		Msg("done")
}
