package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/skshohagmiah/flinsend/internal/sink"
	"github.com/skshohagmiah/flinsend/pkg/client"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

var (
	target      = pflag.String("addr", "", "server to send to (default: an in-process sink)")
	encoding    = pflag.String("encoding", "flatbuffers", "request encoding")
	schemaPath  = pflag.String("schema", "./resources/request.fbs", "FlatBuffers schema file")
	concurrency = pflag.Int("workers", 32, "concurrent senders")
	duration    = pflag.Duration("duration", 10*time.Second, "benchmark duration")
)

func main() {
	pflag.Parse()

	enc, err := protocol.ParseEncoding(*encoding)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	encoder, err := protocol.NewEncoder(enc, *schemaPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg := client.DefaultConfig()
	var received atomic.Int64
	if *target == "" {
		s, err := sink.Listen("127.0.0.1:0", enc, sink.WithBuffer(1024))
		if err != nil {
			fmt.Printf("Failed to start sink: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		go func() {
			for range s.Frames() {
				received.Add(1)
			}
		}()
		addr := s.Addr().(*net.TCPAddr)
		cfg.Host, cfg.Port = addr.IP.String(), strconv.Itoa(addr.Port)
	} else {
		host, port, err := net.SplitHostPort(*target)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Host, cfg.Port = host, port
	}

	sender, err := client.New(cfg, encoder)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("📊 Running Send Benchmark")
	fmt.Println("=========================")
	fmt.Printf("⚡ %s to %s (%d workers, %v duration)...\n", enc, cfg.Address(), *concurrency, *duration)

	var sent, failed, written int64
	var wg sync.WaitGroup
	startTime := time.Now()
	endTime := startTime.Add(*duration)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			var localSent, localFailed, localBytes int64
			for n := 0; time.Now().Before(endTime); n++ {
				req := protocol.Request{
					Operation: "set",
					Key:       fmt.Sprintf("bench-%d-%d", workerID, n),
					Value:     "test",
				}
				ok, res, _ := sender.ConnectAndSend(context.Background(), req)
				if ok {
					localSent++
					localBytes += int64(res.BytesWritten)
				} else {
					localFailed++
				}
			}
			atomic.AddInt64(&sent, localSent)
			atomic.AddInt64(&failed, localFailed)
			atomic.AddInt64(&written, localBytes)
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(startTime).Seconds()

	fmt.Printf("  ✓ Sent: %s requests (%s)\n", humanize.Comma(sent), humanize.Bytes(uint64(written)))
	fmt.Printf("  ✓ Throughput: %s req/sec\n", humanize.Comma(int64(float64(sent)/elapsed)))
	if failed > 0 {
		fmt.Printf("  ✗ Failed: %s requests\n", humanize.Comma(failed))
	}
	if *target == "" {
		// Give the sink a moment to drain the last connections
		time.Sleep(100 * time.Millisecond)
		fmt.Printf("  ✓ Received by sink: %s frames\n", humanize.Comma(received.Load()))
	}
	fmt.Println("=========================")
}
