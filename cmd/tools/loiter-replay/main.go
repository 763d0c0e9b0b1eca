// Command loiter-replay runs recorded metadata through the loitering
// detector and reports the outcome of every stream.
//
// Input is either one JSON batch per line or a pcap capture of the UDP
// metadata feed (pcap needs a build with -tags pcap).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var cfg Config
	flag.StringVar(&cfg.Input, "input", "", "Recorded metadata (JSON lines or .pcap)")
	flag.StringVar(&cfg.Format, "format", "", "Input format: jsonl or pcap (default: by extension)")
	flag.IntVar(&cfg.UDPPort, "udp-port", 5600, "UDP port carrying metadata in pcap input")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Tuning config JSON (defaults to built-in values)")
	flag.StringVar(&cfg.PlotOut, "plot", "", "Write a PNG timeline per stream to this path")
	flag.StringVar(&cfg.SummaryOut, "summary", "", "Write the JSON summary to this file instead of stdout")
	flag.Parse()

	if cfg.Input == "" && flag.NArg() > 0 {
		cfg.Input = flag.Arg(0)
	}
	if cfg.Input == "" {
		fmt.Fprintln(os.Stderr, "Usage: loiter-replay [flags] <input>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := Replay(ctx, cfg)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	if err := writeSummary(cfg, result, os.Stdout); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}
	for _, s := range result.Streams {
		log.Printf("%s: %d frames, %d evaluations, %d transitions, final %s (avg %.2f px)",
			s.SourceID, s.Frames, s.Evaluations, s.Transitions, s.Decision, s.AverageDelta)
	}
}
