package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Replay a fixture through a mock serial port instead of opening -port")
	fixturesPath = flag.String("fixtures", "", "Fixture file replayed in dev mode (defaults to the built-in fixture)")
	listen       = flag.String("listen", ":8090", "HTTP monitor listen address (empty disables)")
	udpListen    = flag.String("udp-listen", ":5600", "UDP metadata listen address (empty disables)")
	udpRcvBuf    = flag.Int("udp-rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	forwardAddr  = flag.String("forward", "", "Forward every received datagram to this host:port")
	grpcListen   = flag.String("grpc-listen", "localhost:50061", "gRPC overlay feed listen address (empty disables)")
	port         = flag.String("port", "", "Serial port carrying metadata lines (empty disables)")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	configPath   = flag.String("config", "", "Tuning config JSON (defaults to built-in values)")
	dbPath       = flag.String("db", "loiter.db", "SQLite database path (empty disables persistence)")
	logInterval  = flag.Duration("log-interval", time.Minute, "Interval between ingest statistics log lines")
	debugLog     = flag.Bool("debug-log", false, "Write pipeline diagnostics to stderr")
	traceLog     = flag.Bool("trace-log", false, "Write per-frame pipeline traces to stderr")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate <up|down|status|force|help>\n\nFlags:\n",
		os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func optionsFromFlags() options {
	return options{
		DevMode:      *devMode,
		FixturesPath: *fixturesPath,
		Listen:       *listen,
		UDPListen:    *udpListen,
		UDPRcvBuf:    *udpRcvBuf,
		ForwardAddr:  *forwardAddr,
		GRPCListen:   *grpcListen,
		SerialPort:   *port,
		BaudRate:     *baudRate,
		ConfigPath:   *configPath,
		DBPath:       *dbPath,
		LogInterval:  *logInterval,
		DebugLog:     *debugLog,
		TraceLog:     *traceLog,
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("loiterd %s\n", version.Get())
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	d, err := newDaemon(optionsFromFlags())
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		log.Fatalf("loiterd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
