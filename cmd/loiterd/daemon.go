package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/monitoring"
	"github.com/banshee-data/loiter.report/internal/serialmux"
	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/version"
	"github.com/banshee-data/loiter.report/internal/vision/monitor"
	"github.com/banshee-data/loiter.report/internal/vision/network"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
	"github.com/banshee-data/loiter.report/internal/vision/storage/sqlite"
	"github.com/banshee-data/loiter.report/internal/vision/visualiser"
)

var logf = monitoring.Prefixed("[loiterd] ")

//go:embed fixtures.jsonl
var defaultFixture []byte

// options are the parsed command-line settings.
type options struct {
	DevMode      bool
	FixturesPath string
	Listen       string
	UDPListen    string
	UDPRcvBuf    int
	ForwardAddr  string
	GRPCListen   string
	SerialPort   string
	BaudRate     int
	ConfigPath   string
	DBPath       string
	LogInterval  time.Duration
	DebugLog     bool
	TraceLog     bool
}

// daemon owns every long-running component of loiterd.
type daemon struct {
	opts   options
	tuning *config.TuningConfig
	clock  timeutil.Clock

	database *db.DB
	runs     *sqlite.RunStore
	runRec   *sqlite.Run
	recorder *sqlite.Recorder
	sink     *pipeline.AsyncEvaluationSink

	registry  *pipeline.Registry
	publisher *visualiser.Publisher
	forwarder *network.PacketForwarder
	ingestor  *network.Ingestor
	listener  *network.UDPListener

	serial      serialmux.SerialMuxInterface
	serialState *serialmux.DeviceState
	serialOn    bool

	web *monitor.WebServer
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	t, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return t, nil
}

// newDaemon builds the components described by opts. Nothing is started.
func newDaemon(opts options) (*daemon, error) {
	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}

	var diag, trace io.Writer
	if opts.DebugLog {
		diag = os.Stderr
	}
	if opts.TraceLog {
		trace = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, trace)

	d := &daemon{opts: opts, tuning: tuning, clock: timeutil.RealClock{}}
	ctx := context.Background()

	if opts.DBPath != "" {
		d.database, err = db.NewDB(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.runs = sqlite.NewRunStore(d.database.DB)
		d.runRec, err = d.runs.Start(ctx, version.Version, tuning, d.clock.Now())
		if err != nil {
			d.database.Close()
			return nil, fmt.Errorf("record run: %w", err)
		}
		d.recorder = sqlite.NewRecorder(d.database.DB, d.runRec.RunID)
		d.sink = pipeline.NewAsyncEvaluationSink(d.recorder, tuning.GetPersistQueueSize())
		logf("Recording run %s to %s", d.runRec.RunID, opts.DBPath)
	}

	cfg := pipeline.ProcessorConfigFromTuning(tuning)
	if opts.GRPCListen != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = opts.GRPCListen
		d.publisher = visualiser.NewPublisher(vcfg)
		cfg.Overlay = d.publisher
	}
	if d.sink != nil {
		cfg.Evaluations = d.sink
	}
	d.registry, err = pipeline.NewRegistry(cfg)
	if err != nil {
		d.closeDatabase()
		return nil, err
	}

	if opts.ForwardAddr != "" {
		d.forwarder, err = network.NewPacketForwarder(opts.ForwardAddr, opts.LogInterval, d.clock)
		if err != nil {
			d.closeDatabase()
			return nil, err
		}
	}
	d.ingestor = network.NewIngestor(d.registry, d.forwarder, d.clock)

	if opts.UDPListen != "" {
		d.listener = network.NewUDPListener(network.UDPListenerConfig{
			Address:     opts.UDPListen,
			RcvBuf:      opts.UDPRcvBuf,
			LogInterval: opts.LogInterval,
			Handler:     d.ingestor,
			LogStats:    d.ingestor.LogStats,
			Clock:       d.clock,
		})
	}

	if err := d.openSerial(); err != nil {
		d.closeDatabase()
		return nil, err
	}

	if opts.Listen != "" {
		wcfg := monitor.WebServerConfig{
			Address:         opts.Listen,
			Streams:         d.registry,
			Stats:           d.stats,
			ThresholdPixels: tuning.GetLoiterThresholdPx(),
			Admin:           []monitor.RouteAttacher{d.serial},
		}
		if d.recorder != nil {
			wcfg.Episodes = d.recorder.Episodes
			wcfg.Evaluations = d.recorder.Evaluations
			wcfg.Admin = append(wcfg.Admin, d.database)
		}
		d.web = monitor.NewWebServer(wcfg)
	}
	return d, nil
}

func (d *daemon) openSerial() error {
	d.serialState = &serialmux.DeviceState{}
	switch {
	case d.opts.DevMode:
		fixture := defaultFixture
		if d.opts.FixturesPath != "" {
			data, err := os.ReadFile(d.opts.FixturesPath)
			if err != nil {
				return fmt.Errorf("failed to read fixtures: %w", err)
			}
			fixture = data
		}
		d.serial = serialmux.NewMockSerialMux(fixture, 0)
		d.serialOn = true
	case d.opts.SerialPort != "":
		m, err := serialmux.NewRealSerialMux(d.opts.SerialPort, serialmux.PortOptions{BaudRate: d.opts.BaudRate})
		if err != nil {
			return fmt.Errorf("failed to create serial mux: %w", err)
		}
		d.serial = m
		d.serialOn = true
	default:
		d.serial = serialmux.NewDisabledSerialMux()
	}
	return nil
}

// stats merges component counters for /api/stats.
func (d *daemon) stats() map[string]any {
	out := map[string]any{"ingest": d.ingestor.Stats()}
	if d.publisher != nil {
		out["overlay_feed"] = d.publisher.Stats()
	}
	if d.sink != nil {
		out["persistence"] = d.sink.Stats()
	}
	if d.serialOn {
		out["device"] = d.serialState.Values()
	}
	return out
}

// run starts every component and blocks until ctx is done or one of them
// fails. Components are stopped before run returns.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errOnce.Do(func() {
			firstErr = fmt.Errorf("%s: %w", name, err)
			cancel()
		})
	}
	goRun := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(name, f())
		}()
	}

	if d.sink != nil {
		if err := d.sink.Start(ctx); err != nil {
			return err
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Start(d.registry); err != nil {
			d.shutdown()
			return fmt.Errorf("overlay feed: %w", err)
		}
	}
	if d.forwarder != nil {
		d.forwarder.Start(ctx)
	}

	if d.listener != nil {
		goRun("udp listener", func() error { return d.listener.Start(ctx) })
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.logStatsEvery(ctx)
		}()
	}

	if d.serialOn {
		if err := d.serial.Initialize(); err != nil {
			logf("failed to initialise device: %v", err)
		}
		goRun("serial monitor", func() error {
			err := d.serial.Monitor(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				logf("serial port closed")
			}
			return err
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			serialmux.Consume(ctx, d.serial, d.ingestor, d.serialState)
		}()
	}

	if d.web != nil {
		goRun("http server", func() error { return d.web.Start(ctx) })
	}

	<-ctx.Done()
	// Closing the port unblocks a Monitor stuck in Read.
	if err := d.serial.Close(); err != nil {
		logf("failed to close serial port: %v", err)
	}
	wg.Wait()
	d.shutdown()
	return firstErr
}

func (d *daemon) logStatsEvery(ctx context.Context) {
	interval := d.opts.LogInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			d.ingestor.LogStats()
		}
	}
}

// shutdown stops the feed and the sink, then closes the run and the
// database. It runs after every ingest goroutine has returned.
func (d *daemon) shutdown() {
	if d.publisher != nil {
		d.publisher.Stop()
	}
	if d.sink != nil {
		d.sink.Stop()
	}
	if d.forwarder != nil {
		if err := d.forwarder.Close(); err != nil {
			logf("failed to close forwarder: %v", err)
		}
	}
	if d.runRec != nil {
		if err := d.runs.End(context.Background(), d.runRec.RunID, d.clock.Now()); err != nil {
			logf("failed to end run %s: %v", d.runRec.RunID, err)
		}
	}
	d.closeDatabase()
}

func (d *daemon) closeDatabase() {
	if d.database == nil {
		return
	}
	if err := d.database.Close(); err != nil {
		logf("failed to close database: %v", err)
	}
	d.database = nil
}
