package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/Bucknalla/go-geomessage-simulator/broadcast"
	"github.com/Bucknalla/go-geomessage-simulator/config"
	"github.com/Bucknalla/go-geomessage-simulator/geomessage"
	"github.com/Bucknalla/go-geomessage-simulator/gps"
	"github.com/Bucknalla/go-geomessage-simulator/log"
	"github.com/Bucknalla/go-geomessage-simulator/replay"
	"github.com/Bucknalla/go-geomessage-simulator/web"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"     // Will be set to git tag if available, otherwise "dev"
	Commit    = "unknown" // Will be set to git commit hash
	BuildDate = "unknown" // Will be set to build timestamp
)

func versionString() string {
	if Version != "dev" {
		return "v" + Version
	}
	return Commit
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	cfg.RegisterFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nGeomessage Simulator\n")
		fmt.Fprintf(os.Stderr, "Replays GPX tracks and geomessage event logs as UDP broadcast datagrams.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(versionString())
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	var lg *log.Logger
	if cfg.LogDir != "" {
		lg = log.New(cfg.LogLevel, cfg.LogDir)
		fmt.Fprintf(os.Stderr, "Logging to %s\n", lg.LogFile)
	} else {
		lg = log.NewWriter(os.Stderr, cfg.LogLevel)
	}
	lg.Info("starting geomessage simulator", "version", versionString(), "build_date", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg, os.Stdout); err != nil {
		lg.Errorf("simulator failed: %v", err)
		os.Exit(1)
	}
}

// run replays the configured source until ctx is done or the configured
// duration elapses.
func run(ctx context.Context, cfg config.Config, lg *log.Logger, stdout io.Writer) error {
	registry := broadcast.NewRegistry(lg, broadcast.WithAddress(cfg.BroadcastIP()))
	defer registry.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	positions := broadcast.NewFanout[gps.PositionEvent](lg, 0)
	sched, err := replay.NewScheduler(lg, cfg.Session(),
		replay.WithLocation(loc),
		replay.WithRegistry(registry),
		replay.WithPositions(positions),
		replay.WithOverrides(geomessage.NewFieldSet(cfg.OverrideFields...)),
		replay.WithUnit(geomessage.NewUnit(cfg.Designation, cfg.UnitType, cfg.SIC)),
	)
	if err != nil {
		return err
	}

	cache := geomessage.NewCache(0, 0)
	fields, err := loadSource(cfg, sched, cache, lg)
	if err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				lg.Warnf("close failed: %v", err)
			}
		}
	}()

	nmeaOut, closer, err := openNMEA(cfg, stdout, lg)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	if nmeaOut != nil {
		positions.Subscribe(gps.NewNMEAWriter(nmeaOut))
	}

	if cfg.RecordGPX != "" {
		recorder, err := gps.NewGPXRecorder(cfg.RecordGPX)
		if err != nil {
			return err
		}
		positions.Subscribe(recorder)
		closers = append(closers, recorder)
		lg.Info("recording replayed track", "file", cfg.RecordGPX)
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTPAddr != "" {
		srv := web.NewServer(lg, sched, registry, cache)
		srv.SetFields(fields)
		positions.Subscribe(srv)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.HTTPAddr)
		})
	}

	if sched.State() == replay.Loaded {
		if err := sched.Start(); err != nil {
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	// Listeners must drain before the recorder and serial port close.
	sched.Close()
	st := sched.Status()
	lg.Info("simulator stopped", "ticks", st.Ticks, "empty_ticks", st.EmptyTicks,
		"dropped", positions.Dropped(), "failed", positions.Failed())
	for _, es := range registry.Stats() {
		lg.Info("endpoint", "port", es.Port, "sent", es.Sent, "dropped", es.Dropped, "inert", es.Inert)
	}
	return err
}

// loadSource loads the configured track or event log and returns the event
// log's field names.
func loadSource(cfg config.Config, sched *replay.Scheduler, cache *geomessage.Cache, lg *log.Logger) ([]string, error) {
	switch {
	case cfg.Track != "":
		track, err := gps.ReadTrackFile(cfg.Track)
		if err != nil {
			return nil, err
		}
		return nil, sched.LoadTrack(track)

	case cfg.Events != "":
		var (
			l   *geomessage.Log
			err error
		)
		if geomessage.IsCapture(cfg.Events) && cfg.CapturePort != 0 {
			var stats geomessage.CaptureStats
			l, stats, err = geomessage.ReadPcapFile(cfg.Events, cfg.CapturePort)
			if err == nil {
				lg.Info("read packet capture", "file", cfg.Events, "packets", stats.Packets,
					"datagrams", stats.Datagrams, "skipped", stats.Skipped, "records", stats.Records)
			}
		} else {
			l, err = cache.Load(cfg.Events)
		}
		if err != nil {
			return nil, err
		}
		if l.Len() == 0 {
			lg.Warn("event log has no records", "file", cfg.Events)
		}
		return l.FieldNames(), sched.LoadEvents(l)
	}
	return nil, nil
}

// openNMEA returns the NMEA output for replayed positions: the serial port
// when one is configured, stdout when -nmea is set, or nil.
func openNMEA(cfg config.Config, stdout io.Writer, lg *log.Logger) (io.Writer, io.Closer, error) {
	if cfg.SerialPort != "" {
		mode := &serial.Mode{
			BaudRate: cfg.BaudRate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(cfg.SerialPort, mode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open serial port %s: %w", cfg.SerialPort, err)
		}
		lg.Info("opened serial port", "port", cfg.SerialPort, "baud", cfg.BaudRate)
		return port, port, nil
	}
	if cfg.NMEA {
		if stdout == nil {
			return nil, nil, errors.New("no NMEA output available")
		}
		return stdout, nil, nil
	}
	return nil, nil, nil
}
