// Package config loads simulator settings from GEOSIM_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"

	"github.com/Bucknalla/go-geomessage-simulator/log"
	"github.com/Bucknalla/go-geomessage-simulator/replay"
)

var (
	ErrConflictingSources   = errors.New("only one of a track log and an event log may be replayed")
	ErrNoInput              = errors.New("a track log or event log is required unless the HTTP server is enabled")
	ErrInvalidBaudRate      = errors.New("baud rate must be positive")
	ErrInvalidBroadcastAddr = errors.New("broadcast address must be an IPv4 address")
	ErrInvalidCapturePort   = errors.New("capture port must be between 0 and 65535")
	ErrInvalidDuration      = errors.New("duration must not be negative")
	ErrInvalidTimezone      = errors.New("unknown timezone")
)

// Config holds every setting of the simulator command. Environment
// variables provide defaults; flags registered with RegisterFlags override
// them.
type Config struct {
	Track       string `env:"GEOSIM_TRACK"`
	Events      string `env:"GEOSIM_EVENTS"`
	CapturePort int    `env:"GEOSIM_CAPTURE_PORT" envDefault:"0"`

	Frequency       int      `env:"GEOSIM_FREQUENCY" envDefault:"1"`
	Throughput      int      `env:"GEOSIM_THROUGHPUT" envDefault:"1"`
	Port            int      `env:"GEOSIM_PORT" envDefault:"45678"`
	SpeedMultiplier float64  `env:"GEOSIM_SPEED" envDefault:"1.0"`
	OverrideFields  []string `env:"GEOSIM_OVERRIDE_FIELDS" envSeparator:","`
	BroadcastAddr   string   `env:"GEOSIM_BROADCAST_ADDR" envDefault:"255.255.255.255"`

	Designation string `env:"GEOSIM_DESIGNATION" envDefault:"Simulator"`
	UnitType    string `env:"GEOSIM_UNIT_TYPE" envDefault:"vehicle"`
	SIC         string `env:"GEOSIM_SIC"`
	Timezone    string `env:"GEOSIM_TIMEZONE" envDefault:"UTC"`

	NMEA       bool   `env:"GEOSIM_NMEA"`
	SerialPort string `env:"GEOSIM_SERIAL"`
	BaudRate   int    `env:"GEOSIM_BAUD" envDefault:"9600"`
	RecordGPX  string `env:"GEOSIM_RECORD_GPX"`

	HTTPAddr string        `env:"GEOSIM_HTTP_ADDR"`
	Duration time.Duration `env:"GEOSIM_DURATION"`

	LogLevel string `env:"GEOSIM_LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"GEOSIM_LOG_DIR"`
}

// Load reads the environment into a Config.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// RegisterFlags binds c's fields to flags on fs, using the current values
// as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Track, "track", c.Track, "GPX track log to replay")
	fs.StringVar(&c.Events, "events", c.Events, "Geomessage event log (.xml) or packet capture (.pcap, .pcapng) to replay")
	fs.IntVar(&c.CapturePort, "capture-port", c.CapturePort, "Only replay captured datagrams sent to this port (0 = any)")

	fs.IntVar(&c.Frequency, "frequency", c.Frequency, "Event replay ticks per second (1-10)")
	fs.IntVar(&c.Throughput, "throughput", c.Throughput, "Records sent per tick (1-10)")
	fs.IntVar(&c.Port, "port", c.Port, "UDP destination port")
	fs.Float64Var(&c.SpeedMultiplier, "speed", c.SpeedMultiplier, "Track replay speed multiplier (1.0=real-time, 2.0=2x speed)")
	fs.Func("override", "Comma-separated fields to stamp with the current time (e.g., datetimevalid)", func(s string) error {
		c.OverrideFields = splitFields(s)
		return nil
	})
	fs.StringVar(&c.BroadcastAddr, "broadcast-addr", c.BroadcastAddr, "Destination address for datagrams")

	fs.StringVar(&c.Designation, "designation", c.Designation, "Unique designation reported for a replayed track")
	fs.StringVar(&c.UnitType, "unit-type", c.UnitType, "Unit type reported for a replayed track")
	fs.StringVar(&c.SIC, "sic", c.SIC, "Symbol ID code reported for a replayed track (default friendly ground vehicle)")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "Zone of stamped timestamps (UTC, Local or an IANA name such as America/New_York)")

	fs.BoolVar(&c.NMEA, "nmea", c.NMEA, "Write NMEA sentences for replayed track positions to stdout")
	fs.StringVar(&c.SerialPort, "serial", c.SerialPort, "Serial port for NMEA output (e.g., /dev/ttyUSB0, COM1)")
	fs.IntVar(&c.BaudRate, "baud", c.BaudRate, "Serial port baud rate")
	fs.StringVar(&c.RecordGPX, "record-gpx", c.RecordGPX, "Record replayed track positions to this GPX file")

	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "Serve the control API on this address (e.g., :8080)")
	fs.DurationVar(&c.Duration, "duration", c.Duration, "How long to run (e.g., 30s, 5m). Default is indefinite")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "Write rotated JSON logs to this directory instead of stderr")
}

func splitFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Session returns the replay settings.
func (c Config) Session() replay.Session {
	return replay.Session{
		Frequency:       c.Frequency,
		Throughput:      c.Throughput,
		Port:            c.Port,
		SpeedMultiplier: c.SpeedMultiplier,
	}
}

// BroadcastIP returns the parsed destination address.
func (c Config) BroadcastIP() net.IP {
	return net.ParseIP(c.BroadcastAddr).To4()
}

// Location returns the zone timestamps are stamped in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the configuration and returns the first error found.
func (c Config) Validate() error {
	if err := c.Session().Validate(); err != nil {
		return err
	}
	if c.Track != "" && c.Events != "" {
		return ErrConflictingSources
	}
	if c.Track == "" && c.Events == "" && c.HTTPAddr == "" {
		return ErrNoInput
	}
	if c.CapturePort < 0 || c.CapturePort > 65535 {
		return ErrInvalidCapturePort
	}
	if c.BroadcastIP() == nil {
		return ErrInvalidBroadcastAddr
	}
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	if c.Duration < 0 {
		return ErrInvalidDuration
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
