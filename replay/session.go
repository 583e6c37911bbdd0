package replay

import (
	"math"
	"time"
)

const (
	MinFrequency  = 1
	MaxFrequency  = 10
	MinThroughput = 1
	MaxThroughput = 10
	MinPort       = 1
	MaxPort       = 100000

	DefaultPort = 45678
)

// Session holds the replay settings a UI can change at runtime.
type Session struct {
	Frequency       int     `json:"frequency"`
	Throughput      int     `json:"throughput"`
	Port            int     `json:"port"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
}

// DefaultSession returns one record per second on the default port at
// recorded speed.
func DefaultSession() Session {
	return Session{
		Frequency:       1,
		Throughput:      1,
		Port:            DefaultPort,
		SpeedMultiplier: 1.0,
	}
}

func validFrequency(hz int) bool {
	return hz >= MinFrequency && hz <= MaxFrequency
}

func validThroughput(n int) bool {
	return n >= MinThroughput && n <= MaxThroughput
}

func validPort(p int) bool {
	return p >= MinPort && p <= MaxPort
}

func validSpeedMultiplier(m float64) bool {
	return m > 0 && !math.IsInf(m, 0) && !math.IsNaN(m)
}

// Validate checks every setting and returns the first error found.
func (s Session) Validate() error {
	if !validFrequency(s.Frequency) {
		return ErrInvalidFrequency
	}
	if !validThroughput(s.Throughput) {
		return ErrInvalidThroughput
	}
	if !validPort(s.Port) {
		return ErrInvalidPort
	}
	if !validSpeedMultiplier(s.SpeedMultiplier) {
		return ErrInvalidSpeedMultiplier
	}
	return nil
}

// Interval is the event replay tick period, round(1000/hz) milliseconds.
func (s Session) Interval() time.Duration {
	return IntervalFor(s.Frequency)
}

func IntervalFor(hz int) time.Duration {
	if hz <= 0 {
		return time.Second
	}
	return time.Duration(math.Round(1000/float64(hz))) * time.Millisecond
}
