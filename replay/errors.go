package replay

import "errors"

// Configuration errors. A rejected setting leaves the previous value in
// place.
var (
	ErrInvalidFrequency       = errors.New("frequency must be between 1 and 10 Hz")
	ErrInvalidThroughput      = errors.New("throughput must be between 1 and 10 records per tick")
	ErrInvalidPort            = errors.New("port must be between 1 and 100000")
	ErrInvalidSpeedMultiplier = errors.New("speed multiplier must be positive")
	ErrNoSource               = errors.New("no replay source loaded")
)
