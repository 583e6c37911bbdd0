package gps

import "errors"

// Common errors returned by track replay
var (
	ErrInvalidTrackLog    = errors.New("invalid track log")
	ErrNoTrackData        = errors.New("track has no points")
	ErrInvalidReplaySpeed = errors.New("replay speed must be positive")
)
