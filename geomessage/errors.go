package geomessage

import "errors"

// Common errors returned while loading and replaying event logs
var (
	ErrInvalidEventLog = errors.New("invalid event log")
	ErrEmptySource     = errors.New("event log has no records")
)
