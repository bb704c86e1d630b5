package tracking

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionEnded        = errors.New("session ended")
	ErrNoFix               = errors.New("no position yet")
	ErrUnknownDistanceMode = errors.New("unknown distance mode")
	ErrInvalidHeading      = errors.New("heading must be a finite number of degrees")
	ErrUnknownMessage      = errors.New("unknown message type")
)
