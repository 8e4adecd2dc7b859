package video

import "errors"

// Sentinel errors for video package operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrProfilesAlreadySet indicates SetProfiles was called twice.
	ErrProfilesAlreadySet = errors.New("stream profiles already set")

	// ErrNoProfiles indicates SetProfiles was called with an empty list.
	ErrNoProfiles = errors.New("no stream profiles given")

	// ErrInvalidStreamIndex indicates a unit referencing an adaptive
	// stream index outside the announced profile list.
	ErrInvalidStreamIndex = errors.New("invalid adaptive stream index")

	// ErrFlushFailed indicates the assembler could not complete a frame.
	ErrFlushFailed = errors.New("frame flush failed")

	// ErrNoFrameActive indicates a flush was requested with no frame building.
	ErrNoFrameActive = errors.New("no frame is being assembled")
)
