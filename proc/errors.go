package proc

import "errors"

var (
	// ErrValidation marks input rejected before any I/O happens.
	ErrValidation = errors.New("validation error")
	// ErrAcquisition marks a failed or empty download, or a cache I/O failure.
	ErrAcquisition = errors.New("audio acquisition failed")
	// ErrExtraction marks a transcoding or probing subprocess failure.
	ErrExtraction = errors.New("audio extraction failed")
	// ErrServiceUnavailable marks an external service that failed, timed out, or is not configured.
	ErrServiceUnavailable = errors.New("external service unavailable")
	// ErrProtocolViolation marks an external response that did not match its expected shape.
	ErrProtocolViolation = errors.New("malformed external response")

	ErrInvalidSegment     = errors.New("segment has non-positive duration")
	ErrTimemarkOutOfRange = errors.New("virtual timemark outside timeline")

	ErrNoMoreTracks   = errors.New("no more tracks")
	ErrNoMoreClips    = errors.New("no more clips")
	ErrNoActiveClip   = errors.New("no active clip")
	ErrNoPreviousClip = errors.New("no previous clip")
	ErrNoFullTrack    = errors.New("no full track available")
	ErrSessionFatal   = errors.New("session cannot continue")
	ErrSessionClosed  = errors.New("session is closed")
	ErrSessionExists  = errors.New("a game is already running in this guild")
	ErrPreparing      = errors.New("session is preparing the next track")
)
