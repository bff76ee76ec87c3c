package domain

import "errors"

var (
	// ErrMalformedEvent marks events missing required fields. Callers skip
	// the event and keep the stream alive.
	ErrMalformedEvent = errors.New("malformed scan event")

	// ErrNotFound is returned when a detection does not exist.
	ErrNotFound = errors.New("detection not found")

	// ErrRegistryCorrupt is fatal at startup: the static signature registry
	// could not be parsed.
	ErrRegistryCorrupt = errors.New("signature registry corrupt")
)
