package main

import "errors"

var (
	// ErrAuthExpired means the backend rejected the session and a refresh did
	// not recover it. The session has been logged out.
	ErrAuthExpired = errors.New("session expired")

	ErrUnknownVehicle    = errors.New("unknown vehicle")
	ErrStaleSelection    = errors.New("selection changed before history arrived")
	ErrMalformedPosition = errors.New("malformed position")
)
