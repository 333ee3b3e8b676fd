package models

import "errors"

var (
	// ErrNoActiveSession - a save/delete was attempted without any usable
	// identity mode.
	ErrNoActiveSession = errors.New("no active session")

	// ErrCapacityExceeded - the serialized local collection would exceed the
	// device slot ceiling. The previously stored collection stays intact.
	ErrCapacityExceeded = errors.New("device storage capacity exceeded")

	// ErrCorruptLocalState - the stored local collection could not be
	// deserialized. The slot is reset and treated as empty.
	ErrCorruptLocalState = errors.New("corrupt local looks data")

	// ErrStorageUnavailable - the device database rejected the write for any
	// other reason. The previously stored collection stays intact.
	ErrStorageUnavailable = errors.New("device storage unavailable")
)
