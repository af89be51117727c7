package eventlog

import "errors"

// ErrConcurrencyConflict is returned by Append when expectedNextSequence no
// longer matches the entity's next unused sequence. No events are written.
var ErrConcurrencyConflict = errors.New("eventlog: concurrency conflict")

// ErrStorageUnavailable is returned when the underlying store could not be
// reached; it is always retryable.
var ErrStorageUnavailable = errors.New("eventlog: storage unavailable")
