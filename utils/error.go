package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorInvalidInput is returned before any store access; callers can rely
// on no partial write having happened.
var ErrorInvalidInput = errors.New("invalid input")

// ErrorStoreUnavailable wraps catalog/record store fetch or write failures.
// No retry, no local queuing: the scan is lost and must be re-submitted.
var ErrorStoreUnavailable = errors.New("store unavailable")

// ErrorVersionConflict is returned by a compare-and-swap upsert when the
// record's version moved underneath the caller.
var ErrorVersionConflict = errors.New("record version conflict")
