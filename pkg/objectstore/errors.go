package objectstore

import "errors"

// ErrNotFound is returned when the requested latest.json key does not
// exist yet (no extraction/drift result has been recorded for the scope).
var ErrNotFound = errors.New("objectstore: object not found")
