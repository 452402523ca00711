package rivalwatch

import (
	"errors"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/fetch"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/pipeline"
)

// ErrDuplicateTarget is returned when the owner already monitors the URL.
var ErrDuplicateTarget = errors.New("rivalwatch: target with this URL already exists")

// ErrInvalidInput is returned when target input fails validation.
var ErrInvalidInput = errors.New("rivalwatch: invalid input")

// ErrTargetNotFound is returned for unknown target IDs.
var ErrTargetNotFound = pipeline.ErrTargetNotFound

// ErrSnapshotNotFound is returned for unknown snapshot IDs.
var ErrSnapshotNotFound = errors.New("rivalwatch: snapshot not found")

// ErrForbidden is returned when a target belongs to another owner.
var ErrForbidden = pipeline.ErrForbidden

// FetchError reports a page that could not be retrieved.
type FetchError = fetch.FetchError

// StoreError reports a persistence failure during a scan.
type StoreError = pipeline.StoreError
