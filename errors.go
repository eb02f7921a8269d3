package flowwork

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("flowwork: no store configured")
	ErrMigrationFailed = errors.New("flowwork: migration failed")

	// Not found errors.
	ErrRunNotFound = errors.New("flowwork: run not found")

	// Conflict errors.
	ErrRunAlreadyExists = errors.New("flowwork: run already exists")
	ErrConflict         = errors.New("flowwork: concurrent modification")
	ErrLeaseHeld        = errors.New("flowwork: run leased by another owner")

	// State errors.
	ErrRunFinished    = errors.New("flowwork: run already finished")
	ErrRunNotFinished = errors.New("flowwork: run not finished")
	ErrRunSucceeded   = errors.New("flowwork: run succeeded, nothing to retry")
	ErrRunRetried     = errors.New("flowwork: run already retried")

	// Work errors.
	ErrRetryUnsupported = errors.New("flowwork: retry not supported")
	ErrUnknownType      = errors.New("flowwork: unknown registered type")
	ErrRefNotFound      = errors.New("flowwork: reference not found")
	ErrPanicked         = errors.New("flowwork: panic during tick")
	ErrTickTimeout      = errors.New("flowwork: tick timed out")

	// Engine errors.
	ErrEngineStopped = errors.New("flowwork: engine stopped")
	ErrInvalidConfig = errors.New("flowwork: invalid config")
)
