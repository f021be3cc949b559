package models

import "github.com/pkg/errors"

// Pipeline error taxonomy. Callers wrap these with context and test them with errors.Is.
var (
	ErrExtraction     = errors.New("catalog extraction failed")
	ErrFetch          = errors.New("telemetry fetch failed")
	ErrMatch          = errors.New("no catalog entry for telemetry record")
	ErrPersistence    = errors.New("property persistence failed")
	ErrListener       = errors.New("listener failed")
	ErrNotInitialized = errors.New("integration coordinator not initialized")
	ErrKeyNotFound    = errors.New("key not found")
)
