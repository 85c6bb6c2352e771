package types

import "errors"

// Error kinds surfaced by the counter. Failures are wrapped with one of these
// so callers can tell them apart with errors.Is.
var (
	// ErrInvalidInput reports an unreadable image or a malformed exemplar box.
	// It is raised before any inference runs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelLoad reports missing, corrupt or unreachable model weights.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference reports a failed model call. No partial count is produced.
	ErrInference = errors.New("inference failed")
)
