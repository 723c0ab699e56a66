package voice

import "fmt"

// EngineUnavailableError reports that a local model failed to load or
// failed during inference. The engine handle stays uninitialized after a
// load failure, so retrying later is safe.
type EngineUnavailableError struct {
	Engine string // "synthesis" or "recognition"
	Err    error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("%s engine unavailable: %v", e.Engine, e.Err)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Err }
