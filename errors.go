package watermark

import "fmt"

// ConfigError reports an invalid Options field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("watermark: invalid %s: %s", e.Field, e.Reason)
}

// RenderError reports that a tile could not be rasterised or encoded. The
// caller should show no overlay rather than a partial one.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("watermark: render %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
