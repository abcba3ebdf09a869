package pipeline

import "fmt"

// ConfigLoadError reports a config file that is missing, unreadable or does
// not match the expected schema.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load config: %v", e.Err)
	}
	return fmt.Sprintf("load config %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}
