package cluster

import "errors"

// ErrNoParameterServers is returned when more than one worker replica is
// configured without any parameter-server task.
var ErrNoParameterServers = errors.New("distributed training requires at least one parameter-server task")

// ConfigurationError reports an unusable cluster descriptor. It is fatal and
// always raised before training starts.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "cluster configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
