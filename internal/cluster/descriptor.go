package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EnvVar is the environment variable holding the cluster descriptor.
const EnvVar = "TF_CONFIG"

// Job names with special meaning.
const (
	JobMaster          = "master"
	JobWorker          = "worker"
	JobParameterServer = "ps"
)

// TaskSpec names the current task inside the cluster.
type TaskSpec struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// String renders the spec the way job names are written, e.g. "worker/task:1".
func (t TaskSpec) String() string {
	return fmt.Sprintf("%s/task:%d", t.Type, t.Index)
}

// Descriptor is the parsed TF_CONFIG value.
type Descriptor struct {
	Cluster map[string][]string `json:"cluster"`
	Task    *TaskSpec           `json:"task"`
}

// ParseDescriptor decodes a TF_CONFIG value. Empty input yields an empty
// descriptor, which means a single-process run.
func ParseDescriptor(raw string) (*Descriptor, error) {
	d := &Descriptor{}
	if strings.TrimSpace(raw) == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("invalid %s: %w", EnvVar, err)}
	}
	if d.Task != nil && d.Task.Index < 0 {
		return nil, &ConfigurationError{Err: fmt.Errorf("invalid %s: negative task index %d", EnvVar, d.Task.Index)}
	}
	return d, nil
}

// TaskSpec returns the named task, defaulting to master/task:0.
func (d *Descriptor) TaskSpec() TaskSpec {
	if d == nil || d.Task == nil {
		return TaskSpec{Type: JobMaster, Index: 0}
	}
	return *d.Task
}

// HasTask reports whether the descriptor names the current task explicitly.
func (d *Descriptor) HasTask() bool {
	return d != nil && d.Task != nil
}

// Addresses returns the host:port list of a job.
func (d *Descriptor) Addresses(job string) []string {
	if d == nil {
		return nil
	}
	return d.Cluster[job]
}
