package cluster

import (
	"context"
	"fmt"
)

// LonelyWorker is the job name used for single-process training.
const LonelyWorker = "lonely_worker"

// Role holds the parameters the trainer needs to place itself in the cluster.
type Role struct {
	PSTasks        int
	WorkerReplicas int
	WorkerJobName  string
	Task           int
	IsChief        bool
	Master         string
}

// SingleProcess is the role of a run without a cluster descriptor.
func SingleProcess() Role {
	return Role{
		PSTasks:        0,
		WorkerReplicas: 1,
		WorkerJobName:  LonelyWorker,
		Task:           0,
		IsChief:        true,
		Master:         "",
	}
}

// Topology is the outcome of planning a descriptor.
type Topology struct {
	// Role is the final role for single-process runs and carries the replica
	// counts for distributed ones.
	Role        Role
	Distributed bool
	Task        TaskSpec
	Cluster     map[string][]string
}

// Plan derives the topology for the current task.
func Plan(d *Descriptor) (*Topology, error) {
	t := &Topology{
		Role: SingleProcess(),
		Task: d.TaskSpec(),
	}
	if d != nil {
		t.Cluster = d.Cluster
	}

	// The master is not listed under "worker" but counts as a replica.
	if workers, ok := t.Cluster[JobWorker]; ok {
		t.Role.WorkerReplicas = len(workers) + 1
	}
	if ps, ok := t.Cluster[JobParameterServer]; ok {
		t.Role.PSTasks = len(ps)
	}

	if t.Role.WorkerReplicas > 1 && t.Role.PSTasks < 1 {
		return nil, &ConfigurationError{Err: ErrNoParameterServers}
	}

	if t.Role.WorkerReplicas >= 1 && t.Role.PSTasks > 0 {
		t.Distributed = true
		addrs, ok := t.Cluster[t.Task.Type]
		if !ok {
			return nil, &ConfigurationError{Err: fmt.Errorf("task type %q is not a job in the cluster", t.Task.Type)}
		}
		if t.Task.Index >= len(addrs) {
			return nil, &ConfigurationError{Err: fmt.Errorf("task %s is out of range: job has %d tasks", t.Task, len(addrs))}
		}
	}
	return t, nil
}

// IsParameterServer reports whether this task only serves shared state.
func (t *Topology) IsParameterServer() bool {
	return t.Distributed && t.Task.Type == JobParameterServer
}

// Address returns this task's own host:port, or "" for single-process runs.
func (t *Topology) Address() string {
	if !t.Distributed {
		return ""
	}
	return t.Cluster[t.Task.Type][t.Task.Index]
}

// ParameterServers returns the addresses of all parameter-server tasks.
func (t *Topology) ParameterServers() []string {
	return t.Cluster[JobParameterServer]
}

// WorkerRole completes the role of a distributed training task once its server
// is up and reachable at target.
func (t *Topology) WorkerRole(target string) Role {
	r := t.Role
	r.WorkerJobName = t.Task.String()
	r.Task = t.Task.Index
	r.IsChief = t.Task.Type == JobMaster
	r.Master = target
	return r
}

// Server is a running task server bound to the cluster.
type Server interface {
	// Target is the connection string other processes use to reach it.
	Target() string
	// Join blocks until ctx is done or the server stops on its own.
	Join(ctx context.Context) error
	Close() error
}

// ServerSpec describes the server a distributed task starts.
type ServerSpec struct {
	Cluster   map[string][]string
	JobName   string
	TaskIndex int
	Protocol  string
}

// Spec returns the server spec for this task.
func (t *Topology) Spec(protocol string) ServerSpec {
	return ServerSpec{
		Cluster:   t.Cluster,
		JobName:   t.Task.Type,
		TaskIndex: t.Task.Index,
		Protocol:  protocol,
	}
}

// StartFunc starts a task server.
type StartFunc func(ctx context.Context, spec ServerSpec) (Server, error)
