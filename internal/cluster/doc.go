// Package cluster derives a task's distributed-training role from the
// TF_CONFIG cluster descriptor.
//
// The descriptor lists jobs ("master", "worker", "ps") with their host:port
// addresses and names the current task. Plan turns it into a Topology, which
// either describes a single-process run or a distributed one where the task
// must start a Server before training (or, for parameter servers, instead of
// training).
package cluster
