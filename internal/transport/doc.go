// Package transport runs the per-task cluster server over socket.io and
// probes other tasks for readiness.
//
// Every distributed task starts a Server on the port listed for it in the
// cluster descriptor. Parameter-server tasks then Join it for the lifetime of
// the process; training tasks hand its Target to the trainer as the master
// address and may first call WaitForTasks to make sure every parameter server
// is reachable.
package transport
