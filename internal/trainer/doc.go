// Package trainer is the delegation boundary to the external training loop.
//
// The launcher never trains anything itself. It assembles a Job from the
// resolved configuration bundle, the cluster role and the pass-through tuning
// options, and hands it to a Trainer. ExecTrainer runs an external trainer
// binary and feeds it the job as JSON on stdin.
package trainer
