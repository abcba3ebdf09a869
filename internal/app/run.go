package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/vk/odtrain/internal/trainer"
	"github.com/vk/odtrain/internal/transport"
)

// Run prepares the training directory, resolves the configs and the cluster
// role, and hands the job to the trainer. A parameter-server task never
// trains; it serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Info("Launcher started.", "pid", os.Getpid(), "train_dir", a.config.TrainDir)

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
		defer a.closeHealthcheckServer()
	}
	if a.notifier != nil {
		defer func() { a.notifyOutcome(err) }()
	}

	a.setPhase(phasePreparing)
	if a.config.ResetTrain {
		if err := resetTrainDir(ctx, a.config.TrainDir); err != nil {
			return err
		}
	}

	desc, err := cluster.ParseDescriptor(a.getenv(cluster.EnvVar))
	if err != nil {
		return err
	}
	primary := a.isPrimary(desc)
	if primary {
		if err := os.MkdirAll(a.config.TrainDir, 0o755); err != nil {
			return fmt.Errorf("create train_dir: %w", err)
		}
	}

	bundle, err := pipeline.NewResolver(a.loader).Resolve(ctx, a.config.Configs)
	if err != nil {
		return err
	}
	if primary {
		if err := bundle.CopySources(a.config.TrainDir); err != nil {
			return err
		}
		a.logger.Debug("Config files copied.", "train_dir", a.config.TrainDir, "count", len(bundle.Sources))
	}
	if bundle.ApplyOverrides(pipeline.Overrides{NumSteps: a.config.NumSteps}) {
		a.logger.Info(fmt.Sprintf("Training for %d steps", bundle.Train.NumSteps))
	}

	topo, err := cluster.Plan(desc)
	if err != nil {
		return err
	}
	a.warnIgnoredFlags()
	if topo.Distributed {
		ctx = ctxlog.With(ctx, "task", topo.Task.String())
	}
	logger := ctxlog.FromContext(ctx)

	role := topo.Role
	if topo.Distributed {
		srv, err := a.startServer(ctx, topo.Spec(transport.Protocol))
		if err != nil {
			return fmt.Errorf("start task server for %s: %w", topo.Task, err)
		}
		defer srv.Close()

		if topo.IsParameterServer() {
			a.setPhase(phaseServing)
			logger.Info("Parameter server started, joining.", "target", srv.Target())
			if err := srv.Join(ctx); err != nil {
				return fmt.Errorf("parameter server %s: %w", topo.Task, err)
			}
			logger.Info("Parameter server stopped.")
			return nil
		}

		role = topo.WorkerRole(srv.Target())
		if a.config.WaitForPS > 0 {
			if err := a.probeTasks(ctx, topo.ParameterServers(), a.config.WaitForPS); err != nil {
				return fmt.Errorf("wait for parameter servers: %w", err)
			}
		}
	}
	logger.Info("Role resolved.",
		"job", role.WorkerJobName,
		"task_index", role.Task,
		"chief", role.IsChief,
		"master", role.Master,
		"ps_tasks", role.PSTasks,
		"worker_replicas", role.WorkerReplicas,
	)
	if bundle.GraphRewriter != nil {
		logger.Info("Graph rewriter enabled.")
	}

	job := trainer.NewJob(a.config.TrainDir, bundle, role, a.trainerOptions(ctx))
	a.setPhase(phaseTraining)
	err = a.trainer.Train(ctx, job)
	a.setPhase(phaseDone)
	return a.applyRuntimeErrorPolicy(ctx, err)
}

// isPrimary reports whether this process owns train_dir. With a task in the
// descriptor only the chief (master/task:0) owns it; otherwise the task flag
// decides.
func (a *App) isPrimary(desc *cluster.Descriptor) bool {
	if desc.HasTask() {
		return desc.Task.Type == cluster.JobMaster && desc.Task.Index == 0
	}
	return a.config.Task == 0
}

func (a *App) warnIgnoredFlags() {
	const msg = "Flag is ignored; the cluster role comes from " + cluster.EnvVar + "."
	if a.config.WorkerReplicas != 1 {
		a.logger.Warn(msg, "flag", "worker_replicas", "value", a.config.WorkerReplicas)
	}
	if a.config.PSTasks != 0 {
		a.logger.Warn(msg, "flag", "ps_tasks", "value", a.config.PSTasks)
	}
	if a.config.Master != "" {
		a.logger.Warn(msg, "flag", "master", "value", a.config.Master)
	}
}

func (a *App) trainerOptions(ctx context.Context) trainer.Options {
	opts := trainer.Options{
		NumClones:            a.config.NumClones,
		CloneOnCPU:           a.config.CloneOnCPU,
		MaxCheckpointsToKeep: a.config.MaxCheckpointsToKeep,
		SaveInterval:         a.config.SaveInterval,
		AllowMemoryGrowth:    a.config.AllowMemoryGrowth,
		CPUThreads:           a.host.Threads(a.config.CPUThreads),
		MixedPrecision:       a.config.MixedPrecision,
	}
	if opts.MixedPrecision && opts.CloneOnCPU && !a.host.ReducedPrecision() {
		ctxlog.FromContext(ctx).Warn("Mixed precision requested on a CPU without bf16/fp16 support.", "cpu", a.host.Brand)
	}
	return opts
}

// applyRuntimeErrorPolicy swallows trainer runtime errors when configured to.
// Launch failures and interruptions always propagate.
func (a *App) applyRuntimeErrorPolicy(ctx context.Context, err error) error {
	logger := ctxlog.FromContext(ctx)
	if err == nil {
		logger.Info("🏁 Training finished.")
		return nil
	}
	var rerr *trainer.RuntimeError
	if errors.As(err, &rerr) && a.config.SuppressTrainerRuntimeErrors {
		logger.Warn("Ignoring trainer runtime error; exiting successfully.", "exit_code", rerr.ExitCode, "error", err)
		return nil
	}
	return fmt.Errorf("training failed: %w", err)
}

func (a *App) notifyOutcome(err error) {
	msg := fmt.Sprintf("odtrain: training in %s finished", a.config.TrainDir)
	if err != nil {
		msg = fmt.Sprintf("odtrain: training in %s failed: %v", a.config.TrainDir, err)
	}
	if sendErr := a.notifier.Send(msg); sendErr != nil {
		a.logger.Warn("Failed to send notification.", "error", sendErr)
	}
}
