package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/odtrain/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Arguments after "--" are passed to the trainer unchanged.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("odtrain", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
odtrain - launches object detection training jobs.

Usage:
  odtrain -train_dir DIR -pipeline_config_path FILE [options] [-- TRAINER_ARGS...]
  odtrain -train_dir DIR -model_config_path FILE -train_config_path FILE -input_config_path FILE [options]

The cluster role is read from the TF_CONFIG environment variable.

Options:
`)
		flagSet.PrintDefaults()
	}

	def := app.DefaultConfig()
	cfg := def

	flagSet.StringVar(&cfg.TrainDir, "train_dir", "", "Directory to save the checkpoints and training summaries.")
	flagSet.StringVar(&cfg.Configs.Pipeline, "pipeline_config_path", "", "Path to a combined pipeline config file. Overrides the three separate config paths.")
	flagSet.StringVar(&cfg.Configs.Model, "model_config_path", "", "Path to a model config file.")
	flagSet.StringVar(&cfg.Configs.Train, "train_config_path", "", "Path to a train config file.")
	flagSet.StringVar(&cfg.Configs.Input, "input_config_path", "", "Path to an input reader config file.")
	flagSet.IntVar(&cfg.NumSteps, "n_steps", 0, "Number of training steps. Overrides num_steps from the config when > 0.")
	resetTrain := flagSet.Int("reset_train", 0, "Delete train_dir before training when non-zero.")

	flagSet.IntVar(&cfg.NumClones, "num_clones", def.NumClones, "Number of clones to deploy per worker.")
	flagSet.BoolVar(&cfg.CloneOnCPU, "clone_on_cpu", def.CloneOnCPU, "Force clones to be deployed on CPU.")
	flagSet.IntVar(&cfg.WorkerReplicas, "worker_replicas", def.WorkerReplicas, "Number of worker replicas. Ignored; the role comes from TF_CONFIG.")
	flagSet.IntVar(&cfg.PSTasks, "ps_tasks", def.PSTasks, "Number of parameter server tasks. Ignored; the role comes from TF_CONFIG.")
	flagSet.IntVar(&cfg.Task, "task", def.Task, "Task id. Task 0 creates train_dir when TF_CONFIG names no task.")
	flagSet.StringVar(&cfg.Master, "master", def.Master, "Name of the master. Ignored; the role comes from TF_CONFIG.")

	flagSet.BoolVar(&cfg.AllowMemoryGrowth, "allow_memory_growth", def.AllowMemoryGrowth, "Let the trainer grow device memory on demand.")
	flagSet.IntVar(&cfg.MaxCheckpointsToKeep, "max_ckpt_to_keep", def.MaxCheckpointsToKeep, "Maximum number of checkpoints to keep.")
	saveInterval := flagSet.Int("save_interval_secs", int(def.SaveInterval/time.Second), "Seconds between checkpoint saves.")
	mixedPrecision := flagSet.Int("enable_mixed_precision", 0, "Enable mixed precision training when non-zero.")
	flagSet.IntVar(&cfg.CPUThreads, "n_cpu_threads", def.CPUThreads, "Number of CPU threads. <= 0 uses all logical cores.")

	flagSet.StringVar(&cfg.TrainerBin, "trainer_bin", def.TrainerBin, "Trainer executable that receives the job on stdin.")
	flagSet.BoolVar(&cfg.SuppressTrainerRuntimeErrors, "suppress_trainer_runtime_errors", def.SuppressTrainerRuntimeErrors, "Log trainer runtime errors and exit successfully instead of failing.")
	flagSet.DurationVar(&cfg.WaitForPS, "wait_for_ps", 0, "How long a worker waits for parameter servers to answer. 0 disables the check.")

	flagSet.IntVar(&cfg.HealthcheckPort, "healthcheck_port", 0, "Port for the HTTP health check server. 0 is disabled.")
	flagSet.StringVar(&cfg.NotifyURL, "notify_url", "", "shoutrrr service URL that receives the run outcome.")
	logFormatFlag := flagSet.String("log_format", def.LogFormat, "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log_level", def.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.")

	cfg.ResetTrain = *resetTrain != 0
	cfg.MixedPrecision = *mixedPrecision != 0
	cfg.SaveInterval = time.Duration(*saveInterval) * time.Second
	if flagSet.NArg() > 0 {
		cfg.TrainerArgs = flagSet.Args()
	}

	cfg.LogFormat = strings.ToLower(*logFormatFlag)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, usageError("invalid log_format: must be 'text' or 'json'")
	}

	cfg.LogLevel = strings.ToLower(*logLevelFlag)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log_level: must be 'debug', 'info', 'warn', or 'error'")
	}

	if cfg.TrainDir == "" {
		flagSet.Usage()
	}
	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "train_dir", config.TrainDir, "trainer", config.TrainerBin)
	return config, false, nil
}
