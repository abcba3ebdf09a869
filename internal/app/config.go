package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/odtrain/internal/pipeline"
)

// Config holds all the necessary configuration for an App instance to run.
// It replaces the process-wide flag registry; cli.Parse fills it in.
type Config struct {
	TrainDir   string
	Configs    pipeline.Paths
	NumSteps   int
	ResetTrain bool

	// Task picks the primary writer when TF_CONFIG names no task. Master,
	// WorkerReplicas and PSTasks are accepted for compatibility only; the
	// role always comes from TF_CONFIG.
	Task           int
	Master         string
	WorkerReplicas int
	PSTasks        int

	NumClones            int
	CloneOnCPU           bool
	AllowMemoryGrowth    bool
	MaxCheckpointsToKeep int
	SaveInterval         time.Duration
	MixedPrecision       bool
	CPUThreads           int

	TrainerBin  string
	TrainerArgs []string
	// SuppressTrainerRuntimeErrors turns a trainer runtime failure into a
	// logged warning and a successful exit. It is on by default for
	// compatibility even though it can hide real training failures.
	SuppressTrainerRuntimeErrors bool
	WaitForPS                    time.Duration

	HealthcheckPort int
	NotifyURL       string
	LogFormat       string
	LogLevel        string
}

// DefaultConfig returns the flag defaults.
func DefaultConfig() Config {
	return Config{
		WorkerReplicas:               1,
		NumClones:                    1,
		AllowMemoryGrowth:            true,
		MaxCheckpointsToKeep:         1,
		SaveInterval:                 600 * time.Second,
		CPUThreads:                   4,
		TrainerBin:                   "odtrain-trainer",
		SuppressTrainerRuntimeErrors: true,
		LogFormat:                    "text",
		LogLevel:                     "info",
	}
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.TrainDir == "" {
		return nil, errors.New("train_dir is required")
	}
	if cfg.TrainerBin == "" {
		return nil, errors.New("trainer_bin must not be empty")
	}
	if cfg.Task < 0 {
		return nil, fmt.Errorf("task must be >= 0 (got %d)", cfg.Task)
	}
	if cfg.NumClones <= 0 {
		return nil, fmt.Errorf("num_clones must be > 0 (got %d)", cfg.NumClones)
	}
	if cfg.MaxCheckpointsToKeep < 0 {
		return nil, fmt.Errorf("max_ckpt_to_keep must be >= 0 (got %d)", cfg.MaxCheckpointsToKeep)
	}
	if cfg.SaveInterval < 0 {
		return nil, fmt.Errorf("save_interval_secs must be >= 0 (got %s)", cfg.SaveInterval)
	}
	if cfg.WaitForPS < 0 {
		return nil, fmt.Errorf("wait_for_ps must be >= 0 (got %s)", cfg.WaitForPS)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck_port out of range: %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
