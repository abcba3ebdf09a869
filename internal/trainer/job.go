package trainer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/pipeline"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Options are tuning knobs passed through to the trainer untouched.
type Options struct {
	NumClones            int
	CloneOnCPU           bool
	MaxCheckpointsToKeep int
	SaveInterval         time.Duration
	AllowMemoryGrowth    bool
	CPUThreads           int
	MixedPrecision       bool
}

// Job is everything the trainer needs for one run.
type Job struct {
	TrainDir      string
	Model         *pipeline.Model
	Train         *pipeline.TrainConfig
	Input         *pipeline.InputReader
	GraphRewriter *pipeline.GraphRewriter
	Role          cluster.Role
	Options       Options
}

// NewJob assembles a job from a resolved bundle.
func NewJob(trainDir string, b *pipeline.Bundle, role cluster.Role, opts Options) *Job {
	return &Job{
		TrainDir:      trainDir,
		Model:         b.Model,
		Train:         b.Train,
		Input:         b.TrainInput,
		GraphRewriter: b.GraphRewriter,
		Role:          role,
		Options:       opts,
	}
}

// Trainer runs the training loop for a job.
type Trainer interface {
	Train(ctx context.Context, job *Job) error
}

// Func adapts a plain function to the Trainer interface.
type Func func(ctx context.Context, job *Job) error

// Train implements Trainer.
func (f Func) Train(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

type wireJob struct {
	TrainDir      string        `json:"train_dir"`
	Model         *wireModel    `json:"model"`
	Train         *wireTrain    `json:"train_config"`
	Input         *wireInput    `json:"train_input_config"`
	GraphRewriter *wireRewriter `json:"graph_rewriter_config,omitempty"`
	Role          wireRole      `json:"role"`
	Options       wireOptions   `json:"options"`
}

type wireModel struct {
	Architecture string                             `json:"architecture"`
	NumClasses   int                                `json:"num_classes"`
	Params       map[string]ctyjson.SimpleJSONValue `json:"params,omitempty"`
}

type wireOptimizer struct {
	Kind         string  `json:"kind"`
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum,omitempty"`
	Decay        float64 `json:"decay,omitempty"`
}

type wireTrain struct {
	BatchSize                 int            `json:"batch_size"`
	NumSteps                  int            `json:"num_steps"`
	Optimizer                 *wireOptimizer `json:"optimizer,omitempty"`
	FineTuneCheckpoint        string         `json:"fine_tune_checkpoint,omitempty"`
	FineTuneCheckpointType    string         `json:"fine_tune_checkpoint_type,omitempty"`
	SyncReplicas              bool           `json:"sync_replicas"`
	ReplicasToAggregate       int            `json:"replicas_to_aggregate,omitempty"`
	StartupDelaySteps         int            `json:"startup_delay_steps,omitempty"`
	KeepCheckpointEveryNHours float64        `json:"keep_checkpoint_every_n_hours,omitempty"`
	GradientClippingByNorm    float64        `json:"gradient_clipping_by_norm,omitempty"`
	DataAugmentationOptions   []string       `json:"data_augmentation_options,omitempty"`
}

type wireInput struct {
	LabelMapPath string   `json:"label_map_path,omitempty"`
	InputPaths   []string `json:"input_path"`
	Shuffle      bool     `json:"shuffle"`
	NumReaders   int      `json:"num_readers,omitempty"`
	NumEpochs    int      `json:"num_epochs,omitempty"`
}

type wireQuantization struct {
	Delay          int `json:"delay"`
	WeightBits     int `json:"weight_bits"`
	ActivationBits int `json:"activation_bits"`
}

type wireRewriter struct {
	Quantization *wireQuantization `json:"quantization,omitempty"`
}

type wireRole struct {
	PSTasks        int    `json:"ps_tasks"`
	WorkerReplicas int    `json:"worker_replicas"`
	WorkerJobName  string `json:"worker_job_name"`
	Task           int    `json:"task"`
	IsChief        bool   `json:"is_chief"`
	Master         string `json:"master"`
}

type wireOptions struct {
	NumClones            int  `json:"num_clones"`
	CloneOnCPU           bool `json:"clone_on_cpu"`
	MaxCheckpointsToKeep int  `json:"max_ckpt_to_keep"`
	SaveIntervalSecs     int  `json:"save_interval_secs"`
	AllowMemoryGrowth    bool `json:"allow_memory_growth"`
	CPUThreads           int  `json:"n_cpu_threads"`
	MixedPrecision       bool `json:"enable_mixed_precision"`
}

// MarshalJSON encodes the job in the layout the external trainer reads.
func (j *Job) MarshalJSON() ([]byte, error) {
	w := wireJob{
		TrainDir: j.TrainDir,
		Role: wireRole{
			PSTasks:        j.Role.PSTasks,
			WorkerReplicas: j.Role.WorkerReplicas,
			WorkerJobName:  j.Role.WorkerJobName,
			Task:           j.Role.Task,
			IsChief:        j.Role.IsChief,
			Master:         j.Role.Master,
		},
		Options: wireOptions{
			NumClones:            j.Options.NumClones,
			CloneOnCPU:           j.Options.CloneOnCPU,
			MaxCheckpointsToKeep: j.Options.MaxCheckpointsToKeep,
			SaveIntervalSecs:     int(j.Options.SaveInterval / time.Second),
			AllowMemoryGrowth:    j.Options.AllowMemoryGrowth,
			CPUThreads:           j.Options.CPUThreads,
			MixedPrecision:       j.Options.MixedPrecision,
		},
	}

	if m := j.Model; m != nil {
		w.Model = &wireModel{Architecture: m.Architecture, NumClasses: m.NumClasses}
		if len(m.Params) > 0 {
			w.Model.Params = make(map[string]ctyjson.SimpleJSONValue, len(m.Params))
			for k, v := range m.Params {
				w.Model.Params[k] = ctyjson.SimpleJSONValue{Value: v}
			}
		}
	}
	if t := j.Train; t != nil {
		w.Train = &wireTrain{
			BatchSize:                 t.BatchSize,
			NumSteps:                  t.NumSteps,
			FineTuneCheckpoint:        t.FineTuneCheckpoint,
			FineTuneCheckpointType:    t.FineTuneCheckpointType,
			SyncReplicas:              t.SyncReplicas,
			ReplicasToAggregate:       t.ReplicasToAggregate,
			StartupDelaySteps:         t.StartupDelaySteps,
			KeepCheckpointEveryNHours: t.KeepCheckpointEveryNHours,
			GradientClippingByNorm:    t.GradientClippingByNorm,
			DataAugmentationOptions:   t.DataAugmentationOptions,
		}
		if o := t.Optimizer; o != nil {
			w.Train.Optimizer = &wireOptimizer{Kind: o.Kind, LearningRate: o.LearningRate, Momentum: o.Momentum, Decay: o.Decay}
		}
	}
	if in := j.Input; in != nil {
		w.Input = &wireInput{
			LabelMapPath: in.LabelMapPath,
			InputPaths:   in.InputPaths,
			Shuffle:      in.Shuffle,
			NumReaders:   in.NumReaders,
			NumEpochs:    in.NumEpochs,
		}
	}
	if g := j.GraphRewriter; g != nil {
		w.GraphRewriter = &wireRewriter{}
		if q := g.Quantization; q != nil {
			w.GraphRewriter.Quantization = &wireQuantization{Delay: q.Delay, WeightBits: q.WeightBits, ActivationBits: q.ActivationBits}
		}
	}
	return json.Marshal(w)
}
