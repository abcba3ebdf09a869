package hcl

import "github.com/hashicorp/hcl/v2"

// pipelineFile is the top-level structure of any config file. A combined
// pipeline carries all blocks; each separate file carries the one it is for.
type pipelineFile struct {
	Model         *modelBlock         `hcl:"model,block"`
	Train         *trainBlock         `hcl:"train_config,block"`
	Input         *inputBlock         `hcl:"train_input_reader,block"`
	GraphRewriter *graphRewriterBlock `hcl:"graph_rewriter,block"`
	// Remain absorbs eval_config, eval_input_reader and other blocks the
	// trainer does not read.
	Remain hcl.Body `hcl:",remain"`
}

// modelBlock is a `model "<architecture>" { ... }` block. Every attribute
// other than num_classes is kept as an architecture parameter.
type modelBlock struct {
	Architecture string   `hcl:"architecture,label"`
	NumClasses   int      `hcl:"num_classes"`
	Params       hcl.Body `hcl:",remain"`
}

type optimizerBlock struct {
	Kind         string  `hcl:"kind,label"`
	LearningRate float64 `hcl:"learning_rate"`
	Momentum     float64 `hcl:"momentum,optional"`
	Decay        float64 `hcl:"decay,optional"`
}

type trainBlock struct {
	BatchSize                 int             `hcl:"batch_size"`
	NumSteps                  int             `hcl:"num_steps,optional"`
	Optimizer                 *optimizerBlock `hcl:"optimizer,block"`
	FineTuneCheckpoint        string          `hcl:"fine_tune_checkpoint,optional"`
	FineTuneCheckpointType    string          `hcl:"fine_tune_checkpoint_type,optional"`
	SyncReplicas              bool            `hcl:"sync_replicas,optional"`
	ReplicasToAggregate       int             `hcl:"replicas_to_aggregate,optional"`
	StartupDelaySteps         int             `hcl:"startup_delay_steps,optional"`
	KeepCheckpointEveryNHours float64         `hcl:"keep_checkpoint_every_n_hours,optional"`
	GradientClippingByNorm    float64         `hcl:"gradient_clipping_by_norm,optional"`
	DataAugmentationOptions   []string        `hcl:"data_augmentation_options,optional"`
}

type inputBlock struct {
	LabelMapPath string   `hcl:"label_map_path,optional"`
	InputPaths   []string `hcl:"input_path"`
	Shuffle      *bool    `hcl:"shuffle,optional"`
	NumReaders   int      `hcl:"num_readers,optional"`
	NumEpochs    int      `hcl:"num_epochs,optional"`
}

type quantizationBlock struct {
	Delay          int `hcl:"delay,optional"`
	WeightBits     int `hcl:"weight_bits"`
	ActivationBits int `hcl:"activation_bits"`
}

type graphRewriterBlock struct {
	Quantization *quantizationBlock `hcl:"quantization,block"`
}
