package pipeline

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Bundle is the unified configuration for one training run. It is loaded once
// at startup; the only field changed afterwards is Train.NumSteps.
type Bundle struct {
	Model         *Model
	Train         *TrainConfig
	TrainInput    *InputReader
	GraphRewriter *GraphRewriter // nil when the pipeline has none

	// Sources lists the files the bundle was read from.
	Sources []Source
}

// Source is a config file together with the name it is copied under.
type Source struct {
	Path     string
	CopyName string
}

// Model describes the detection model handed to the trainer's model builder.
type Model struct {
	Architecture string
	NumClasses   int
	// Params holds the architecture specific settings verbatim.
	Params map[string]cty.Value
}

// TrainConfig holds the training loop settings.
type TrainConfig struct {
	BatchSize                 int
	NumSteps                  int // 0 trains indefinitely
	Optimizer                 *Optimizer
	FineTuneCheckpoint        string
	FineTuneCheckpointType    string
	SyncReplicas              bool
	ReplicasToAggregate       int
	StartupDelaySteps         int
	KeepCheckpointEveryNHours float64
	GradientClippingByNorm    float64
	DataAugmentationOptions   []string
}

// Optimizer selects the optimizer and its learning-rate knobs.
type Optimizer struct {
	Kind         string
	LearningRate float64
	Momentum     float64
	Decay        float64
}

// InputReader describes where training examples come from.
type InputReader struct {
	LabelMapPath string
	InputPaths   []string
	Shuffle      bool
	NumReaders   int
	NumEpochs    int // 0 repeats forever
}

// GraphRewriter configures an optional rewrite of the training graph.
type GraphRewriter struct {
	Quantization *Quantization
}

// Quantization enables quantization-aware training after Delay steps.
type Quantization struct {
	Delay          int
	WeightBits     int
	ActivationBits int
}

// DefaultShuffle is applied when an input reader does not set shuffle.
const DefaultShuffle = true

// Validate checks the settings every loader must enforce regardless of format.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("model is missing")
	}
	if m.Architecture == "" {
		return fmt.Errorf("model architecture is empty")
	}
	if m.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", m.NumClasses)
	}
	return nil
}

// Validate checks the train config.
func (t *TrainConfig) Validate() error {
	if t == nil {
		return fmt.Errorf("train_config is missing")
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", t.BatchSize)
	}
	if t.NumSteps < 0 {
		return fmt.Errorf("num_steps must be >= 0 (got %d)", t.NumSteps)
	}
	if t.SyncReplicas && t.ReplicasToAggregate <= 0 {
		return fmt.Errorf("replicas_to_aggregate must be > 0 when sync_replicas is set")
	}
	return nil
}

// Validate checks the input reader.
func (r *InputReader) Validate() error {
	if r == nil {
		return fmt.Errorf("train_input_reader is missing")
	}
	if len(r.InputPaths) == 0 {
		return fmt.Errorf("train_input_reader needs at least one input_path")
	}
	if r.NumEpochs < 0 {
		return fmt.Errorf("num_epochs must be >= 0 (got %d)", r.NumEpochs)
	}
	return nil
}

// Validate checks the graph rewriter. A nil rewriter is valid.
func (g *GraphRewriter) Validate() error {
	if g == nil || g.Quantization == nil {
		return nil
	}
	q := g.Quantization
	if q.Delay < 0 {
		return fmt.Errorf("quantization delay must be >= 0 (got %d)", q.Delay)
	}
	if q.WeightBits <= 0 || q.ActivationBits <= 0 {
		return fmt.Errorf("quantization bit widths must be > 0")
	}
	return nil
}

// Validate checks every part of the bundle.
func (b *Bundle) Validate() error {
	if err := b.Model.Validate(); err != nil {
		return err
	}
	if err := b.Train.Validate(); err != nil {
		return err
	}
	if err := b.TrainInput.Validate(); err != nil {
		return err
	}
	return b.GraphRewriter.Validate()
}
