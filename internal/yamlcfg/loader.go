// Package yamlcfg implements pipeline.Loader for YAML config files.
package yamlcfg

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

type pipelineFile struct {
	Model         *modelDoc         `yaml:"model"`
	Train         *trainDoc         `yaml:"train_config"`
	Input         *inputDoc         `yaml:"train_input_reader"`
	GraphRewriter *graphRewriterDoc `yaml:"graph_rewriter"`
}

type modelDoc struct {
	Architecture string         `yaml:"architecture"`
	NumClasses   int            `yaml:"num_classes"`
	Params       map[string]any `yaml:"params"`
}

type optimizerDoc struct {
	Kind         string  `yaml:"kind"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	Decay        float64 `yaml:"decay"`
}

type trainDoc struct {
	BatchSize                 int           `yaml:"batch_size"`
	NumSteps                  int           `yaml:"num_steps"`
	Optimizer                 *optimizerDoc `yaml:"optimizer"`
	FineTuneCheckpoint        string        `yaml:"fine_tune_checkpoint"`
	FineTuneCheckpointType    string        `yaml:"fine_tune_checkpoint_type"`
	SyncReplicas              bool          `yaml:"sync_replicas"`
	ReplicasToAggregate       int           `yaml:"replicas_to_aggregate"`
	StartupDelaySteps         int           `yaml:"startup_delay_steps"`
	KeepCheckpointEveryNHours float64       `yaml:"keep_checkpoint_every_n_hours"`
	GradientClippingByNorm    float64       `yaml:"gradient_clipping_by_norm"`
	DataAugmentationOptions   []string      `yaml:"data_augmentation_options"`
}

type inputDoc struct {
	LabelMapPath string   `yaml:"label_map_path"`
	InputPaths   []string `yaml:"input_path"`
	Shuffle      *bool    `yaml:"shuffle"`
	NumReaders   int      `yaml:"num_readers"`
	NumEpochs    int      `yaml:"num_epochs"`
}

type quantizationDoc struct {
	Delay          int `yaml:"delay"`
	WeightBits     int `yaml:"weight_bits"`
	ActivationBits int `yaml:"activation_bits"`
}

type graphRewriterDoc struct {
	Quantization *quantizationDoc `yaml:"quantization"`
}

// Loader reads YAML config files.
type Loader struct{}

// NewLoader creates a YAML loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadPipeline implements pipeline.Loader.
func (l *Loader) LoadPipeline(ctx context.Context, path string) (*pipeline.Bundle, error) {
	doc, err := decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	model, err := doc.Model.translate()
	if err != nil {
		return nil, err
	}
	b := &pipeline.Bundle{
		Model:         model,
		Train:         doc.Train.translate(),
		TrainInput:    doc.Input.translate(),
		GraphRewriter: doc.GraphRewriter.translate(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadModel implements pipeline.Loader.
func (l *Loader) LoadModel(ctx context.Context, path string) (*pipeline.Model, error) {
	doc, err := decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	m, err := doc.Model.translate()
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadTrain implements pipeline.Loader.
func (l *Loader) LoadTrain(ctx context.Context, path string) (*pipeline.TrainConfig, error) {
	doc, err := decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	t := doc.Train.translate()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadInput implements pipeline.Loader.
func (l *Loader) LoadInput(ctx context.Context, path string) (*pipeline.InputReader, error) {
	doc, err := decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	r := doc.Input.translate()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeFile(ctx context.Context, path string) (*pipelineFile, error) {
	ctxlog.FromContext(ctx).Debug("Parsing YAML config file.", "path", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc pipelineFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return &doc, nil
}

func (d *modelDoc) translate() (*pipeline.Model, error) {
	if d == nil {
		return nil, fmt.Errorf("no model section found")
	}
	m := &pipeline.Model{
		Architecture: d.Architecture,
		NumClasses:   d.NumClasses,
		Params:       make(map[string]cty.Value, len(d.Params)),
	}
	for name, raw := range d.Params {
		v, err := toCty(raw)
		if err != nil {
			return nil, fmt.Errorf("model %q parameter %s: %w", d.Architecture, name, err)
		}
		m.Params[name] = v
	}
	return m, nil
}

func (d *trainDoc) translate() *pipeline.TrainConfig {
	if d == nil {
		return nil
	}
	t := &pipeline.TrainConfig{
		BatchSize:                 d.BatchSize,
		NumSteps:                  d.NumSteps,
		FineTuneCheckpoint:        d.FineTuneCheckpoint,
		FineTuneCheckpointType:    d.FineTuneCheckpointType,
		SyncReplicas:              d.SyncReplicas,
		ReplicasToAggregate:       d.ReplicasToAggregate,
		StartupDelaySteps:         d.StartupDelaySteps,
		KeepCheckpointEveryNHours: d.KeepCheckpointEveryNHours,
		GradientClippingByNorm:    d.GradientClippingByNorm,
		DataAugmentationOptions:   d.DataAugmentationOptions,
	}
	if o := d.Optimizer; o != nil {
		t.Optimizer = &pipeline.Optimizer{
			Kind:         o.Kind,
			LearningRate: o.LearningRate,
			Momentum:     o.Momentum,
			Decay:        o.Decay,
		}
	}
	return t
}

func (d *inputDoc) translate() *pipeline.InputReader {
	if d == nil {
		return nil
	}
	r := &pipeline.InputReader{
		LabelMapPath: d.LabelMapPath,
		InputPaths:   d.InputPaths,
		Shuffle:      pipeline.DefaultShuffle,
		NumReaders:   d.NumReaders,
		NumEpochs:    d.NumEpochs,
	}
	if d.Shuffle != nil {
		r.Shuffle = *d.Shuffle
	}
	return r
}

func (d *graphRewriterDoc) translate() *pipeline.GraphRewriter {
	if d == nil {
		return nil
	}
	g := &pipeline.GraphRewriter{}
	if q := d.Quantization; q != nil {
		g.Quantization = &pipeline.Quantization{
			Delay:          q.Delay,
			WeightBits:     q.WeightBits,
			ActivationBits: q.ActivationBits,
		}
	}
	return g
}
