package hcl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Loader is the HCL-specific implementation of the pipeline.Loader interface.
type Loader struct {
	environ func() []string
}

// NewLoader creates a loader whose `env` variable reflects the process
// environment at load time.
func NewLoader() *Loader {
	return &Loader{environ: os.Environ}
}

// NewLoaderWithEnv creates a loader with a fixed environment in KEY=VALUE form.
func NewLoaderWithEnv(environ []string) *Loader {
	return &Loader{environ: func() []string { return environ }}
}

// LoadPipeline implements pipeline.Loader.
func (l *Loader) LoadPipeline(ctx context.Context, path string) (*pipeline.Bundle, error) {
	root, evalCtx, err := l.decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}

	b := &pipeline.Bundle{
		Train:         translateTrain(root.Train),
		TrainInput:    translateInput(root.Input),
		GraphRewriter: translateGraphRewriter(root.GraphRewriter),
	}
	if b.Model, err = translateModel(root.Model, evalCtx); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadModel implements pipeline.Loader.
func (l *Loader) LoadModel(ctx context.Context, path string) (*pipeline.Model, error) {
	root, evalCtx, err := l.decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	m, err := translateModel(root.Model, evalCtx)
	if err != nil {
		return nil, err
	}
	return m, m.Validate()
}

// LoadTrain implements pipeline.Loader.
func (l *Loader) LoadTrain(ctx context.Context, path string) (*pipeline.TrainConfig, error) {
	root, _, err := l.decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	t := translateTrain(root.Train)
	return t, t.Validate()
}

// LoadInput implements pipeline.Loader.
func (l *Loader) LoadInput(ctx context.Context, path string) (*pipeline.InputReader, error) {
	root, _, err := l.decodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	r := translateInput(root.Input)
	return r, r.Validate()
}

// decodeFile parses and decodes a single file against the shared schema.
func (l *Loader) decodeFile(ctx context.Context, path string) (*pipelineFile, *hcl.EvalContext, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Parsing HCL config file.", "path", path)

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	evalCtx := l.evalContext()
	var root pipelineFile
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &root); diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}
	logger.Debug("HCL config file decoded.",
		"path", path,
		"model", root.Model != nil,
		"train_config", root.Train != nil,
		"train_input_reader", root.Input != nil,
		"graph_rewriter", root.GraphRewriter != nil,
	)
	return &root, evalCtx, nil
}

// evalContext exposes the environment as `env` plus a small set of string
// and numeric functions.
func (l *Loader) evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"concat": stdlib.ConcatFunc,
			"min":    stdlib.MinFunc,
			"max":    stdlib.MaxFunc,
		},
	}
}

var errNoModel = errors.New("no model block found")

func translateModel(b *modelBlock, evalCtx *hcl.EvalContext) (*pipeline.Model, error) {
	if b == nil {
		return nil, errNoModel
	}
	m := &pipeline.Model{
		Architecture: b.Architecture,
		NumClasses:   b.NumClasses,
		Params:       make(map[string]cty.Value),
	}
	if b.Params == nil {
		return m, nil
	}
	attrs, diags := b.Params.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("model %q: %w", b.Architecture, diags)
	}
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("model %q parameter %s: %w", b.Architecture, name, diags)
		}
		m.Params[name] = val
	}
	return m, nil
}

func translateTrain(b *trainBlock) *pipeline.TrainConfig {
	if b == nil {
		return nil
	}
	t := &pipeline.TrainConfig{
		BatchSize:                 b.BatchSize,
		NumSteps:                  b.NumSteps,
		FineTuneCheckpoint:        b.FineTuneCheckpoint,
		FineTuneCheckpointType:    b.FineTuneCheckpointType,
		SyncReplicas:              b.SyncReplicas,
		ReplicasToAggregate:       b.ReplicasToAggregate,
		StartupDelaySteps:         b.StartupDelaySteps,
		KeepCheckpointEveryNHours: b.KeepCheckpointEveryNHours,
		GradientClippingByNorm:    b.GradientClippingByNorm,
		DataAugmentationOptions:   b.DataAugmentationOptions,
	}
	if b.Optimizer != nil {
		t.Optimizer = &pipeline.Optimizer{
			Kind:         b.Optimizer.Kind,
			LearningRate: b.Optimizer.LearningRate,
			Momentum:     b.Optimizer.Momentum,
			Decay:        b.Optimizer.Decay,
		}
	}
	return t
}

func translateInput(b *inputBlock) *pipeline.InputReader {
	if b == nil {
		return nil
	}
	r := &pipeline.InputReader{
		LabelMapPath: b.LabelMapPath,
		InputPaths:   b.InputPaths,
		Shuffle:      pipeline.DefaultShuffle,
		NumReaders:   b.NumReaders,
		NumEpochs:    b.NumEpochs,
	}
	if b.Shuffle != nil {
		r.Shuffle = *b.Shuffle
	}
	return r
}

func translateGraphRewriter(b *graphRewriterBlock) *pipeline.GraphRewriter {
	if b == nil {
		return nil
	}
	g := &pipeline.GraphRewriter{}
	if q := b.Quantization; q != nil {
		g.Quantization = &pipeline.Quantization{
			Delay:          q.Delay,
			WeightBits:     q.WeightBits,
			ActivationBits: q.ActivationBits,
		}
	}
	return g
}
