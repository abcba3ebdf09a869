package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/odtrain/internal/ctxlog"
)

// Copy names used inside the training directory.
const (
	PipelineCopyName = "pipeline.config"
	ModelCopyName    = "model.config"
	TrainCopyName    = "train.config"
	InputCopyName    = "input.config"
)

// Paths selects the config sources. A non-empty Pipeline wins and the other
// three are ignored.
type Paths struct {
	Pipeline string
	Model    string
	Train    string
	Input    string
}

// Overrides captures CLI supplied values that replace loaded settings.
type Overrides struct {
	NumSteps int
}

// Resolver turns Paths into a Bundle using a Loader.
type Resolver struct {
	loader Loader
}

// NewResolver creates a Resolver backed by loader.
func NewResolver(loader Loader) *Resolver {
	return &Resolver{loader: loader}
}

// Resolve loads the bundle from either the combined pipeline file or the three
// separate files.
func (r *Resolver) Resolve(ctx context.Context, paths Paths) (*Bundle, error) {
	logger := ctxlog.FromContext(ctx)

	if paths.Pipeline != "" {
		logger.Debug("Loading combined pipeline config.", "path", paths.Pipeline)
		b, err := r.loader.LoadPipeline(ctx, paths.Pipeline)
		if err != nil {
			return nil, asLoadError(paths.Pipeline, err)
		}
		b.Sources = []Source{{Path: paths.Pipeline, CopyName: PipelineCopyName}}
		return b, nil
	}

	logger.Debug("Loading separate config files.", "model", paths.Model, "train", paths.Train, "input", paths.Input)
	for _, p := range []struct{ flag, path string }{
		{"model_config_path", paths.Model},
		{"train_config_path", paths.Train},
		{"input_config_path", paths.Input},
	} {
		if p.path == "" {
			return nil, &ConfigLoadError{Err: fmt.Errorf("%s is required when pipeline_config_path is empty", p.flag)}
		}
	}

	model, err := r.loader.LoadModel(ctx, paths.Model)
	if err != nil {
		return nil, asLoadError(paths.Model, err)
	}
	train, err := r.loader.LoadTrain(ctx, paths.Train)
	if err != nil {
		return nil, asLoadError(paths.Train, err)
	}
	input, err := r.loader.LoadInput(ctx, paths.Input)
	if err != nil {
		return nil, asLoadError(paths.Input, err)
	}

	return &Bundle{
		Model:      model,
		Train:      train,
		TrainInput: input,
		Sources: []Source{
			{Path: paths.Model, CopyName: ModelCopyName},
			{Path: paths.Train, CopyName: TrainCopyName},
			{Path: paths.Input, CopyName: InputCopyName},
		},
	}, nil
}

func asLoadError(path string, err error) error {
	var le *ConfigLoadError
	if errors.As(err, &le) {
		return err
	}
	return &ConfigLoadError{Path: path, Err: err}
}

// ApplyOverrides updates the bundle using any positive override. It reports
// whether anything changed.
func (b *Bundle) ApplyOverrides(o Overrides) bool {
	if o.NumSteps > 0 && b.Train != nil {
		b.Train.NumSteps = o.NumSteps
		return true
	}
	return false
}

// CopySources copies every source file verbatim into dir, overwriting
// existing copies.
func (b *Bundle) CopySources(dir string) error {
	for _, src := range b.Sources {
		if err := copyFile(src.Path, filepath.Join(dir, src.CopyName)); err != nil {
			return fmt.Errorf("copy config %s: %w", src.Path, err)
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
