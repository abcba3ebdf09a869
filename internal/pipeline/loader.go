package pipeline

import (
	"context"
	"path/filepath"
	"strings"
)

// Loader is the interface for a format-specific configuration loader. Each
// method reads exactly one file.
type Loader interface {
	// LoadPipeline reads a combined pipeline file holding the model, the train
	// config, the train input reader and optionally a graph rewriter.
	LoadPipeline(ctx context.Context, path string) (*Bundle, error)
	LoadModel(ctx context.Context, path string) (*Model, error)
	LoadTrain(ctx context.Context, path string) (*TrainConfig, error)
	LoadInput(ctx context.Context, path string) (*InputReader, error)
}

// ExtensionLoader dispatches to a Loader chosen by file extension. Paths whose
// extension has no entry in ByExt use Default.
type ExtensionLoader struct {
	Default Loader
	ByExt   map[string]Loader
}

func (e *ExtensionLoader) pick(path string) Loader {
	ext := strings.ToLower(filepath.Ext(path))
	if l, ok := e.ByExt[ext]; ok {
		return l
	}
	return e.Default
}

// LoadPipeline implements Loader.
func (e *ExtensionLoader) LoadPipeline(ctx context.Context, path string) (*Bundle, error) {
	return e.pick(path).LoadPipeline(ctx, path)
}

// LoadModel implements Loader.
func (e *ExtensionLoader) LoadModel(ctx context.Context, path string) (*Model, error) {
	return e.pick(path).LoadModel(ctx, path)
}

// LoadTrain implements Loader.
func (e *ExtensionLoader) LoadTrain(ctx context.Context, path string) (*TrainConfig, error) {
	return e.pick(path).LoadTrain(ctx, path)
}

// LoadInput implements Loader.
func (e *ExtensionLoader) LoadInput(ctx context.Context, path string) (*InputReader, error) {
	return e.pick(path).LoadInput(ctx, path)
}
