package hcl

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
)

const pipelineHCL = `
model "ssd" {
  num_classes       = 90
  feature_extractor = "ssd_mobilenet_v2"
  image_resizer     = { height = 300, width = 300 }
}

train_config {
  batch_size                = 24
  num_steps                 = 200000
  sync_replicas             = true
  replicas_to_aggregate     = 8
  fine_tune_checkpoint      = "${env.CKPT_DIR}/model.ckpt"
  data_augmentation_options = ["random_horizontal_flip", "ssd_random_crop"]

  optimizer "rms_prop" {
    learning_rate = 0.004
    momentum      = 0.9
    decay         = 0.9
  }
}

train_input_reader {
  label_map_path = "data/mscoco_label_map.pbtxt"
  input_path     = [format("%s/train.record", env.DATA_DIR)]
  num_readers    = 4
}

graph_rewriter {
  quantization {
    delay           = 48000
    weight_bits     = 8
    activation_bits = 8
  }
}

eval_config {
  num_examples = 8000
}
`

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPipeline(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := writeFile(t, "pipeline.config", pipelineHCL)
	loader := NewLoaderWithEnv([]string{"CKPT_DIR=/ckpt", "DATA_DIR=/data", "MALFORMED"})

	// --- Act ---
	b, err := loader.LoadPipeline(testContext(), path)

	// --- Assert ---
	require.NoError(t, err)

	assert.Equal(t, "ssd", b.Model.Architecture)
	assert.Equal(t, 90, b.Model.NumClasses)
	assert.True(t, b.Model.Params["feature_extractor"].RawEquals(cty.StringVal("ssd_mobilenet_v2")))
	resizer := b.Model.Params["image_resizer"]
	require.True(t, resizer.Type().IsObjectType())
	assert.True(t, resizer.GetAttr("height").Equals(cty.NumberIntVal(300)).True())

	wantTrain := &pipeline.TrainConfig{
		BatchSize:               24,
		NumSteps:                200000,
		SyncReplicas:            true,
		ReplicasToAggregate:     8,
		FineTuneCheckpoint:      "/ckpt/model.ckpt",
		DataAugmentationOptions: []string{"random_horizontal_flip", "ssd_random_crop"},
		Optimizer:               &pipeline.Optimizer{Kind: "rms_prop", LearningRate: 0.004, Momentum: 0.9, Decay: 0.9},
	}
	if diff := cmp.Diff(wantTrain, b.Train); diff != "" {
		t.Errorf("train config mismatch (-want +got):\n%s", diff)
	}

	wantInput := &pipeline.InputReader{
		LabelMapPath: "data/mscoco_label_map.pbtxt",
		InputPaths:   []string{"/data/train.record"},
		Shuffle:      true,
		NumReaders:   4,
	}
	if diff := cmp.Diff(wantInput, b.TrainInput); diff != "" {
		t.Errorf("input reader mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, b.GraphRewriter)
	assert.Equal(t, &pipeline.Quantization{Delay: 48000, WeightBits: 8, ActivationBits: 8}, b.GraphRewriter.Quantization)
}

func TestLoadPipeline_NoGraphRewriter(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "p.hcl", `
model "faster_rcnn" { num_classes = 3 }
train_config { batch_size = 1 }
train_input_reader {
  input_path = ["a.record"]
  shuffle    = false
}
`)
	b, err := NewLoaderWithEnv(nil).LoadPipeline(testContext(), path)
	require.NoError(t, err)
	assert.Nil(t, b.GraphRewriter)
	assert.False(t, b.TrainInput.Shuffle)
	assert.Empty(t, b.Model.Params)
}

func TestLoadPipeline_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "syntax error",
			content: `model "ssd" {`,
			wantErr: "failed to parse HCL",
		},
		{
			name:    "missing required attribute",
			content: `model "ssd" {}`,
			wantErr: "failed to decode HCL",
		},
		{
			name: "missing model block",
			content: `
train_config { batch_size = 1 }
train_input_reader { input_path = ["a"] }
`,
			wantErr: "no model block",
		},
		{
			name: "missing train config",
			content: `
model "ssd" { num_classes = 1 }
train_input_reader { input_path = ["a"] }
`,
			wantErr: "train_config is missing",
		},
		{
			name: "unknown env variable",
			content: `
model "ssd" {
  num_classes = 1
  root        = env.NOT_SET
}
train_config { batch_size = 1 }
train_input_reader { input_path = ["a"] }
`,
			wantErr: "parameter root",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, "pipeline.hcl", tc.content)
			_, err := NewLoaderWithEnv(nil).LoadPipeline(testContext(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadPipeline_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoaderWithEnv(nil).LoadPipeline(testContext(), filepath.Join(t.TempDir(), "missing.config"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadSeparateFiles(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	loader := NewLoaderWithEnv(nil)

	modelPath := writeFile(t, "model.config", `model "ssd" { num_classes = 2 }`)
	trainPath := writeFile(t, "train.config", `train_config {
  batch_size = 8
  num_steps  = 10
}`)
	inputPath := writeFile(t, "input.config", `train_input_reader { input_path = ["x.record", "y.record"] }`)

	m, err := loader.LoadModel(ctx, modelPath)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumClasses)

	tr, err := loader.LoadTrain(ctx, trainPath)
	require.NoError(t, err)
	assert.Equal(t, 10, tr.NumSteps)
	assert.Nil(t, tr.Optimizer)

	in, err := loader.LoadInput(ctx, inputPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.record", "y.record"}, in.InputPaths)

	// A model file does not satisfy the train loader.
	_, err = loader.LoadTrain(ctx, modelPath)
	assert.ErrorContains(t, err, "train_config is missing")
}
