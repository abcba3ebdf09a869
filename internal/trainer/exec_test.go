package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeTrainerScript writes a shell script that stores its stdin in the file
// given as $1 and exits with status $2.
func fakeTrainerScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script trainer needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "trainer.sh")
	script := "#!/bin/sh\ncat > \"$1\"\nexit \"$2\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func sampleJob() *Job {
	b := &pipeline.Bundle{
		Model: &pipeline.Model{
			Architecture: "ssd",
			NumClasses:   90,
			Params:       map[string]cty.Value{"depth_multiplier": cty.NumberFloatVal(1.0)},
		},
		Train:         &pipeline.TrainConfig{BatchSize: 24, NumSteps: 500},
		TrainInput:    &pipeline.InputReader{InputPaths: []string{"a.record"}, Shuffle: true},
		GraphRewriter: &pipeline.GraphRewriter{Quantization: &pipeline.Quantization{Delay: 10, WeightBits: 8, ActivationBits: 8}},
	}
	return NewJob("/tmp/train", b, cluster.SingleProcess(), Options{
		NumClones:            1,
		MaxCheckpointsToKeep: 1,
		SaveInterval:         600 * time.Second,
		AllowMemoryGrowth:    true,
		CPUThreads:           4,
	})
}

func TestJobMarshalJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(sampleJob())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "/tmp/train", got["train_dir"])
	model := got["model"].(map[string]any)
	assert.Equal(t, "ssd", model["architecture"])
	assert.Equal(t, 1.0, model["params"].(map[string]any)["depth_multiplier"])
	assert.Equal(t, 500.0, got["train_config"].(map[string]any)["num_steps"])

	role := got["role"].(map[string]any)
	assert.Equal(t, "lonely_worker", role["worker_job_name"])
	assert.Equal(t, true, role["is_chief"])

	opts := got["options"].(map[string]any)
	assert.Equal(t, 600.0, opts["save_interval_secs"])
	assert.Equal(t, false, opts["enable_mixed_precision"])

	q := got["graph_rewriter_config"].(map[string]any)["quantization"].(map[string]any)
	assert.Equal(t, 10.0, q["delay"])
}

func TestJobMarshalJSON_OmitsMissingRewriter(t *testing.T) {
	t.Parallel()

	job := sampleJob()
	job.GraphRewriter = nil
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "graph_rewriter_config")
}

func TestExecTrainer_PassesJobOnStdin(t *testing.T) {
	t.Parallel()

	script := fakeTrainerScript(t)
	out := filepath.Join(t.TempDir(), "job.json")
	tr := &ExecTrainer{Path: script, Args: []string{out, "0"}, Stdout: io.Discard, Stderr: io.Discard}

	require.NoError(t, tr.Train(testContext(), sampleJob()))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "/tmp/train", got["train_dir"])
}

func TestExecTrainer_NonZeroExitIsRuntimeError(t *testing.T) {
	t.Parallel()

	script := fakeTrainerScript(t)
	out := filepath.Join(t.TempDir(), "job.json")
	tr := &ExecTrainer{Path: script, Args: []string{out, "3"}, Stdout: io.Discard, Stderr: io.Discard}

	err := tr.Train(testContext(), sampleJob())

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.ExitCode)
	assert.Contains(t, err.Error(), "status 3")
}

func TestExecTrainer_MissingBinaryIsNotRuntimeError(t *testing.T) {
	t.Parallel()

	tr := &ExecTrainer{Path: filepath.Join(t.TempDir(), "does-not-exist")}

	err := tr.Train(testContext(), sampleJob())

	require.Error(t, err)
	var re *RuntimeError
	assert.False(t, errors.As(err, &re))
	assert.Contains(t, err.Error(), "start trainer")
}

func TestExecTrainer_CancelSendsSIGTERM(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("needs POSIX signals")
	}

	// --- Arrange ---
	dir := t.TempDir()
	script := filepath.Join(dir, "trainer.sh")
	started := filepath.Join(dir, "started")
	stopped := filepath.Join(dir, "stopped")
	body := "#!/bin/sh\n" +
		"trap 'echo checkpoint > \"$2\"; exit 0' TERM\n" +
		"touch \"$1\"\n" +
		"while :; do sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	tr := &ExecTrainer{Path: script, Args: []string{started, stopped}, GracePeriod: 5 * time.Second}

	ctx, cancel := context.WithCancel(testContext())
	done := make(chan error, 1)

	// --- Act ---
	go func() { done <- tr.Train(ctx, sampleJob()) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(started)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	// --- Assert ---
	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("trainer did not stop after cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "trainer interrupted")
	got, readErr := os.ReadFile(stopped)
	require.NoError(t, readErr, "the trainer should get to run its TERM handler")
	assert.Equal(t, "checkpoint\n", string(got))
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var seen *Job
	var tr Trainer = Func(func(_ context.Context, job *Job) error {
		seen = job
		return nil
	})
	job := sampleJob()
	require.NoError(t, tr.Train(testContext(), job))
	assert.Same(t, job, seen)
}
