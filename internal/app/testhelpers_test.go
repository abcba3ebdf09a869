package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/vk/odtrain/internal/hostinfo"
	"github.com/vk/odtrain/internal/trainer"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

const testPipeline = `
model "ssd" {
  num_classes = 90
}

train_config {
  batch_size = 24
  num_steps  = 200000
}

train_input_reader {
  input_path = ["train.record"]
}
`

// writePipeline writes a minimal valid pipeline file and returns its path.
func writePipeline(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssd.config")
	require.NoError(t, os.WriteFile(path, []byte(testPipeline), 0o600))
	return path
}

// testConfig returns a valid config training into a fresh temp dir.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TrainDir = filepath.Join(t.TempDir(), "train")
	cfg.Configs.Pipeline = writePipeline(t)
	return cfg
}

// setupAppTest creates a new app instance with a fixed host, an empty
// environment and debug logging.
func setupAppTest(t *testing.T, cfg Config, opts ...Option) (*App, *SafeBuffer) {
	t.Helper()

	cfg.LogLevel = "debug"
	validated, err := NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	base := []Option{
		WithGetenv(func(string) string { return "" }),
		WithHostInfo(hostinfo.Info{Brand: "test", LogicalCores: 8, PhysicalCores: 4}),
	}
	testApp, err := NewApp(logBuffer, validated, append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("ODTRAIN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}

func contextWithLogger(a *App) context.Context {
	return ctxlog.WithLogger(context.Background(), a.logger)
}

// withTFConfig sets the cluster descriptor seen by the app.
func withTFConfig(raw string) Option {
	return WithGetenv(func(key string) string {
		if key == cluster.EnvVar {
			return raw
		}
		return ""
	})
}

// recordingTrainer captures the jobs it receives.
type recordingTrainer struct {
	mu   sync.Mutex
	jobs []*trainer.Job
	err  error
}

func (r *recordingTrainer) Train(_ context.Context, job *trainer.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func (r *recordingTrainer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// fakeServer stands in for the socket.io task server.
type fakeServer struct {
	target string
	spec   cluster.ServerSpec
	joined bool
	closed bool
}

func (f *fakeServer) Target() string { return f.target }

func (f *fakeServer) Join(ctx context.Context) error {
	f.joined = true
	<-ctx.Done()
	return nil
}

func (f *fakeServer) Close() error {
	f.closed = true
	return nil
}

func (f *fakeServer) start(_ context.Context, spec cluster.ServerSpec) (cluster.Server, error) {
	f.spec = spec
	return f, nil
}

type recordingProbe struct {
	addrs   []string
	timeout time.Duration
}

func (p *recordingProbe) probe(_ context.Context, addrs []string, timeout time.Duration) error {
	p.addrs = addrs
	p.timeout = timeout
	return nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Send(message string) error {
	n.messages = append(n.messages, message)
	return nil
}
