package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/hcl"
	"github.com/vk/odtrain/internal/hostinfo"
	"github.com/vk/odtrain/internal/notify"
	"github.com/vk/odtrain/internal/pipeline"
	"github.com/vk/odtrain/internal/trainer"
	"github.com/vk/odtrain/internal/transport"
	"github.com/vk/odtrain/internal/yamlcfg"
)

// Notifier delivers the run outcome.
type Notifier interface {
	Send(message string) error
}

// TaskProbe waits until the given task addresses are reachable.
type TaskProbe func(ctx context.Context, addrs []string, timeout time.Duration) error

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	loader      pipeline.Loader
	trainer     trainer.Trainer
	startServer cluster.StartFunc
	probeTasks  TaskProbe
	getenv      func(string) string
	host        hostinfo.Info
	notifier    Notifier

	phase      atomic.Value
	httpServer *http.Server
}

// Option customises an App. Tests use options to replace the external
// collaborators.
type Option func(*App)

// WithLoader replaces the extension-dispatching HCL/YAML config loader.
func WithLoader(l pipeline.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithTrainer replaces the external trainer process.
func WithTrainer(t trainer.Trainer) Option {
	return func(a *App) { a.trainer = t }
}

// WithServerStarter replaces the socket.io task server.
func WithServerStarter(start cluster.StartFunc) Option {
	return func(a *App) { a.startServer = start }
}

// WithTaskProbe replaces the parameter-server readiness probe.
func WithTaskProbe(p TaskProbe) Option {
	return func(a *App) { a.probeTasks = p }
}

// WithGetenv replaces os.Getenv for reading the cluster descriptor.
func WithGetenv(getenv func(string) string) Option {
	return func(a *App) { a.getenv = getenv }
}

// WithHostInfo replaces the probed CPU description.
func WithHostInfo(info hostinfo.Info) Option {
	return func(a *App) { a.host = info }
}

// WithNotifier replaces the notifier built from Config.NotifyURL.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	yamlLoader := yamlcfg.NewLoader()
	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		loader: &pipeline.ExtensionLoader{
			Default: hcl.NewLoader(),
			ByExt:   map[string]pipeline.Loader{".yaml": yamlLoader, ".yml": yamlLoader},
		},
		trainer: &trainer.ExecTrainer{
			Path:   cfg.TrainerBin,
			Args:   cfg.TrainerArgs,
			Stdout: outW,
			Stderr: os.Stderr,
		},
		startServer: transport.StartServer,
		probeTasks:  transport.WaitForTasks,
		getenv:      os.Getenv,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setPhase(phaseStarting)

	if a.notifier == nil && cfg.NotifyURL != "" {
		n, err := notify.New(cfg.NotifyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid notify_url: %w", err)
		}
		a.notifier = n
	}
	if a.host == (hostinfo.Info{}) {
		a.host = hostinfo.Probe()
	}
	logger.Debug("Host inspected.", "cpu", a.host.Brand, "logical_cores", a.host.LogicalCores, "bf16", a.host.BF16, "fp16", a.host.FP16)

	return a, nil
}
