package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/odtrain/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// WaitForTasks blocks until every address answers with its task description
// or timeout elapses. The socket.io client keeps reconnecting in between, so
// tasks that start late are picked up.
func WaitForTasks(ctx context.Context, addrs []string, timeout time.Duration) error {
	logger := ctxlog.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, addr := range addrs {
		start := time.Now()
		job, err := probe(ctx, addr)
		if err != nil {
			return err
		}
		logger.Info("Task is reachable.", "address", addr, "job", job, "waited", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// probe connects to one task and returns the job name it reports.
func probe(ctx context.Context, addr string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("address", addr)

	opts := socket.DefaultOptions()
	opts.SetPath("/socket.io/")
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager("http://"+addr, opts)
	io := manager.Socket("/", opts)
	defer io.Disconnect()

	ready := make(chan string, 1)
	io.Once(types.EventName(TaskEvent), func(data ...any) {
		job := ""
		if len(data) > 0 {
			if m, ok := data[0].(map[string]any); ok {
				job, _ = m["job"].(string)
			}
		}
		select {
		case ready <- job:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		logger.Debug("Task not reachable yet, retrying.", "error", errs)
	})

	io.Connect()

	select {
	case job := <-ready:
		return job, nil
	case <-ctx.Done():
		return "", fmt.Errorf("task at %s not reachable: %w", addr, ctx.Err())
	}
}
