package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vk/odtrain/internal/cluster"
	"github.com/vk/odtrain/internal/ctxlog"
	sio "github.com/zishang520/socket.io/v2/socket"
)

// Protocol is the value accepted in cluster.ServerSpec.Protocol.
const Protocol = "socketio"

// TaskEvent is emitted to every peer right after it connects.
const TaskEvent = "task"

const shutdownTimeout = 5 * time.Second

// Server is a socket.io endpoint bound to one task of the cluster.
type Server struct {
	spec   cluster.ServerSpec
	target string
	logger *slog.Logger

	io         *sio.Server
	httpServer *http.Server
	serveErr   chan error

	closeOnce sync.Once
	closeErr  error
}

// Start binds the task's port from the cluster spec and starts serving.
func Start(ctx context.Context, spec cluster.ServerSpec) (*Server, error) {
	if spec.Protocol != "" && spec.Protocol != Protocol {
		return nil, fmt.Errorf("unsupported server protocol %q", spec.Protocol)
	}
	addrs := spec.Cluster[spec.JobName]
	if spec.TaskIndex < 0 || spec.TaskIndex >= len(addrs) {
		return nil, fmt.Errorf("no address for %s/task:%d", spec.JobName, spec.TaskIndex)
	}
	host, port, err := net.SplitHostPort(addrs[spec.TaskIndex])
	if err != nil {
		return nil, fmt.Errorf("invalid address for %s/task:%d: %w", spec.JobName, spec.TaskIndex, err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %s: %w", port, err)
	}
	// Port 0 lets the OS choose; report what was actually bound.
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = strconv.Itoa(tcpAddr.Port)
	}

	logger := ctxlog.FromContext(ctx).With("job", spec.JobName, "task_index", spec.TaskIndex)
	s := &Server{
		spec:     spec,
		target:   "http://" + net.JoinHostPort(host, port),
		logger:   logger,
		io:       sio.NewServer(nil, nil),
		serveErr: make(chan error, 1),
	}
	s.io.On("connection", s.onConnection)

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", s.io.ServeHandler(nil))
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		logger.Info("Task server starting.", "target", s.target)
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()

	return s, nil
}

// StartServer adapts Start to cluster.StartFunc.
func StartServer(ctx context.Context, spec cluster.ServerSpec) (cluster.Server, error) {
	s, err := Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) onConnection(clients ...any) {
	if len(clients) == 0 {
		return
	}
	client, ok := clients[0].(*sio.Socket)
	if !ok {
		return
	}
	s.logger.Debug("Peer connected.", "sid", client.Id())
	client.Emit(TaskEvent, map[string]any{
		"job":     s.spec.JobName,
		"index":   s.spec.TaskIndex,
		"cluster": s.spec.Cluster,
	})
}

// Target returns the URL peers use to reach this task.
func (s *Server) Target() string {
	return s.target
}

// Join blocks until ctx is done, then shuts the server down. It returns early
// only if the server stops serving on its own.
func (s *Server) Join(ctx context.Context) error {
	s.logger.Info("Joining task server; waiting for termination.")
	select {
	case <-ctx.Done():
		s.logger.Info("Task server received termination.")
		return s.Close()
	case err := <-s.serveErr:
		if err != nil {
			return fmt.Errorf("task server stopped: %w", err)
		}
		return nil
	}
}

// Close stops the socket.io server and the HTTP listener.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing task server...")
		s.io.Close(nil)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Task server shutdown failed", "error", err)
			s.closeErr = err
			return
		}
		s.logger.Debug("Task server shut down gracefully.")
	})
	return s.closeErr
}
