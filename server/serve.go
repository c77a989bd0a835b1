package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumenml/lumen/envconfig"
	"github.com/lumenml/lumen/logutil"
	"github.com/lumenml/lumen/ml"
	_ "github.com/lumenml/lumen/ml/backend/cpu"
	"github.com/lumenml/lumen/version"
)

// Serve runs the HTTP server on ln until SIGINT or SIGTERM.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	backend, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: envconfig.Threads()})
	if err != nil {
		return err
	}
	defer backend.Close()

	s := NewServer(ln.Addr(), backend)
	srv := &http.Server{Handler: s.GenerateRoutes()}

	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", ln.Addr(), "version", version.Version)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Close()
	}
}
