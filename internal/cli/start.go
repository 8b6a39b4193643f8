package cli

import (
	"context"
	"log/slog"

	"github.com/stratabuild/stratad/internal/server"
)

// Represents the 'stratad start' command.
type StartCmd struct {
	ContainerdAddress   string `help:"Containerd socket address." placeholder:"PATH"`
	ContainerdNamespace string `help:"Containerd namespace for images and containers." placeholder:"NAME"`
	CacheDir            string `help:"Directory for the local layer cache." placeholder:"DIR"`
	MetricsAddr         string `help:"TCP address for the Prometheus endpoint (e.g. :9105)." placeholder:"ADDR"`
	Workers             int    `help:"Concurrent stage limit per build."`
}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command arrives over
// the socket.
func (c *StartCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath:          RootCmd.Socket,
		ContainerdAddress:   c.ContainerdAddress,
		ContainerdNamespace: c.ContainerdNamespace,
		CacheDir:            c.CacheDir,
		MetricsAddr:         c.MetricsAddr,
		Workers:             c.Workers,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("stratad is running")

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Stop()
	case <-stopped:
		// Shutdown was requested over the socket; the server has already
		// cleaned up after itself.
		return nil
	}
}
