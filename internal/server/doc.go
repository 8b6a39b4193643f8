// Package server implements the stratad daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from build clients. Each connection carries a single request-response
// exchange: the client sends a newline-delimited JSON envelope, the
// server dispatches the command, and writes the result back before
// closing the connection.
//
// Supported commands are building (planned and executed by the pipeline
// package against the local layer cache and the containerd runtime),
// querying daemon status, and initiating shutdown. A Prometheus endpoint
// can optionally be exposed over TCP for build and cache metrics.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    ContainerdAddress:   "/run/containerd/containerd.sock",
//	    ContainerdNamespace: "stratad",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
