package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/stratabuild/stratad/internal"
	"github.com/stratabuild/stratad/internal/manifest"
	"github.com/stratabuild/stratad/internal/pipeline"
	"github.com/stratabuild/stratad/internal/protocol"
)

// Handles a build command.
//
// Parses the manifest, plans the stage graph, and executes it against the
// container runtime. The response carries per-stage outcomes so the client
// can tell cached layers from rebuilt ones, and the test report path when
// a test stage ran.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	m, err := manifest.Parse(strings.NewReader(req.Manifest))
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	plan, err := s.planner.Plan(pipeline.Request{
		Manifest:   m,
		Scope:      req.Scope,
		Stages:     req.Stages,
		Output:     req.Output,
		Invalidate: req.Invalidate,
		Epoch:      req.Epoch,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	result, err := s.planner.Run(ctx, plan)

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	if err != nil {
		// The report path is forwarded on failure so a rejected test gate
		// stays diagnosable from the client side.
		errResult := &protocol.ErrorResult{Message: err.Error()}
		if result != nil {
			errResult.ReportPath = result.ReportPath
		}
		s.respond(conn, protocol.CmdError, errResult)
		return
	}

	response := &protocol.BuildResult{
		Fingerprint: plan.Fingerprint.Short(),
		Stages:      result.Stages,
		ReportPath:  result.ReportPath,
	}
	if result.Runtime != nil {
		response.Runtime = result.Runtime.Path
	}

	s.respond(conn, protocol.CmdOK, response)
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
