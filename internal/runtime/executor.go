package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stratabuild/stratad/internal/cache"
	"github.com/stratabuild/stratad/internal/gate"
	"github.com/stratabuild/stratad/internal/pipeline"
)

const (

	// Shell used to run stage commands.
	defaultShell = "/bin/sh"

	// Prefix for containerd container IDs created by the executor.
	containerPrefix = "strata"

	// Well-known path where a test suite may drop a structured report.
	reportPath = "/run/strata/report.json"
)

// Executes build stages in containers managed by the runtime.
//
// Each stage gets a fresh container started from its base image archive.
// Artifacts from upstream stages are extracted into the container root
// before any commands run, and the stage's own filesystem changes are
// exported as its artifact afterwards. Containers are destroyed when the
// stage finishes, whatever the outcome.
type Executor struct {
	rt    *Runtime
	shell string
}

// Creates an executor backed by the given runtime.
func NewExecutor(rt *Runtime) *Executor {
	return &Executor{rt: rt, shell: defaultShell}
}

// Runs a stage to completion and exports its filesystem changes.
func (e *Executor) ExecStage(ctx context.Context, stage pipeline.Stage, inputs map[string]cache.Artifact, workDir string) (cache.Artifact, error) {
	c, err := e.startStage(ctx, stage, inputs)
	if err != nil {
		return cache.Artifact{}, err
	}
	defer c.Destroy(ctx)

	for _, cmd := range stage.Run {
		result, err := c.Exec(ctx, e.shell, cmd, nil, "")
		if err != nil {
			return cache.Artifact{}, err
		}
		if result.ExitCode != 0 {
			return cache.Artifact{}, fmt.Errorf("%w: %q exited with code %d: %s",
				ErrCommandFailed, cmd, result.ExitCode, strings.TrimSpace(result.Stderr))
		}
	}

	output := filepath.Join(workDir, stage.Name+".tar")
	desc, err := c.ExportLayer(ctx, output)
	if err != nil {
		return cache.Artifact{}, err
	}

	return cache.Artifact{
		Ref:        stage.Name,
		Descriptor: desc,
		Path:       output,
	}, nil
}

// Runs a stage's commands as a test suite and reports the verdict.
//
// Unlike [Executor.ExecStage], a failing command does not abort the stage:
// every command runs, failures are counted, and the combined output is
// captured for the report. No artifact is exported.
//
// A suite that knows its own results can write a JSON [gate.Report] to
// /run/strata/report.json inside the container; the directory exists
// before the first command runs. Its counts replace the per-command
// tally, except that a non-zero exit still fails the gate even if the
// file claims otherwise.
func (e *Executor) RunTests(ctx context.Context, stage pipeline.Stage, inputs map[string]cache.Artifact) (*gate.Report, error) {
	c, err := e.startStage(ctx, stage, inputs)
	if err != nil {
		return nil, err
	}
	defer c.Destroy(ctx)

	if err := c.MkdirAll(ctx, path.Dir(reportPath)); err != nil {
		return nil, err
	}

	failed := 0
	var output strings.Builder
	for _, cmd := range stage.Run {
		result, err := c.Exec(ctx, e.shell, cmd, nil, "")
		if err != nil {
			return nil, err
		}
		output.WriteString(result.Stdout)
		output.WriteString(result.Stderr)
		if result.ExitCode != 0 {
			failed++
		}
	}

	report := e.fetchReport(ctx, c)
	if report == nil {
		report = &gate.Report{Total: len(stage.Run), Failed: failed}
	} else if failed > 0 && report.Failed == 0 {
		report.Failed = failed
	}

	report.Passed = report.Failed == 0 && failed == 0
	report.Output = output.String()
	report.FinishedAt = time.Now()
	return report, nil
}

// Retrieves the structured report left by the suite, if there is one.
func (e *Executor) fetchReport(ctx context.Context, c *Container) *gate.Report {
	var buf bytes.Buffer
	if err := c.CopyFrom(ctx, &buf, reportPath); err != nil {
		// No file at the well-known path. The per-command tally stands.
		slog.Debug("no structured test report", "id", c.id, "error", err)
		return nil
	}
	report, ok := parseReportArchive(&buf)
	if !ok {
		slog.Warn("discarding malformed test report", "id", c.id)
		return nil
	}
	return report
}

// Extracts a [gate.Report] from a tar stream holding report.json.
func parseReportArchive(r io.Reader) (*gate.Report, bool) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err != nil {
			return nil, false
		}
		if path.Base(hdr.Name) != path.Base(reportPath) {
			continue
		}
		var report gate.Report
		if err := json.NewDecoder(tr).Decode(&report); err != nil {
			return nil, false
		}
		return &report, true
	}
}

// Starts a container for the stage and seeds it with upstream artifacts.
func (e *Executor) startStage(ctx context.Context, stage pipeline.Stage, inputs map[string]cache.Artifact) (*Container, error) {
	if stage.Image == "" {
		return nil, fmt.Errorf("%w: stage %q has no base image", ErrRuntime, stage.Name)
	}

	c, err := e.rt.StartContainer(ctx, stage.Image, containerID(stage.Name))
	if err != nil {
		return nil, err
	}

	if err := e.seedInputs(ctx, c, inputs); err != nil {
		c.Destroy(ctx)
		return nil, err
	}

	return c, nil
}

// Extracts upstream artifacts into the container root in stable order.
func (e *Executor) seedInputs(ctx context.Context, c *Container, inputs map[string]cache.Artifact) error {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, err := os.Open(inputs[name].Path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		err = c.CopyTo(ctx, f, "/")
		f.Close()
		if err != nil {
			return fmt.Errorf("seeding artifact %s: %w", name, err)
		}
	}
	return nil
}

// Produces a containerd-safe container ID for a stage.
//
// Containerd IDs are restricted to alphanumerics separated by single
// [._-] characters. Anything else in the stage name is folded to a dash.
func containerID(stage string) string {
	var b strings.Builder
	b.WriteString(containerPrefix)
	sep := true
	for _, r := range stage {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if sep {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			sep = false
		default:
			sep = true
		}
	}
	return b.String()
}
