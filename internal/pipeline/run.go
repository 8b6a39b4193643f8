package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stratabuild/stratad/internal/assemble"
	"github.com/stratabuild/stratad/internal/cache"
	"github.com/stratabuild/stratad/internal/gate"
	"github.com/stratabuild/stratad/internal/graph"
	"github.com/stratabuild/stratad/internal/metrics"
	"github.com/stratabuild/stratad/internal/paths"
)

// Plans and runs builds against a cache store and a stage executor.
type Planner struct {
	Store    cache.Store   // Layer cache for dependency-stage artifacts.
	Executor StageExecutor // Backend that actually runs stages.
	Workers  int           // Concurrent stage workers. Zero selects the default.
}

// Creates a planner over the given store and executor.
func New(store cache.Store, exec StageExecutor) *Planner {
	return &Planner{Store: store, Executor: exec}
}

// The outcome of one build invocation.
type Result struct {
	Runtime    *cache.Artifact // Assembled runtime artifact; nil when the build did not complete.
	Stages     []StageResult   // Per-stage outcomes in plan order.
	Report     *gate.Report    // Test report, when the test stage ran.
	ReportPath string          // Side-channel path of the written report.
}

// Shared mutable state of one build run.
type runState struct {
	mu         sync.Mutex
	artifacts  map[string]cache.Artifact
	statuses   map[string]Status
	report     *gate.Report
	reportPath string
	runtime    *cache.Artifact
}

func (s *runState) setArtifact(name string, a cache.Artifact, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[name] = a
	s.statuses[name] = status
}

// Returns the artifacts of the named stages.
func (s *runState) inputs(names []string) map[string]cache.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]cache.Artifact, len(names))
	for _, name := range names {
		if a, ok := s.artifacts[name]; ok {
			out[name] = a
		}
	}
	return out
}

// Executes a plan.
//
// Stages run in topological order, independent stages concurrently. The
// result is returned even when the build fails, so callers can inspect
// per-stage outcomes and retrieve the test report of a gated build; the
// error carries the root cause with its kind intact for [errors.Is].
// Cache entries published by stages that succeeded before an abort are
// preserved.
func (p *Planner) Run(ctx context.Context, plan *Plan) (*Result, error) {
	req := plan.Request

	if req.Output == "" {
		return nil, fmt.Errorf("%w: no output directory", ErrInvalidRequest)
	}
	if err := os.MkdirAll(req.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStageFailed, err)
	}

	buildID := req.BuildID
	if buildID == "" {
		buildID = fmt.Sprintf("%s-%d", plan.Fingerprint.Short(), time.Now().UnixNano())
	}
	reportDir := req.ReportDir
	if reportDir == "" {
		reportDir = paths.Reports()
	}

	slog.Info("starting build",
		"build", buildID,
		"scope", req.Scope,
		"fingerprint", plan.Fingerprint,
		"stages", len(req.Stages),
	)
	metrics.BuildsTotal.Inc()

	state := &runState{
		artifacts: make(map[string]cache.Artifact),
		statuses:  make(map[string]Status),
	}

	nodeErrs, execErr := graph.NewExecutor(p.Workers).Run(ctx, plan.graph, func(ctx context.Context, name string) error {
		return p.runStage(ctx, plan, state, buildID, reportDir, name)
	})

	result := &Result{
		Runtime:    state.runtime,
		Report:     state.report,
		ReportPath: state.reportPath,
		Stages:     collectResults(plan, state, nodeErrs),
	}

	if execErr != nil {
		metrics.BuildFailuresTotal.WithLabelValues(failureKind(execErr)).Inc()
		slog.Error("build failed", "build", buildID, "error", execErr)
		return result, execErr
	}

	runtimeRef := ""
	if result.Runtime != nil {
		runtimeRef = result.Runtime.Ref
	}
	slog.Info("build complete", "build", buildID, "runtime", runtimeRef)
	return result, nil
}

// Dispatches a single stage by kind and records its duration.
func (p *Planner) runStage(ctx context.Context, plan *Plan, state *runState, buildID, reportDir, name string) error {
	stage := plan.Stage(name)
	inputs := state.inputs(plan.graph.Dependencies(name))
	start := time.Now()

	var err error
	switch stage.Kind {
	case KindDependency:
		err = p.runDependency(ctx, plan, state, stage)
	case KindApplication:
		err = p.runApplication(ctx, plan, state, stage, inputs)
	case KindTest:
		err = p.runTest(ctx, state, stage, inputs, buildID, reportDir)
	case KindAssembly:
		err = p.runAssembly(ctx, plan, state, stage, inputs)
	}

	if err != nil {
		return fmt.Errorf("%w: stage %q: %w", ErrStageFailed, name, err)
	}

	metrics.StageDuration.WithLabelValues(string(stage.Kind)).Observe(time.Since(start).Seconds())
	return nil
}

// Runs a cacheable dependency stage.
//
// Each stage is keyed by its own derived fingerprint, never the bare
// build fingerprint: plans may carry several dependency stages, and a
// shared key would either corrupt on concurrent publish or silently
// serve one stage's artifact to another. The cache is consulted first
// unless the request carries an explicit invalidation. A store that
// cannot be reached fails the stage — an unreachable registry must
// never be treated as a miss, or every network blip would trigger a
// rebuild and a later conflicting publish.
func (p *Planner) runDependency(ctx context.Context, plan *Plan, state *runState, stage Stage) error {
	fp := plan.StageKey(stage.Name)
	scope := plan.Request.Scope

	if !plan.Request.Invalidate {
		ok, err := p.Store.Exists(ctx, fp)
		if err != nil {
			return err
		}
		if ok {
			artifact, err := p.Store.Fetch(ctx, fp, plan.Request.Output)
			switch {
			case err == nil:
				slog.Info("dependency layer cached", "stage", stage.Name, "fingerprint", fp)
				metrics.CacheHitsTotal.WithLabelValues(scope).Inc()
				state.setArtifact(stage.Name, artifact, StatusCached)
				return nil
			case errors.Is(err, cache.ErrNotFound):
				// Entry vanished between Exists and Fetch (external GC);
				// fall through to a fresh build.
			default:
				return err
			}
		}
	}

	metrics.CacheMissesTotal.WithLabelValues(scope).Inc()
	slog.Info("building dependency layer", "stage", stage.Name, "fingerprint", fp, "invalidate", plan.Request.Invalidate)

	artifact, err := p.Executor.ExecStage(ctx, stage, nil, plan.Request.Output)
	if err != nil {
		return err
	}

	entry, err := p.Store.Publish(ctx, fp, artifact.Path)
	if err != nil {
		return err
	}

	published := entry.Artifact
	published.Path = artifact.Path
	state.setArtifact(stage.Name, published, StatusExecuted)
	return nil
}

// Runs an always-execute application stage.
func (p *Planner) runApplication(ctx context.Context, plan *Plan, state *runState, stage Stage, inputs map[string]cache.Artifact) error {
	slog.Info("building application layer", "stage", stage.Name)

	artifact, err := p.Executor.ExecStage(ctx, stage, inputs, plan.Request.Output)
	if err != nil {
		return err
	}

	state.setArtifact(stage.Name, artifact, StatusExecuted)
	return nil
}

// Runs the test stage and writes its report to the side channel.
//
// The report is written before the gate verdict is returned, pass or
// fail, so external consumers can always retrieve it — on failure the
// main artifact path never materializes, and the side channel is the
// only way out for diagnostics.
func (p *Planner) runTest(ctx context.Context, state *runState, stage Stage, inputs map[string]cache.Artifact, buildID, reportDir string) error {
	slog.Info("running test gate", "stage", stage.Name)

	report, err := p.Executor.RunTests(ctx, stage, inputs)
	if err != nil {
		return err
	}
	report.Stage = stage.Name

	path, werr := gate.Write(reportDir, buildID, report)
	if werr != nil {
		slog.Warn("failed to write test report", "build", buildID, "error", werr)
	}

	state.mu.Lock()
	state.report = report
	state.reportPath = path
	state.statuses[stage.Name] = StatusExecuted
	state.mu.Unlock()

	if err := report.Gate(); err != nil {
		slog.Error("test gate failed", "stage", stage.Name, "failed", report.Failed, "total", report.Total, "report", path)
		return err
	}

	slog.Info("test gate passed", "stage", stage.Name, "total", report.Total, "report", path)
	return nil
}

// Runs the assembly stage behind the test gate.
//
// The gate check here is structural belt-and-braces: the DAG guarantees
// the test stage completed successfully before assembly starts, and
// assemble re-verifies the report it is handed.
func (p *Planner) runAssembly(ctx context.Context, plan *Plan, state *runState, stage Stage, inputs map[string]cache.Artifact) error {
	state.mu.Lock()
	report := state.report
	state.mu.Unlock()

	// Copy sources may reach past direct graph dependencies (e.g. the
	// dependency layer), so resolve the full copy-set explicitly.
	froms := make([]string, 0, len(stage.CopySet))
	for _, c := range stage.CopySet {
		froms = append(froms, c.From)
	}
	for name, a := range state.inputs(froms) {
		inputs[name] = a
	}

	output := filepath.Join(plan.Request.Output, stage.Name+".tar")
	artifact, err := assemble.Assemble(ctx, inputs, stage.CopySet, report, output)
	if err != nil {
		return err
	}

	state.mu.Lock()
	state.runtime = &artifact
	state.statuses[stage.Name] = StatusExecuted
	state.artifacts[stage.Name] = artifact
	state.mu.Unlock()

	slog.Info("runtime artifact assembled", "stage", stage.Name, "ref", artifact.Ref, "digest", artifact.Digest())
	return nil
}

// Builds the per-stage result list in plan order from executor errors
// and recorded statuses.
func collectResults(plan *Plan, state *runState, nodeErrs map[string]error) []StageResult {
	state.mu.Lock()
	defer state.mu.Unlock()

	results := make([]StageResult, 0, len(plan.Order))
	for _, name := range plan.Order {
		r := StageResult{Stage: name}

		switch err := nodeErrs[name]; {
		case err == nil:
			r.Status = state.statuses[name]
			r.Artifact = state.artifacts[name]
		case errors.Is(err, graph.ErrSkipped) || errors.Is(err, context.Canceled):
			r.Status = StatusSkipped
			r.Error = err.Error()
		default:
			r.Status = StatusFailed
			r.Error = err.Error()
		}

		results = append(results, r)
	}
	return results
}

// Maps an error chain to a metrics label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, gate.ErrTestFailure):
		return "test_failure"
	case errors.Is(err, cache.ErrCacheCorruption):
		return "cache_corruption"
	case errors.Is(err, cache.ErrRegistryUnavailable):
		return "registry_unavailable"
	case errors.Is(err, assemble.ErrAssemblyIncomplete):
		return "assembly_incomplete"
	case errors.Is(err, graph.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}
