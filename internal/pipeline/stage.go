package pipeline

import (
	"context"

	"github.com/stratabuild/stratad/internal/assemble"
	"github.com/stratabuild/stratad/internal/cache"
	"github.com/stratabuild/stratad/internal/gate"
)

// The closed set of stage kinds.
//
// Kinds are a tagged variant, not free-form scripting: each kind has a
// fixed caching and ordering contract, which is what makes the DAG
// statically checkable for cycles and missing inputs.
type Kind string

const (

	// Installs declared dependencies. Cacheable: keyed by the manifest
	// fingerprint, skipped entirely on a warm build.
	KindDependency Kind = "dependency"

	// Builds the application content. Never cached; application content
	// is assumed to change every build.
	KindApplication Kind = "application"

	// Runs the validation suite. Produces the build's test report and
	// gates everything downstream.
	KindTest Kind = "test"

	// Assembles the runtime artifact from upstream outputs. Runs only
	// behind a passed test gate.
	KindAssembly Kind = "assembly"
)

// A single build stage.
type Stage struct {
	Name    string          `json:"name"`
	Kind    Kind            `json:"kind"`
	Needs   []string        `json:"needs,omitempty"`    // Explicit upstream stages, in addition to the kind ordering.
	Image   string          `json:"image,omitempty"`    // Base image for container-backed execution.
	Run     []string        `json:"run,omitempty"`      // Shell commands executed in the stage.
	CopySet []assemble.Copy `json:"copy_set,omitempty"` // Assembly stages: the declared runtime closure.
}

// Reports whether results of this stage may be reused across builds.
func (s Stage) Cacheable() bool {
	return s.Kind == KindDependency
}

// Execution status of a stage within one build.
type Status string

const (
	StatusCached   Status = "cached"   // Reused a published artifact; the stage did not run.
	StatusExecuted Status = "executed" // The stage ran to completion.
	StatusFailed   Status = "failed"   // The stage ran and failed.
	StatusSkipped  Status = "skipped"  // Not run because an upstream stage failed.
)

// The per-stage outcome of a build. Not persisted; final artifacts live
// in the store, everything else is discarded with the build.
type StageResult struct {
	Stage    string         `json:"stage"`
	Status   Status         `json:"status"`
	Artifact cache.Artifact `json:"artifact,omitzero"`
	Error    string         `json:"error,omitempty"`
}

// Executes individual stages on behalf of the planner.
//
// The production implementation runs stages in containers; tests
// substitute fakes. Inputs are the artifacts of all completed upstream
// stages, keyed by stage name.
type StageExecutor interface {

	// Runs a dependency or application stage and returns its artifact.
	ExecStage(ctx context.Context, stage Stage, inputs map[string]cache.Artifact, workDir string) (cache.Artifact, error)

	// Runs the validation suite of a test stage. The report is returned
	// even when the suite fails; only infrastructure errors are errors.
	RunTests(ctx context.Context, stage Stage, inputs map[string]cache.Artifact) (*gate.Report, error)
}
