package protocol

import "github.com/stratabuild/stratad/internal/pipeline"

// Asks the daemon to plan and execute a build.
type BuildRequest struct {
	Manifest   string           `json:"manifest"`             // Dependency manifest text.
	Scope      string           `json:"scope"`                // Cache scope, e.g. a branch name.
	Stages     []pipeline.Stage `json:"stages"`               // Stage declarations.
	Output     string           `json:"output"`               // Directory receiving the runtime artifact.
	Invalidate bool             `json:"invalidate,omitempty"` // Bypass cache lookups for dependency stages.
	Epoch      string           `json:"epoch,omitempty"`      // Rotates dependency-stage cache keys.
}

// Reports the outcome of a build.
type BuildResult struct {
	Fingerprint string                 `json:"fingerprint"`          // Short cache key of the dependency layer.
	Runtime     string                 `json:"runtime,omitempty"`    // Path of the assembled runtime artifact.
	Stages      []pipeline.StageResult `json:"stages"`               // Per-stage outcomes in execution order.
	ReportPath  string                 `json:"reportPath,omitempty"` // Side-channel path of the test report.
}

// Reports daemon status.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Carries an error message back to the client.
//
// ReportPath is set when a test gate failed, so the client can retrieve
// the full report even though the build did not complete.
type ErrorResult struct {
	Message    string `json:"message"`
	ReportPath string `json:"reportPath,omitempty"`
}
