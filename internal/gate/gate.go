// Package gate represents test results as build gates.
//
// A [Report] is produced by running a build's validation suite inside
// the pipeline. The pipeline treats a failed report as a hard stop:
// nothing downstream of the test stage runs, and in particular no
// runtime artifact is assembled. Because the main artifact path is
// unreachable on failure, the report itself is written to a side
// channel (the state directory) on every run, so external consumers
// can always retrieve the diagnostics of an aborted build.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stratabuild/stratad/internal/paths"
)

var (
	ErrTestFailure = errors.New("test suite failed")
	ErrReport      = errors.New("report operation failed")
)

// The machine-readable outcome of a validation suite run.
type Report struct {
	Passed     bool      `json:"passed"`               // Whether the whole suite passed.
	Total      int       `json:"total"`                // Number of tests run, when known.
	Failed     int       `json:"failed"`               // Number of failing tests, when known.
	Output     string    `json:"output,omitempty"`     // Captured suite output for diagnostics.
	FinishedAt time.Time `json:"finished_at"`          // When the suite finished.
	Stage      string    `json:"stage,omitempty"`      // Name of the stage that produced the report.
}

// Returns [ErrTestFailure] when the report records a failing suite.
//
// The error carries the failure counts so callers can surface them
// without parsing the report.
func (r *Report) Gate() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %d of %d tests failed", ErrTestFailure, r.Failed, r.Total)
}

// Writes the report as JSON to dir, named after the build ID.
//
// Called on every build, pass or fail. Returns the written path so the
// caller can hand it to external consumers.
func Write(dir, buildID string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrReport, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReport, err)
	}

	path := filepath.Join(dir, buildID+".json")
	if err := os.WriteFile(path, data, paths.DefaultFileMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrReport, err)
	}
	return path, nil
}

// Reads a previously written report.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReport, err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReport, err)
	}
	return &r, nil
}
