package assemble

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratabuild/stratad/internal/cache"
	"github.com/stratabuild/stratad/internal/gate"
)

// Writes a tar archive with the given files and returns it as an artifact.
func stageArtifact(t *testing.T, files map[string]string) cache.Artifact {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stage.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, content := range files {
		hdr := &tar.Header{
			Name:    name,
			Size:    int64(len(content)),
			Mode:    0o644,
			ModTime: time.Now(), // Deliberately unstable; assembly must normalize it.
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	return cache.Artifact{Ref: "stage", Path: path}
}

func passedReport() *gate.Report {
	return &gate.Report{Passed: true, Total: 1, FinishedAt: time.Now()}
}

func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = string(data)
	}
	return entries
}

func TestAssemble(t *testing.T) {
	inputs := map[string]cache.Artifact{
		"deps": stageArtifact(t, map[string]string{
			"venv/lib/flask.py": "flask",
			"build/tooling.sh":  "build-only",
		}),
		"app": stageArtifact(t, map[string]string{
			"app/main.py":         "entrypoint",
			"app/tests/test.py":   "test-only",
			"app/static/site.css": "css",
		}),
	}
	copies := []Copy{
		{From: "deps", Path: "venv", Dest: "opt/venv"},
		{From: "app", Path: "app/main.py", Dest: "opt/app/main.py"},
		{From: "app", Path: "app/static", Dest: "opt/app/static"},
	}

	output := filepath.Join(t.TempDir(), "runtime.tar")
	artifact, err := Assemble(context.Background(), inputs, copies, passedReport(), output)
	if err != nil {
		t.Fatal(err)
	}

	entries := readEntries(t, output)
	want := map[string]string{
		"opt/venv/lib/flask.py":   "flask",
		"opt/app/main.py":         "entrypoint",
		"opt/app/static/site.css": "css",
	}
	for name, content := range want {
		if entries[name] != content {
			t.Errorf("entry %q = %q, want %q", name, entries[name], content)
		}
	}

	// Build-only and test material must not leak into the runtime artifact.
	for name := range entries {
		if name == "build/tooling.sh" || name == "opt/app/tests/test.py" {
			t.Errorf("build-only entry %q leaked into runtime artifact", name)
		}
	}

	if artifact.Digest() == "" {
		t.Fatal("assembled artifact has no digest")
	}
}

func TestAssembleDeterministic(t *testing.T) {
	inputs := map[string]cache.Artifact{
		"deps": stageArtifact(t, map[string]string{"venv/a.py": "a", "venv/b.py": "b"}),
		"app":  stageArtifact(t, map[string]string{"app/main.py": "m"}),
	}
	copies := []Copy{
		{From: "deps", Path: "venv", Dest: "opt/venv"},
		{From: "app", Path: "app", Dest: "opt/app"},
	}

	dir := t.TempDir()
	first := filepath.Join(dir, "a.tar")
	second := filepath.Join(dir, "b.tar")

	fa, err := Assemble(context.Background(), inputs, copies, passedReport(), first)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Assemble(context.Background(), inputs, copies, passedReport(), second)
	if err != nil {
		t.Fatal(err)
	}

	if fa.Digest() != fb.Digest() {
		t.Fatalf("digests differ across runs: %s vs %s", fa.Digest(), fb.Digest())
	}

	da, _ := os.ReadFile(first)
	db, _ := os.ReadFile(second)
	if !bytes.Equal(da, db) {
		t.Fatal("assembled archives are not byte-identical")
	}
}

func TestAssembleGateNotPassed(t *testing.T) {
	inputs := map[string]cache.Artifact{
		"app": stageArtifact(t, map[string]string{"app/main.py": "m"}),
	}
	copies := []Copy{{From: "app", Path: "app", Dest: "opt/app"}}
	output := filepath.Join(t.TempDir(), "runtime.tar")

	_, err := Assemble(context.Background(), inputs, copies, &gate.Report{Passed: false, Failed: 1, Total: 1}, output)
	if !errors.Is(err, ErrGateNotPassed) {
		t.Fatalf("error = %v, want ErrGateNotPassed", err)
	}

	_, err = Assemble(context.Background(), inputs, copies, nil, output)
	if !errors.Is(err, ErrGateNotPassed) {
		t.Fatalf("nil report error = %v, want ErrGateNotPassed", err)
	}

	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("runtime artifact written despite failed gate")
	}
}

func TestAssembleMissingSourcePath(t *testing.T) {
	inputs := map[string]cache.Artifact{
		"app": stageArtifact(t, map[string]string{"app/main.py": "m"}),
	}
	copies := []Copy{{From: "app", Path: "nonexistent", Dest: "opt"}}

	_, err := Assemble(context.Background(), inputs, copies, passedReport(), filepath.Join(t.TempDir(), "out.tar"))
	if !errors.Is(err, ErrAssemblyIncomplete) {
		t.Fatalf("error = %v, want ErrAssemblyIncomplete", err)
	}
}

func TestAssembleMissingStage(t *testing.T) {
	copies := []Copy{{From: "ghost", Path: "x", Dest: "y"}}

	_, err := Assemble(context.Background(), map[string]cache.Artifact{}, copies, passedReport(), filepath.Join(t.TempDir(), "out.tar"))
	if !errors.Is(err, ErrAssemblyIncomplete) {
		t.Fatalf("error = %v, want ErrAssemblyIncomplete", err)
	}
}
