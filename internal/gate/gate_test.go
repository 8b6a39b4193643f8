package gate

import (
	"errors"
	"testing"
	"time"
)

func TestGatePassed(t *testing.T) {
	r := &Report{Passed: true, Total: 12, FinishedAt: time.Now()}
	if err := r.Gate(); err != nil {
		t.Fatalf("passed report gated: %v", err)
	}
}

func TestGateFailed(t *testing.T) {
	r := &Report{Passed: false, Total: 12, Failed: 3}
	err := r.Gate()
	if !errors.Is(err, ErrTestFailure) {
		t.Fatalf("error = %v, want ErrTestFailure", err)
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	want := &Report{
		Passed:     false,
		Total:      5,
		Failed:     2,
		Output:     "FAIL: test_totals",
		FinishedAt: time.Now().UTC().Truncate(time.Second),
		Stage:      "test",
	}

	path, err := Write(dir, "build-42", want)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	if got.Passed != want.Passed || got.Total != want.Total || got.Failed != want.Failed {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Output != want.Output {
		t.Fatalf("output = %q, want %q", got.Output, want.Output)
	}
	if !got.FinishedAt.Equal(want.FinishedAt) {
		t.Fatalf("finished_at = %v, want %v", got.FinishedAt, want.FinishedAt)
	}
}

func TestWriteCreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/reports"

	if _, err := Write(dir, "build-1", &Report{Passed: true}); err != nil {
		t.Fatalf("write into missing dir failed: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir() + "/absent.json")
	if !errors.Is(err, ErrReport) {
		t.Fatalf("error = %v, want ErrReport", err)
	}
}
