package runtime

import (
	"archive/tar"
	"bytes"
	"testing"
)

func reportArchive(t *testing.T, name, content string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestParseReportArchive(t *testing.T) {
	buf := reportArchive(t, "report.json", `{"passed":true,"total":12,"failed":0}`)

	report, ok := parseReportArchive(buf)
	if !ok {
		t.Fatal("parseReportArchive() failed on a valid archive")
	}
	if !report.Passed || report.Total != 12 || report.Failed != 0 {
		t.Errorf("report = %+v, want passed with 12 tests", report)
	}
}

func TestParseReportArchiveWrongEntry(t *testing.T) {
	buf := reportArchive(t, "results.xml", `<testsuite/>`)

	if _, ok := parseReportArchive(buf); ok {
		t.Error("parseReportArchive() accepted an archive without report.json")
	}
}

func TestParseReportArchiveMalformedJSON(t *testing.T) {
	buf := reportArchive(t, "report.json", `{"passed":`)

	if _, ok := parseReportArchive(buf); ok {
		t.Error("parseReportArchive() accepted malformed JSON")
	}
}

func TestParseReportArchiveEmptyStream(t *testing.T) {
	if _, ok := parseReportArchive(bytes.NewReader(nil)); ok {
		t.Error("parseReportArchive() accepted an empty stream")
	}
}

func TestContainerID(t *testing.T) {
	tests := []struct {
		name  string
		stage string
		want  string
	}{
		{name: "simple", stage: "deps", want: "strata-deps"},
		{name: "mixed case preserved", stage: "Deps", want: "strata-Deps"},
		{name: "space folded", stage: "my stage", want: "strata-my-stage"},
		{name: "punctuation folded", stage: "py/deps:v1", want: "strata-py-deps-v1"},
		{name: "runs collapse", stage: "a--b", want: "strata-a-b"},
		{name: "trailing junk dropped", stage: "deps!!", want: "strata-deps"},
		{name: "empty", stage: "", want: "strata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := containerID(tt.stage); got != tt.want {
				t.Errorf("containerID(%q) = %q, want %q", tt.stage, got, tt.want)
			}
		})
	}
}
