package results

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

const summaryCSV = `sequence, J&F-Mean, J&F, J-Mean, F-Mean
vid1, 70.1, 70.1, 68.0, 72.2
Global score, 72.5, 72.5, 70.0, 75.0
`

func TestParseMetricReadsGlobalScore(t *testing.T) {
	v, err := ParseMetric(strings.NewReader(summaryCSV), "J&F")
	if err != nil {
		t.Fatal(err)
	}
	if v != 72.5 {
		t.Fatalf("expected 72.5, got %v", v)
	}
	v, err = ParseMetric(strings.NewReader(summaryCSV), "F-Mean")
	if err != nil {
		t.Fatal(err)
	}
	if v != 75.0 {
		t.Fatalf("expected 75.0, got %v", v)
	}
}

func TestParseMetricMissingRowIsSentinel(t *testing.T) {
	body := "sequence,J&F\nvid1,70.0\n"
	if _, err := ParseMetric(strings.NewReader(body), "J&F"); !errors.Is(err, ErrNoGlobalScore) {
		t.Fatalf("expected ErrNoGlobalScore, got %v", err)
	}
	if _, err := ParseMetric(strings.NewReader(""), "J&F"); !errors.Is(err, ErrNoGlobalScore) {
		t.Fatalf("expected ErrNoGlobalScore for empty file, got %v", err)
	}
}

func TestParseMetricEmptyValue(t *testing.T) {
	body := "sequence,J&F\nGlobal score,\n"
	if _, err := ParseMetric(strings.NewReader(body), "J&F"); !errors.Is(err, ErrEmptyMetric) {
		t.Fatalf("expected ErrEmptyMetric, got %v", err)
	}
	if _, err := ParseMetric(strings.NewReader(body), "missing-col"); !errors.Is(err, ErrEmptyMetric) {
		t.Fatalf("expected ErrEmptyMetric for unknown column, got %v", err)
	}
}

func TestReadMetricMissingFile(t *testing.T) {
	_, err := ReadMetric(filepath.Join(t.TempDir(), SummaryFileName), "J&F")
	if !errors.Is(err, ErrResultMissing) {
		t.Fatalf("expected ErrResultMissing, got %v", err)
	}
}

func TestDiscoverMatchesDatasetPattern(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{
		"SeCVOS_sam2.1_hiera_large_memstride4",
		"SeCVOS_sam2.1_hiera_large_memstride1",
		"SeCVOS_sam2.1_hiera_base_plus_memstride2",
		"MOSEv2_sam2.1_hiera_large_memstride1",
		"SeCVOS_checkpoint_memstride1",
	} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "SeCVOS_sam2.1_hiera_large_memstride9"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	runs, err := Discover(root, "SeCVOS")
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, r := range runs {
		got = append(got, r.Model+"@"+strconv.Itoa(r.MemStride))
	}
	want := []string{"base_plus@2", "large@1", "large@4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCollectRecordsAbsentPoints(t *testing.T) {
	root := t.TempDir()
	write := func(dir, body string) {
		p := filepath.Join(root, dir)
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		if body != "" {
			if err := os.WriteFile(filepath.Join(p, SummaryFileName), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	write("SeCVOS_sam2.1_hiera_large_memstride1", summaryCSV)
	write("SeCVOS_sam2.1_hiera_large_memstride2", "")
	write("SeCVOS_sam2.1_hiera_large_memstride3", "sequence,J&F\nvid,1\n")
	write("SeCVOS_sam2.1_hiera_base_plus_memstride1", "sequence,J&F\nGlobal score,60.25\n")

	series, err := Collect(root, "SeCVOS", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 || series[0].Model != "base_plus" || series[1].Model != "large" {
		t.Fatalf("unexpected series %+v", series)
	}
	if p := series[0].Points[0]; !p.Present || p.Value != 60.25 {
		t.Fatalf("unexpected base_plus point %+v", p)
	}
	large := series[1]
	if len(large.Points) != 3 {
		t.Fatalf("expected 3 large points, got %d", len(large.Points))
	}
	if !large.Points[0].Present || large.Points[1].Present || large.Points[2].Present {
		t.Fatalf("unexpected presence pattern %+v", large.Points)
	}
	if len(large.PresentPoints()) != 1 {
		t.Fatalf("expected one present point")
	}
}

func TestCollectWithoutRuns(t *testing.T) {
	if _, err := Collect(t.TempDir(), "SeCVOS", "J&F", nil); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
}
