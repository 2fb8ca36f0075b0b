package chart

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sam2-eval/internal/results"
)

func TestRenderMetricPlotWritesPNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), DefaultPlotPath("SeCVOS"))
	series := []results.Series{
		{Model: "base_plus", Points: []results.Point{
			{MemStride: 1, Value: 70.2, Present: true},
			{MemStride: 2, Value: 71.0, Present: true},
			{MemStride: 4, Present: false},
		}},
		{Model: "large", Points: []results.Point{{MemStride: 1, Present: false}}},
		{Model: "finetuned3", Points: []results.Point{{MemStride: 3, Value: 74.4, Present: true}}},
	}

	drawn, err := RenderMetricPlot(series, Options{
		Title:  DefaultTitle("SeCVOS"),
		XLabel: "Memory Stride",
		YLabel: AxisLabel("J&F"),
		Path:   out,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if drawn != 2 {
		t.Fatalf("expected 2 drawn series, got %d", drawn)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("output is not a PNG")
	}
}

func TestRenderMetricPlotWithoutPoints(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.png")
	_, err := RenderMetricPlot([]results.Series{{Model: "large"}}, Options{Path: out})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file written")
	}
}

func TestStrideTicksAreIntegers(t *testing.T) {
	ticks := strideTicks{}.Ticks(0.6, 4.2)
	if len(ticks) != 4 || ticks[0].Label != "1" || ticks[3].Label != "4" {
		t.Fatalf("unexpected ticks %+v", ticks)
	}
}
