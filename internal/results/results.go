// Package results reads the benchmark scorer's per-run summary tables and
// turns them into metric-vs-stride series.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	SummaryFileName = "results_overall.csv"
	GlobalScoreRow  = "Global score"
	SequenceColumn  = "sequence"
	DefaultColumn   = "J&F"
)

var (
	ErrNoRuns        = errors.New("no matching result folders found")
	ErrResultMissing = errors.New("result summary missing")
	ErrNoGlobalScore = errors.New("no 'Global score' row")
	ErrEmptyMetric   = errors.New("metric value empty")
)

// Run is one result folder: <dataset>_sam2.1_hiera_<model>_memstride<N>.
type Run struct {
	Model     string `json:"model"`
	MemStride int    `json:"memstride"`
	Dir       string `json:"dir"`
}

func (r Run) SummaryPath() string {
	return filepath.Join(r.Dir, SummaryFileName)
}

type Point struct {
	MemStride int     `json:"memstride"`
	Value     float64 `json:"value"`
	Present   bool    `json:"present"`
	Source    string  `json:"source"`
	Reason    string  `json:"reason,omitempty"`
}

type Series struct {
	Model  string  `json:"model"`
	Points []Point `json:"points"`
}

func (s Series) PresentPoints() []Point {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Present {
			out = append(out, p)
		}
	}
	return out
}

func runPattern(dataset string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(dataset) + `_sam2\.1_hiera_(.+)_memstride(\d+)$`)
}

// Discover lists result folders under predRoot, sorted by model then stride.
func Discover(predRoot, dataset string) ([]Run, error) {
	entries, err := os.ReadDir(predRoot)
	if err != nil {
		return nil, fmt.Errorf("read predictions directory %s: %w", predRoot, err)
	}
	re := runPattern(dataset)
	runs := []Run{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		stride, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		runs = append(runs, Run{Model: m[1], MemStride: stride, Dir: filepath.Join(predRoot, e.Name())})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Model != runs[j].Model {
			return runs[i].Model < runs[j].Model
		}
		return runs[i].MemStride < runs[j].MemStride
	})
	return runs, nil
}

// ParseMetric reads a summary table and returns column from the Global score
// row. The header line names the columns; cells may carry leading spaces.
func ParseMetric(r io.Reader, column string) (float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrNoGlobalScore
		}
		return 0, fmt.Errorf("read header: %w", err)
	}
	seqIdx, colIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case SequenceColumn:
			seqIdx = i
		case column:
			colIdx = i
		}
	}
	if seqIdx < 0 {
		return 0, fmt.Errorf("%w: no %q column", ErrNoGlobalScore, SequenceColumn)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return 0, ErrNoGlobalScore
		}
		if err != nil {
			return 0, fmt.Errorf("read row: %w", err)
		}
		if seqIdx >= len(rec) || strings.TrimSpace(rec[seqIdx]) != GlobalScoreRow {
			continue
		}
		if colIdx < 0 || colIdx >= len(rec) || strings.TrimSpace(rec[colIdx]) == "" {
			return 0, fmt.Errorf("%w: column %q", ErrEmptyMetric, column)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[colIdx]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q value %q: %w", column, rec[colIdx], err)
		}
		return v, nil
	}
}

func ReadMetric(path, column string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrResultMissing, path)
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	v, err := ParseMetric(f, column)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Collect reads every discovered run into one series per model. Unreadable
// or incomplete summaries become absent points, never errors.
func Collect(predRoot, dataset, column string, logger *slog.Logger) ([]Series, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(column) == "" {
		column = DefaultColumn
	}
	runs, err := Discover(predRoot, dataset)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoRuns, predRoot)
	}

	series := []Series{}
	for _, r := range runs {
		if len(series) == 0 || series[len(series)-1].Model != r.Model {
			series = append(series, Series{Model: r.Model})
		}
		p := Point{MemStride: r.MemStride, Source: r.SummaryPath()}
		v, err := ReadMetric(p.Source, column)
		if err != nil {
			p.Reason = err.Error()
			logger.Warn("result data point absent", "model", r.Model, "memstride", r.MemStride, "error", err)
		} else {
			p.Value = v
			p.Present = true
		}
		s := &series[len(series)-1]
		s.Points = append(s.Points, p)
	}
	return series, nil
}
