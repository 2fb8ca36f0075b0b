// Package chart renders metric-vs-stride line charts.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"sam2-eval/internal/results"
	"sam2-eval/internal/runstore"
)

const (
	DefaultDPI    = 200
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

var ErrNoData = errors.New("no data points to plot")

type Options struct {
	Title  string
	XLabel string
	YLabel string
	Path   string
	DPI    int
}

func DefaultPlotPath(dataset string) string {
	return "jfmean_vs_memstride_" + dataset + ".png"
}

func DefaultTitle(dataset string) string {
	return dataset + " Performance vs Memory Stride"
}

// AxisLabel names the y axis for a metric column.
func AxisLabel(column string) string {
	if column == "" || column == "J&F" {
		return "J&F Mean"
	}
	return column
}

// RenderMetricPlot draws one marked line per series, skipping absent points
// and series with nothing present, and writes the PNG to opts.Path.
func RenderMetricPlot(series []results.Series, opts Options) (int, error) {
	if opts.Path == "" {
		return 0, errors.New("plot path is required")
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.Legend.Top = true
	p.X.Tick.Marker = strideTicks{}

	grid := plotter.NewGrid()
	grid.Vertical.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	grid.Horizontal.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(grid)

	drawn := 0
	for _, s := range series {
		pts := s.PresentPoints()
		if len(pts) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(pts))
		for i, pt := range pts {
			xys[i].X = float64(pt.MemStride)
			xys[i].Y = pt.Value
		}
		line, marks, err := plotter.NewLinePoints(xys)
		if err != nil {
			return drawn, fmt.Errorf("series %s: %w", s.Model, err)
		}
		line.Color = plotutil.Color(drawn)
		marks.Color = plotutil.Color(drawn)
		marks.Shape = plotutil.Shape(drawn)
		p.Add(line, marks)
		p.Legend.Add(s.Model, line, marks)
		drawn++
	}
	if drawn == 0 {
		return 0, ErrNoData
	}

	c := vgimg.NewWith(vgimg.UseWH(DefaultWidth, DefaultHeight), vgimg.UseDPI(opts.DPI))
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return drawn, fmt.Errorf("encode png: %w", err)
	}
	if err := runstore.WriteBytes(opts.Path, buf.Bytes()); err != nil {
		return drawn, err
	}
	return drawn, nil
}

// strideTicks labels whole-number strides only.
type strideTicks struct{}

func (strideTicks) Ticks(min, max float64) []plot.Tick {
	lo, hi := int(math.Ceil(min)), int(math.Floor(max))
	step := 1
	for (hi-lo)/step > 12 {
		step *= 2
	}
	ticks := []plot.Tick{}
	for v := lo; v <= hi; v += step {
		ticks = append(ticks, plot.Tick{Value: float64(v), Label: strconv.Itoa(v)})
	}
	return ticks
}
