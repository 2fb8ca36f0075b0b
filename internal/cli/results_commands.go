package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sam2-eval/internal/chart"
	"sam2-eval/internal/dataset"
	"sam2-eval/internal/publish"
	"sam2-eval/internal/results"
)

type plotResult struct {
	Dataset  string           `json:"dataset"`
	Column   string           `json:"column"`
	PlotPath string           `json:"plot_path"`
	Drawn    int              `json:"series_drawn"`
	Series   []results.Series `json:"series"`
}

func runPlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	datasetName := fs.String("dataset", "", "dataset whose result folders to chart")
	outputsDir := fs.String("outputs-dir", "", "prediction outputs directory")
	column := fs.String("column", results.DefaultColumn, "metric column read from the Global score row")
	out := fs.String("out", "", "PNG output path (default: jfmean_vs_memstride_<dataset>.png)")
	config := fs.String("config", "", "settings file path (default: sam2-eval.yaml)")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(fs, "dataset", *datasetName); err != nil {
		return err
	}

	s, _, err := loadSettings(*config)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, *logLevel)

	name := strings.TrimSpace(*datasetName)
	predRoot := dataset.PredictionsRoot(firstNonEmpty(*outputsDir, s.OutputsDir), name)
	series, err := results.Collect(predRoot, name, strings.TrimSpace(*column), logger)
	if err != nil {
		return err
	}

	plotPath := firstNonEmpty(*out, chart.DefaultPlotPath(name))
	metric := firstNonEmpty(*column, results.DefaultColumn)
	drawn, err := chart.RenderMetricPlot(series, chart.Options{
		Title:  chart.DefaultTitle(name),
		XLabel: "Memory Stride",
		YLabel: chart.AxisLabel(metric),
		Path:   plotPath,
	})
	if err != nil {
		return err
	}

	res := plotResult{Dataset: name, Column: metric, PlotPath: plotPath, Drawn: drawn, Series: series}
	if *jsonOut {
		return printJSON(res)
	}
	for _, sr := range series {
		parts := make([]string, 0, len(sr.Points))
		for _, p := range sr.Points {
			if p.Present {
				parts = append(parts, fmt.Sprintf("%d=%.2f", p.MemStride, p.Value))
			} else {
				parts = append(parts, fmt.Sprintf("%d=n/a", p.MemStride))
			}
		}
		fmt.Printf("%s: %s\n", sr.Model, strings.Join(parts, " "))
	}
	fmt.Printf("plot saved to %s\n", res.PlotPath)
	return nil
}

type publishResult struct {
	Bucket   string             `json:"bucket"`
	Uploaded []publish.Uploaded `json:"uploaded"`
}

func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	datasetName := fs.String("dataset", "", "dataset whose artifacts to upload")
	outputsDir := fs.String("outputs-dir", "", "prediction outputs directory")
	bucket := fs.String("bucket", "", "destination bucket (default: settings publish.bucket)")
	prefix := fs.String("prefix", "", "object key prefix (default: settings publish.prefix)")
	plotPath := fs.String("plot", "", "chart to upload (default: jfmean_vs_memstride_<dataset>.png if present)")
	endpoint := fs.String("endpoint", "", "S3-compatible endpoint host:port (default: settings, then "+publish.EndpointEnv+")")
	config := fs.String("config", "", "settings file path (default: sam2-eval.yaml)")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(fs, "dataset", *datasetName); err != nil {
		return err
	}

	s, _, err := loadSettings(*config)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, *logLevel)
	name := strings.TrimSpace(*datasetName)

	runs, err := results.Discover(dataset.PredictionsRoot(firstNonEmpty(*outputsDir, s.OutputsDir), name), name)
	if err != nil {
		return err
	}
	chartPath := strings.TrimSpace(*plotPath)
	if chartPath == "" {
		if _, err := os.Stat(chart.DefaultPlotPath(name)); err == nil {
			chartPath = chart.DefaultPlotPath(name)
		}
	}
	artifacts, err := publish.PlanArtifacts(chartPath, runs, firstNonEmpty(*prefix, s.Publish.Prefix), name)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return fmt.Errorf("nothing to publish for %s", name)
	}

	opts := publish.OptionsFromEnv(publish.Options{
		Endpoint: firstNonEmpty(*endpoint, s.Publish.Endpoint),
		Region:   s.Publish.Region,
		Bucket:   firstNonEmpty(*bucket, s.Publish.Bucket),
	})
	if s.Publish.UseSSL != nil {
		opts.UseSSL = *s.Publish.UseSSL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploader, err := publish.NewUploader(ctx, opts, logger)
	if err != nil {
		return err
	}
	uploaded, err := uploader.UploadAll(ctx, artifacts)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(publishResult{Bucket: opts.Bucket, Uploaded: uploaded})
	}
	for _, u := range uploaded {
		fmt.Printf("uploaded: s3://%s/%s (%d bytes)\n", opts.Bucket, u.Key, u.Size)
	}
	return nil
}
