package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"sam2-eval/internal/launch"
	"sam2-eval/internal/sam2"
)

func runLaunch(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	datasetName := fs.String("dataset", "", "dataset: MOSEv2|SeCVOS")
	modelName := fs.String("model", "", "model variant: base_plus|large|finetuned1..finetuned10")
	memStride := fs.Int("memstride", 1, "memory stride passed to vos_inference")
	var extraFlags stringList
	fs.Var(&extraFlags, "extra-flag", "extra vos_inference flag (repeatable; args after -- are appended too)")
	gpus := fs.String("gpus", "", "comma-separated GPU ids (default: settings devices, CUDA_VISIBLE_DEVICES, then nvidia-smi)")
	sampleFraction := fs.Float64("sample-fraction", -1, "fraction of the video list to run, 0 disables (default: settings)")
	sampleSeed := fs.String("sample-seed", "", "sampling seed (default: settings)")
	python := fs.String("python", "", "python interpreter")
	vosScript := fs.String("vos-script", "", "path to vos_inference.py")
	dataRoot := fs.String("data-root", "", "directory holding dataset folders")
	outputsDir := fs.String("outputs-dir", "", "prediction outputs directory")
	runsDir := fs.String("runs-dir", "", "runs directory")
	config := fs.String("config", "", "settings file path (default: sam2-eval.yaml)")
	showProgress := fs.Bool("progress", true, "show live worker dashboard when stdout is a terminal")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(fs, "dataset", *datasetName); err != nil {
		return err
	}
	if err := requireFlag(fs, "model", *modelName); err != nil {
		return err
	}

	s, _, err := loadSettings(*config)
	if err != nil {
		return err
	}
	seed, err := parseOptionalUint("sample-seed", *sampleSeed)
	if err != nil {
		return err
	}
	sampling, err := s.SamplingFor(strings.TrimSpace(*datasetName), *sampleFraction, seed)
	if err != nil {
		return err
	}
	devices := splitCSV(*gpus)
	if len(devices) == 0 {
		devices = s.Devices
	}

	opts := launch.Options{
		Dataset:        strings.TrimSpace(*datasetName),
		Model:          strings.TrimSpace(*modelName),
		MemStride:      *memStride,
		ExtraFlags:     append(append([]string{}, extraFlags...), fs.Args()...),
		Python:         firstNonEmpty(*python, s.Python),
		VOSScript:      firstNonEmpty(*vosScript, s.VOSScript),
		DataRoot:       firstNonEmpty(*dataRoot, s.DataRoot),
		OutputsDir:     firstNonEmpty(*outputsDir, s.OutputsDir),
		RunsDir:        firstNonEmpty(*runsDir, s.RunsDir),
		Devices:        devices,
		VisibleDevices: os.Getenv(sam2.VisibleDevicesEnv),
		Sampling:       sampling,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res launch.Result
	if *showProgress && !*jsonOut && stdoutIsTTY() {
		res, err = runWithDashboard(ctx, opts, *logLevel)
	} else {
		logger := newLogger(os.Stderr, *logLevel)
		opts.Logger = logger
		opts.Observer = logObserver{logger: logger}
		res, err = launch.Run(ctx, opts)
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printLaunchResult(os.Stdout, res)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d workers failed; see logs under %s", res.Failed, len(res.Workers), res.RunDir)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// runWithDashboard buffers log records while the dashboard owns the terminal
// and replays them to stderr afterwards.
func runWithDashboard(ctx context.Context, opts launch.Options, logLevel string) (launch.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var logBuf bytes.Buffer
	opts.Logger = newLogger(&logBuf, logLevel)

	p := tea.NewProgram(newLaunchDashboard(cancel))
	opts.Observer = dashboardObserver{send: p.Send}

	var (
		res    launch.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = launch.Run(ctx, opts)
		p.Send(launchDoneMsg{result: res, err: runErr})
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	<-done
	_, _ = io.Copy(os.Stderr, &logBuf)
	if uiErr != nil && runErr == nil {
		return res, fmt.Errorf("dashboard: %w", uiErr)
	}
	return res, runErr
}

func printLaunchResult(w io.Writer, res launch.Result) {
	fmt.Fprintf(w, "run_id: %s\n", res.RunID)
	fmt.Fprintf(w, "run_dir: %s\n", res.RunDir)
	fmt.Fprintf(w, "output_mask_dir: %s\n", res.OutputMaskDir)
	fmt.Fprintf(w, "devices: %s\n", strings.Join(res.Devices, ","))
	fmt.Fprintf(w, "videos_listed: %d\n", res.Listed)
	fmt.Fprintf(w, "videos_sampled: %d\n", res.Sampled)
	fmt.Fprintf(w, "videos_costed: %d\n", res.Costed)
	fmt.Fprintf(w, "total_frames: %d\n", res.TotalFrames)
	fmt.Fprintf(w, "skipped_missing: %d\n", len(res.SkippedMissing))
	for _, wr := range res.Workers {
		line := fmt.Sprintf("  gpu %s: %s (%d videos, %d frames)", wr.Device, wr.Status, wr.Videos, wr.Frames)
		if wr.Error != "" {
			line += " error: " + firstLine(wr.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "completed: %d\n", res.Completed)
	fmt.Fprintf(w, "failed: %d\n", res.Failed)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

type logObserver struct {
	logger *slog.Logger
}

func (o logObserver) Planned(p launch.Plan) {
	o.logger.Info("launch planned", "run_id", p.RunID, "dataset", p.Dataset, "model", p.ModelVariant, "memstride", p.MemStride, "workers", len(p.Slots))
	for _, s := range p.Slots {
		o.logger.Info("worker planned", "slot", s.Slot, "device", s.Device, "videos", s.Videos, "frames", s.Frames, "status", s.Status)
	}
}

func (o logObserver) WorkerStarted(slot int, device string, videos int) {
	o.logger.Info("worker started", "slot", slot, "device", device, "videos", videos)
}

func (o logObserver) WorkerProgress(slot int, done, total int, video string) {
	o.logger.Debug("worker progress", "slot", slot, "done", done, "total", total, "video", video)
}

func (o logObserver) WorkerFinished(w launch.WorkerResult) {
	if w.Error != "" {
		o.logger.Warn("worker finished", "slot", w.Slot, "device", w.Device, "status", w.Status, "exit_code", w.ExitCode, "log", w.LogFile)
		return
	}
	o.logger.Info("worker finished", "slot", w.Slot, "device", w.Device, "status", w.Status)
}
