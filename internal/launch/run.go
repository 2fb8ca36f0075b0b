// Package launch fans a dataset's videos out to one SAM2 inference worker
// per GPU and waits for all of them.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sam2-eval/internal/balance"
	"sam2-eval/internal/dataset"
	"sam2-eval/internal/model"
	"sam2-eval/internal/runstore"
	"sam2-eval/internal/sam2"
)

const manifestSchemaVersion = 1

var ErrInvalidMemStride = errors.New("memory stride must be >= 1")

type Options struct {
	Dataset    string
	Model      string
	MemStride  int
	ExtraFlags []string

	Python     string
	VOSScript  string
	DataRoot   string
	OutputsDir string
	RunsDir    string

	// Devices, when set, are used as-is. Otherwise VisibleDevices (the
	// caller's CUDA_VISIBLE_DEVICES) and then nvidia-smi are consulted.
	Devices        []string
	VisibleDevices string
	Sampling       dataset.Sampling
	// BaseEnv is copied into every worker's environment; nil means os.Environ().
	BaseEnv []string

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

type WorkerResult struct {
	Slot     int    `json:"slot"`
	Device   string `json:"device"`
	Videos   int    `json:"videos"`
	Frames   int    `json:"frames"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
}

type Result struct {
	RunID          string         `json:"run_id"`
	RunDir         string         `json:"run_dir"`
	OutputMaskDir  string         `json:"output_mask_dir"`
	Devices        []string       `json:"devices"`
	Listed         int            `json:"listed"`
	Sampled        int            `json:"sampled"`
	Costed         int            `json:"costed"`
	TotalFrames    int            `json:"total_frames"`
	SkippedMissing []string       `json:"skipped_missing,omitempty"`
	Workers        []WorkerResult `json:"workers"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
}

// Run executes one launch. Worker failures are reported in Result and do not
// produce an error; configuration and setup problems do.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ds, err := dataset.Lookup(opts.Dataset, opts.DataRoot)
	if err != nil {
		return Result{}, err
	}
	variant, err := dataset.LookupModel(opts.Model, opts.DataRoot)
	if err != nil {
		return Result{}, err
	}
	if opts.MemStride < 1 {
		return Result{}, fmt.Errorf("%w (got %d)", ErrInvalidMemStride, opts.MemStride)
	}
	if err := sam2.CheckPython(opts.Python); err != nil {
		return Result{}, err
	}

	devices := opts.Devices
	if len(devices) == 0 {
		devices, err = sam2.DetectDevices(opts.VisibleDevices)
		if err != nil {
			return Result{}, err
		}
	}
	if len(devices) == 0 {
		return Result{}, sam2.ErrNoDevices
	}

	outputsDir := firstNonEmpty(opts.OutputsDir, "outputs")
	runsDir := firstNonEmpty(opts.RunsDir, "runs")
	outputMaskDir := dataset.OutputMaskDir(outputsDir, ds.Name, variant, opts.MemStride)
	label := dataset.RunLabel(ds.Name, variant, opts.MemStride)

	runID, runDir, err := runstore.NewRunDir(runsDir, now())
	if err != nil {
		return Result{}, err
	}
	// The run dir is only kept once run.json has been written.
	recorded := false
	defer func() {
		if recorded {
			return
		}
		if err := os.RemoveAll(runDir); err != nil {
			logger.Warn("remove unrecorded run directory", "run_dir", runDir, "error", err)
		}
	}()
	lock, err := runstore.AcquireLock(runstore.LockPath(runsDir, label), runID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release launch lock", "error", err)
		}
	}()

	if err := runstore.Mkdir(outputMaskDir); err != nil {
		return Result{}, err
	}

	listed, err := dataset.ReadVideoList(ds.VideoListFile)
	if err != nil {
		return Result{}, err
	}
	videos := dataset.Sample(listed, opts.Sampling)
	if opts.Sampling.Enabled() {
		logger.Info("sampled videos", "dataset", ds.Name, "listed", len(listed), "sampled", len(videos),
			"fraction", opts.Sampling.Fraction, "seed", opts.Sampling.Seed)
	}

	items, skipped := CostVideos(videos, ds.BaseVideoDir, logger)
	buckets, err := balance.Distribute(items, len(devices))
	if err != nil {
		return Result{}, err
	}

	mf := model.RunManifest{
		SchemaVersion:  manifestSchemaVersion,
		RunID:          runID,
		CreatedAt:      now().UTC().Format(time.RFC3339),
		Dataset:        ds.Name,
		ModelVariant:   variant.Name,
		MemStride:      opts.MemStride,
		OutputMaskDir:  outputMaskDir,
		VideoListFile:  ds.VideoListFile,
		Listed:         len(listed),
		Sampled:        len(videos),
		Costed:         len(items),
		SkippedMissing: skipped,
		Workers:        make([]model.WorkerRecord, 0, len(buckets)),
	}
	if opts.Sampling.Enabled() {
		mf.Sampling = &model.Sampling{Fraction: opts.Sampling.Fraction, Seed: opts.Sampling.Seed}
	}

	logsDir := filepath.Join(runDir, "logs")
	if err := runstore.Mkdir(logsDir); err != nil {
		return Result{}, err
	}

	listFiles := []string{}
	for i, b := range buckets {
		mf.TotalFrames += b.Total
		rec := model.WorkerRecord{
			Slot:       i,
			Device:     devices[i],
			Videos:     b.Items,
			VideoCount: len(b.Items),
			Frames:     b.Total,
		}
		if err := model.TransitionWorkerStatus(&rec, model.StatusPending, ""); err != nil {
			return Result{}, err
		}
		logger.Info("frame distribution", "slot", i, "device", devices[i], "frames", b.Total, "videos", len(b.Items))

		if len(b.Items) == 0 {
			if err := model.TransitionWorkerStatus(&rec, model.StatusSkippedEmpty, "no videos assigned"); err != nil {
				return Result{}, err
			}
		} else {
			rec.ListFile = filepath.Join(runDir, fmt.Sprintf("val_part_gpu%d.txt", i))
			rec.LogFile = filepath.Join(logsDir, fmt.Sprintf("gpu%d.log", i))
			if err := dataset.WriteVideoList(rec.ListFile, b.Items); err != nil {
				removeListFiles(listFiles, logger)
				return Result{}, err
			}
			listFiles = append(listFiles, rec.ListFile)
		}
		mf.Workers = append(mf.Workers, rec)
	}

	manifestPath := runstore.ManifestPath(runDir)
	mf.UpdatedAt = now().UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(manifestPath, mf); err != nil {
		removeListFiles(listFiles, logger)
		return Result{}, err
	}
	recorded = true
	obs.Planned(planFromManifest(runID, mf))

	var stateMu sync.Mutex
	var persistErr error
	persist := func() {
		model.RecomputeCounts(&mf)
		mf.UpdatedAt = now().UTC().Format(time.RFC3339)
		if err := runstore.WriteJSON(manifestPath, mf); err != nil && persistErr == nil {
			persistErr = fmt.Errorf("persist run manifest: %w", err)
		}
	}

	pending := []int{}
	for i, w := range mf.Workers {
		if w.Status == model.StatusPending {
			pending = append(pending, i)
		}
	}

	var wg sync.WaitGroup
	for _, i := range pending {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			runWorker(ctx, slot, workerEnv{
				opts:     opts,
				ds:       ds,
				variant:  variant,
				outDir:   outputMaskDir,
				mf:       &mf,
				stateMu:  &stateMu,
				persist:  persist,
				logger:   logger,
				observer: obs,
				now:      now,
			})
		}(i)
	}
	wg.Wait()

	removeListFiles(listFiles, logger)

	stateMu.Lock()
	persist()
	res := resultFromManifest(runDir, devices, mf)
	err = persistErr
	stateMu.Unlock()

	logger.Info("all inference workers finished", "run_id", runID, "completed", res.Completed,
		"failed", res.Failed, "output_mask_dir", outputMaskDir)
	return res, err
}

// CostVideos measures each video by its frame count. Videos whose frame
// directory cannot be read are left out and returned in skipped.
func CostVideos(videos []string, baseVideoDir string, logger *slog.Logger) ([]balance.Item, []string) {
	if logger == nil {
		logger = slog.Default()
	}
	items := make([]balance.Item, 0, len(videos))
	skipped := []string{}
	for _, v := range videos {
		dir := filepath.Join(baseVideoDir, v)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.Warn("video directory not found", "video", v, "dir", dir)
			skipped = append(skipped, v)
			continue
		}
		n, err := dataset.CountFrames(dir)
		if err != nil {
			logger.Warn("count frames failed", "video", v, "dir", dir, "error", err)
			skipped = append(skipped, v)
			continue
		}
		items = append(items, balance.Item{ID: v, Cost: n})
	}
	return items, skipped
}

type workerEnv struct {
	opts     Options
	ds       dataset.Dataset
	variant  dataset.ModelVariant
	outDir   string
	mf       *model.RunManifest
	stateMu  *sync.Mutex
	persist  func()
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

func runWorker(ctx context.Context, slot int, env workerEnv) {
	env.stateMu.Lock()
	rec := &env.mf.Workers[slot]
	if err := model.TransitionWorkerStatus(rec, model.StatusRunning, ""); err != nil {
		env.stateMu.Unlock()
		env.logger.Error("worker state", "slot", slot, "error", err)
		return
	}
	rec.StartedAt = env.now().UTC().Format(time.RFC3339)
	env.persist()
	device := rec.Device
	listFile := rec.ListFile
	logPath := rec.LogFile
	videos := rec.VideoCount
	env.stateMu.Unlock()

	logFile, err := os.Create(logPath)
	if err != nil {
		finishWorker(slot, env, -1, fmt.Errorf("create worker log: %w", err), "log_file_error")
		return
	}
	defer logFile.Close()

	env.logger.Info("launching inference", "slot", slot, "device", device, "videos", videos, "log", logPath)
	env.observer.WorkerStarted(slot, device, videos)

	res, runErr := sam2.RunInference(ctx, sam2.InferenceOptions{
		Python:        env.opts.Python,
		Script:        env.opts.VOSScript,
		ConfigPath:    env.variant.ConfigPath,
		Checkpoint:    env.variant.Checkpoint,
		BaseVideoDir:  env.ds.BaseVideoDir,
		InputMaskDir:  env.ds.InputMaskDir,
		VideoListFile: listFile,
		OutputMaskDir: env.outDir,
		MemStride:     env.opts.MemStride,
		DatasetFlags:  env.ds.WorkerFlags,
		ExtraFlags:    env.opts.ExtraFlags,
		Device:        device,
		BaseEnv:       env.opts.BaseEnv,
		LogWriter:     logFile,
		Progress: func(stream sam2.OutputStream, line string) {
			if done, total, video, ok := sam2.ParseProgressLine(line); ok {
				env.observer.WorkerProgress(slot, done, total, video)
			}
		},
	})
	reason := ""
	if runErr != nil {
		reason = "exit_nonzero"
		if ctx.Err() != nil {
			reason = "interrupted"
		}
	}
	finishWorker(slot, env, res.ExitCode, runErr, reason)
}

func finishWorker(slot int, env workerEnv, exitCode int, runErr error, reason string) {
	env.stateMu.Lock()
	rec := &env.mf.Workers[slot]
	to := model.StatusCompleted
	if runErr != nil {
		to = model.StatusFailed
		rec.LastError = truncate(runErr.Error(), 1200)
	}
	if err := model.TransitionWorkerStatus(rec, to, reason); err != nil {
		env.logger.Error("worker state", "slot", slot, "error", err)
	}
	rec.ExitCode = exitCode
	rec.FinishedAt = env.now().UTC().Format(time.RFC3339)
	env.persist()
	wr := workerResult(*rec)
	env.stateMu.Unlock()

	if runErr != nil {
		env.logger.Error("inference worker failed", "slot", slot, "device", wr.Device, "exit_code", exitCode, "log", wr.LogFile)
	} else {
		env.logger.Info("inference worker finished", "slot", slot, "device", wr.Device)
	}
	env.observer.WorkerFinished(wr)
}

func removeListFiles(paths []string, logger *slog.Logger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove temporary video list", "path", p, "error", err)
			continue
		}
		logger.Debug("removed temporary video list", "path", p)
	}
}

func workerResult(rec model.WorkerRecord) WorkerResult {
	return WorkerResult{
		Slot:     rec.Slot,
		Device:   rec.Device,
		Videos:   rec.VideoCount,
		Frames:   rec.Frames,
		Status:   rec.Status,
		ExitCode: rec.ExitCode,
		Error:    rec.LastError,
		LogFile:  rec.LogFile,
	}
}

func resultFromManifest(runDir string, devices []string, mf model.RunManifest) Result {
	res := Result{
		RunID:          mf.RunID,
		RunDir:         runDir,
		OutputMaskDir:  mf.OutputMaskDir,
		Devices:        append([]string(nil), devices...),
		Listed:         mf.Listed,
		Sampled:        mf.Sampled,
		Costed:         mf.Costed,
		TotalFrames:    mf.TotalFrames,
		SkippedMissing: append([]string(nil), mf.SkippedMissing...),
		Workers:        make([]WorkerResult, 0, len(mf.Workers)),
		Completed:      mf.Completed,
		Failed:         mf.Failed,
	}
	for _, w := range mf.Workers {
		res.Workers = append(res.Workers, workerResult(w))
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func planFromManifest(runID string, mf model.RunManifest) Plan {
	p := Plan{
		RunID:         runID,
		Dataset:       mf.Dataset,
		ModelVariant:  mf.ModelVariant,
		MemStride:     mf.MemStride,
		OutputMaskDir: mf.OutputMaskDir,
		Slots:         make([]PlannedSlot, 0, len(mf.Workers)),
	}
	for _, w := range mf.Workers {
		p.Slots = append(p.Slots, PlannedSlot{
			Slot:   w.Slot,
			Device: w.Device,
			Videos: w.VideoCount,
			Frames: w.Frames,
			Status: w.Status,
		})
	}
	return p
}
