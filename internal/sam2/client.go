// Package sam2 drives the external SAM2 toolkit: it builds vos_inference
// invocations, runs them as worker processes and discovers GPUs.
package sam2

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultPython     = "python"
	DefaultVOSScript  = "sam2/tools/vos_inference.py"
	VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"
)

var ErrNoDevices = errors.New("no GPUs detected")

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

type InferenceOptions struct {
	Python        string
	Script        string
	ConfigPath    string
	Checkpoint    string
	BaseVideoDir  string
	InputMaskDir  string
	VideoListFile string
	OutputMaskDir string
	MemStride     int
	DatasetFlags  []string
	ExtraFlags    []string
	// Device is exported to the worker as CUDA_VISIBLE_DEVICES. The caller's
	// environment is copied, never modified.
	Device    string
	BaseEnv   []string
	LogWriter io.Writer
	Progress  func(stream OutputStream, line string)
}

type InferenceResult struct {
	Command  []string
	ExitCode int
}

type DependencyReport struct {
	PythonFound    bool   `json:"python_found"`
	PythonPath     string `json:"python_path,omitempty"`
	NvidiaSMIFound bool   `json:"nvidia_smi_found"`
	NvidiaSMIPath  string `json:"nvidia_smi_path,omitempty"`
}

func DependencyStatus(python string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(firstNonEmpty(python, DefaultPython)); err == nil {
		report.PythonFound = true
		report.PythonPath = path
	}
	if path, err := exec.LookPath("nvidia-smi"); err == nil {
		report.NvidiaSMIFound = true
		report.NvidiaSMIPath = path
	}
	return report
}

func CheckPython(python string) error {
	bin := firstNonEmpty(python, DefaultPython)
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", bin)
	}
	return nil
}

// DetectDevices lists the GPU ids workers may bind to. A non-empty visible
// value (the parent's CUDA_VISIBLE_DEVICES) wins; otherwise nvidia-smi is asked.
func DetectDevices(visible string) ([]string, error) {
	if v := strings.TrimSpace(visible); v != "" {
		devices := ParseDeviceList(v)
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: %s=%q", ErrNoDevices, VisibleDevicesEnv, visible)
		}
		return devices, nil
	}

	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil, fmt.Errorf("%w: nvidia-smi not found on PATH", ErrNoDevices)
	}
	cmd := exec.Command("nvidia-smi", "--query-gpu=index", "--format=csv,noheader")
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: nvidia-smi failed: %v: %s", ErrNoDevices, err, strings.TrimSpace(stderr.String()))
	}
	devices := ParseDeviceList(strings.ReplaceAll(stdout.String(), "\n", ","))
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// ParseDeviceList splits a comma separated id list. "-1" hides every GPU.
func ParseDeviceList(raw string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, ",") {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		if v == "-1" {
			return []string{}
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func BuildInferenceArgs(opts InferenceOptions) []string {
	args := []string{
		firstNonEmpty(opts.Script, DefaultVOSScript),
		"--sam2_cfg", opts.ConfigPath,
		"--sam2_checkpoint", opts.Checkpoint,
		"--base_video_dir", opts.BaseVideoDir,
		"--input_mask_dir", opts.InputMaskDir,
		"--video_list_file", opts.VideoListFile,
		"--output_mask_dir", opts.OutputMaskDir,
	}
	args = append(args, opts.DatasetFlags...)
	memStride := opts.MemStride
	if memStride <= 0 {
		memStride = 1
	}
	args = append(args, "--sam2_memstride", strconv.Itoa(memStride))
	args = append(args, opts.ExtraFlags...)
	return args
}

func WorkerEnv(base []string, device string) []string {
	env := make([]string, 0, len(base)+1)
	prefix := VisibleDevicesEnv + "="
	for _, kv := range base {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		env = append(env, kv)
	}
	return append(env, prefix+device)
}

func validateInference(opts InferenceOptions) error {
	required := []struct {
		name  string
		value string
	}{
		{"config path", opts.ConfigPath},
		{"checkpoint", opts.Checkpoint},
		{"base video dir", opts.BaseVideoDir},
		{"input mask dir", opts.InputMaskDir},
		{"video list file", opts.VideoListFile},
		{"output mask dir", opts.OutputMaskDir},
		{"device", opts.Device},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

// RunInference runs one vos_inference worker to completion. A non-zero exit
// is returned as an error alongside the exit code.
func RunInference(ctx context.Context, opts InferenceOptions) (InferenceResult, error) {
	if err := validateInference(opts); err != nil {
		return InferenceResult{ExitCode: -1}, err
	}
	python := firstNonEmpty(opts.Python, DefaultPython)
	args := BuildInferenceArgs(opts)
	res := InferenceResult{Command: append([]string{python}, args...), ExitCode: -1}

	base := opts.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Env = WorkerEnv(base, opts.Device)

	code, err := runCommand(cmd, opts)
	res.ExitCode = code
	return res, err
}

func runCommand(cmd *exec.Cmd, opts InferenceOptions) (int, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendTail(&outBuf, &errBuf, stream, line)
			if opts.LogWriter != nil {
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
			}
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		mu.Lock()
		defer mu.Unlock()
		return code, fmt.Errorf("vos_inference failed: %w\n%s", err, strings.TrimSpace(errBuf.String()))
	}
	return 0, nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendTail keeps the last maxKeep bytes of each stream for error reports.
func appendTail(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	s := b.String() + line + "\n"
	if len(s) > maxKeep {
		s = s[len(s)-maxKeep:]
	}
	b.Reset()
	b.WriteString(s)
}

var reProgress = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*-\s*running on\s+(\S+)`)

// ParseProgressLine recognizes vos_inference's "<k>/<n> - running on <video>" lines.
func ParseProgressLine(line string) (done, total int, video string, ok bool) {
	m := reProgress.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, "", false
	}
	done, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return done, total, m[3], true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
