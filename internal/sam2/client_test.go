package sam2

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestBuildInferenceArgs(t *testing.T) {
	got := BuildInferenceArgs(InferenceOptions{
		ConfigPath:    "configs/sam2.1/sam2.1_hiera_l.yaml",
		Checkpoint:    "ckpt.pt",
		BaseVideoDir:  "SeCVOS/JPEGImages",
		InputMaskDir:  "SeCVOS/Annotations",
		VideoListFile: "runs/r1/val_part_gpu0.txt",
		OutputMaskDir: "outputs/x",
		MemStride:     3,
		DatasetFlags:  []string{"--track_object_appearing_later_in_video", "--per_obj_png_file"},
		ExtraFlags:    []string{"--use_all_masks"},
	})
	want := []string{
		DefaultVOSScript,
		"--sam2_cfg", "configs/sam2.1/sam2.1_hiera_l.yaml",
		"--sam2_checkpoint", "ckpt.pt",
		"--base_video_dir", "SeCVOS/JPEGImages",
		"--input_mask_dir", "SeCVOS/Annotations",
		"--video_list_file", "runs/r1/val_part_gpu0.txt",
		"--output_mask_dir", "outputs/x",
		"--track_object_appearing_later_in_video", "--per_obj_png_file",
		"--sam2_memstride", "3",
		"--use_all_masks",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", got, want)
	}
}

func TestWorkerEnvReplacesVisibleDevices(t *testing.T) {
	base := []string{"PATH=/bin", "CUDA_VISIBLE_DEVICES=0,1,2", "HOME=/root"}
	got := WorkerEnv(base, "2")
	want := []string{"PATH=/bin", "HOME=/root", "CUDA_VISIBLE_DEVICES=2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if base[1] != "CUDA_VISIBLE_DEVICES=0,1,2" {
		t.Fatalf("base environment was modified: %v", base)
	}
}

func TestParseDeviceList(t *testing.T) {
	cases := map[string][]string{
		"0,1":       {"0", "1"},
		" 2 , 3 ,2": {"2", "3"},
		"":          {},
		"-1":        {},
		"GPU-abc":   {"GPU-abc"},
	}
	for in, want := range cases {
		if got := ParseDeviceList(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("ParseDeviceList(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseProgressLine(t *testing.T) {
	done, total, video, ok := ParseProgressLine("3/12 - running on 0a1b2c")
	if !ok || done != 3 || total != 12 || video != "0a1b2c" {
		t.Fatalf("unexpected parse: %d %d %q %v", done, total, video, ok)
	}
	if _, _, _, ok := ParseProgressLine("loading checkpoint"); ok {
		t.Fatalf("expected non-progress line to be rejected")
	}
}

func TestDetectDevicesPrefersVisibleValue(t *testing.T) {
	devices, err := DetectDevices("1,3")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(devices, []string{"1", "3"}) {
		t.Fatalf("unexpected devices %v", devices)
	}
	if _, err := DetectDevices("-1"); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}

func TestDetectDevicesQueriesNvidiaSMI(t *testing.T) {
	fakeBin := t.TempDir()
	writeScript(t, fakeBin, "nvidia-smi", `#!/usr/bin/env bash
set -euo pipefail
printf '0\n1\n'
`)
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))

	devices, err := DetectDevices("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(devices, []string{"0", "1"}) {
		t.Fatalf("unexpected devices %v", devices)
	}
}

func TestDetectDevicesWithoutNvidiaSMI(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := DetectDevices(""); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}

func TestRunInferencePassesDeviceAndStreamsOutput(t *testing.T) {
	fakeBin := t.TempDir()
	writeScript(t, fakeBin, "python", `#!/usr/bin/env bash
echo "device=$CUDA_VISIBLE_DEVICES"
echo "1/2 - running on vidA"
printf '2/2 - running on vidB\r'
echo "boom" >&2
exit "${FAKE_EXIT:-0}"
`)

	var log bytes.Buffer
	var progress []string
	opts := InferenceOptions{
		Python:        filepath.Join(fakeBin, "python"),
		ConfigPath:    "cfg.yaml",
		Checkpoint:    "ckpt.pt",
		BaseVideoDir:  "videos",
		InputMaskDir:  "masks",
		VideoListFile: "list.txt",
		OutputMaskDir: "out",
		Device:        "5",
		BaseEnv:       []string{"PATH=" + os.Getenv("PATH"), "CUDA_VISIBLE_DEVICES=0"},
		LogWriter:     &log,
		Progress: func(stream OutputStream, line string) {
			if stream == StreamStdout {
				progress = append(progress, line)
			}
		},
	}

	res, err := RunInference(context.Background(), opts)
	if err != nil {
		t.Fatalf("run inference: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if !strings.Contains(log.String(), "device=5") {
		t.Fatalf("expected worker to see device 5, log:\n%s", log.String())
	}
	if len(progress) != 3 || progress[2] != "2/2 - running on vidB" {
		t.Fatalf("unexpected progress lines %q", progress)
	}

	opts.BaseEnv = append(opts.BaseEnv, "FAKE_EXIT=3")
	opts.Progress = nil
	res, err = RunInference(context.Background(), opts)
	if err == nil {
		t.Fatalf("expected failure for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestRunInferenceRequiresDevice(t *testing.T) {
	_, err := RunInference(context.Background(), InferenceOptions{
		ConfigPath: "c", Checkpoint: "k", BaseVideoDir: "v", InputMaskDir: "m",
		VideoListFile: "l", OutputMaskDir: "o",
	})
	if err == nil || !strings.Contains(err.Error(), "device") {
		t.Fatalf("expected device validation error, got %v", err)
	}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}
