// Package workspace checks and prepares the directories and tools an
// evaluation run depends on.
package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"sam2-eval/internal/dataset"
	"sam2-eval/internal/runstore"
	"sam2-eval/internal/sam2"
	"sam2-eval/internal/settings"
)

type DoctorOptions struct {
	Settings       settings.Settings
	ConfigPath     string
	ConfigFound    bool
	VisibleDevices string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

// DoctorCheck entries marked Optional are reported but do not fail the result.
type DoctorCheck struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message"`
}

type InitOptions struct {
	ConfigPath string
	Settings   settings.Settings
	Doctor     DoctorOptions
}

type InitResult struct {
	ConfigPath        string       `json:"config_path"`
	RunsDir           string       `json:"runs_dir"`
	OutputsDir        string       `json:"outputs_dir"`
	CreatedRunsDir    bool         `json:"created_runs_dir"`
	CreatedOutputsDir bool         `json:"created_outputs_dir"`
	CreatedConfig     bool         `json:"created_config"`
	DoctorResult      DoctorResult `json:"doctor"`
}

func Doctor(opts DoctorOptions) DoctorResult {
	s := opts.Settings
	checks := make([]DoctorCheck, 0, 8)

	cfgMessage := "not found, using defaults"
	if opts.ConfigFound {
		cfgMessage = "loaded"
	}
	checks = append(checks, DoctorCheck{
		Name:     "config:" + firstNonEmpty(opts.ConfigPath, settings.DefaultConfigPath),
		OK:       true,
		Optional: true,
		Message:  cfgMessage,
	})

	dep := sam2.DependencyStatus(s.Python)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:python",
		OK:      dep.PythonFound,
		Message: dependencyMessage(dep.PythonFound, dep.PythonPath, firstNonEmpty(s.Python, sam2.DefaultPython)),
	})

	devices := s.Devices
	var devErr error
	if len(devices) == 0 {
		devices, devErr = sam2.DetectDevices(opts.VisibleDevices)
	}
	gpuCheck := DoctorCheck{Name: "gpus", OK: devErr == nil}
	if devErr != nil {
		gpuCheck.Message = devErr.Error()
	} else {
		gpuCheck.Message = strings.Join(devices, ",")
	}
	checks = append(checks, gpuCheck)

	script := firstNonEmpty(s.VOSScript, sam2.DefaultVOSScript)
	scriptOK, scriptMessage := fileExists(script)
	checks = append(checks, DoctorCheck{Name: "file:vos_script", OK: scriptOK, Message: scriptMessage})

	for _, name := range dataset.Names() {
		checks = append(checks, datasetCheck(name, s.DataRoot))
	}

	runsOK, runsMessage := ensureWritableDir(s.RunsDir)
	checks = append(checks, DoctorCheck{Name: "directory:runs", OK: runsOK, Message: runsMessage})
	outOK, outMessage := ensureWritableDir(s.OutputsDir)
	checks = append(checks, DoctorCheck{Name: "directory:outputs", OK: outOK, Message: outMessage})

	ok := true
	for _, c := range checks {
		if !c.OK && !c.Optional {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

// InitWorkspace creates the runs and outputs directories and writes a
// settings file when none exists, then runs Doctor.
func InitWorkspace(opts InitOptions) (InitResult, error) {
	s := opts.Settings
	res := InitResult{
		ConfigPath: firstNonEmpty(opts.ConfigPath, settings.DefaultConfigPath),
		RunsDir:    s.RunsDir,
		OutputsDir: s.OutputsDir,
	}

	res.CreatedRunsDir = missing(s.RunsDir)
	if err := runstore.Mkdir(s.RunsDir); err != nil {
		return InitResult{}, err
	}
	res.CreatedOutputsDir = missing(s.OutputsDir)
	if err := runstore.Mkdir(s.OutputsDir); err != nil {
		return InitResult{}, err
	}
	if missing(res.ConfigPath) {
		if err := settings.Save(res.ConfigPath, s); err != nil {
			return InitResult{}, err
		}
		res.CreatedConfig = true
	}

	doc := opts.Doctor
	doc.Settings = s
	doc.ConfigPath = res.ConfigPath
	doc.ConfigFound = true
	res.DoctorResult = Doctor(doc)
	return res, nil
}

func datasetCheck(name, dataRoot string) DoctorCheck {
	check := DoctorCheck{Name: "dataset:" + name, Optional: true}
	ds, err := dataset.Lookup(name, dataRoot)
	if err != nil {
		check.Message = err.Error()
		return check
	}
	for _, p := range []string{ds.BaseVideoDir, ds.InputMaskDir, ds.VideoListFile} {
		if _, err := os.Stat(p); err != nil {
			check.Message = "missing " + p
			return check
		}
	}
	check.OK = true
	check.Message = "found under " + filepath.Clean(dataRoot)
	return check
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func fileExists(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, path + " not found"
	}
	if info.IsDir() {
		return false, path + " is a directory"
	}
	return true, path
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "sam2-eval-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}

func missing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
