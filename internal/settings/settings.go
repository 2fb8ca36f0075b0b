// Package settings loads the optional sam2-eval.yaml workspace file and
// merges it with command-line overrides.
package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"sam2-eval/internal/dataset"
	"sam2-eval/internal/runstore"
	"sam2-eval/internal/sam2"
)

const (
	DefaultConfigPath = "sam2-eval.yaml"
	DefaultDataRoot   = "."
	DefaultOutputsDir = "outputs"
	DefaultRunsDir    = "runs"
	DefaultMetric     = "J&F"
)

var ErrInvalid = errors.New("invalid settings")

type Settings struct {
	Python     string                    `yaml:"python,omitempty" json:"python"`
	VOSScript  string                    `yaml:"vos_script,omitempty" json:"vos_script"`
	DataRoot   string                    `yaml:"data_root,omitempty" json:"data_root"`
	OutputsDir string                    `yaml:"outputs_dir,omitempty" json:"outputs_dir"`
	RunsDir    string                    `yaml:"runs_dir,omitempty" json:"runs_dir"`
	Devices    []string                  `yaml:"devices,omitempty" json:"devices,omitempty"`
	Sampling   map[string]SamplingConfig `yaml:"sampling,omitempty" json:"sampling,omitempty"`
	Publish    PublishConfig             `yaml:"publish,omitempty" json:"publish"`
}

type SamplingConfig struct {
	Fraction float64 `yaml:"fraction" json:"fraction"`
	Seed     uint64  `yaml:"seed" json:"seed"`
}

type PublishConfig struct {
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	UseSSL   *bool  `yaml:"use_ssl,omitempty" json:"use_ssl,omitempty"`
}

// Defaults subsample MOSEv2 to a fixed 10% with seed 42; SeCVOS runs in full.
func Defaults() Settings {
	return Settings{
		Python:     sam2.DefaultPython,
		VOSScript:  sam2.DefaultVOSScript,
		DataRoot:   DefaultDataRoot,
		OutputsDir: DefaultOutputsDir,
		RunsDir:    DefaultRunsDir,
		Sampling: map[string]SamplingConfig{
			dataset.MOSEv2: {Fraction: 0.1, Seed: 42},
		},
	}
}

// Load reads path and fills unset fields with defaults. A missing file is not
// an error; exists reports whether it was found.
func Load(path string) (s Settings, exists bool, err error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = DefaultConfigPath
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), false, nil
		}
		return Settings{}, false, fmt.Errorf("read settings %s: %w", p, err)
	}

	var raw Settings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Settings{}, true, fmt.Errorf("parse settings %s: %w", p, err)
	}
	merged := merge(raw)
	if err := merged.Validate(); err != nil {
		return Settings{}, true, fmt.Errorf("settings %s: %w", p, err)
	}
	return merged, true, nil
}

// Save writes s as YAML. Existing files are replaced atomically.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return runstore.WriteBytes(firstNonEmpty(path, DefaultConfigPath), data)
}

func merge(raw Settings) Settings {
	def := Defaults()
	out := Settings{
		Python:     firstNonEmpty(raw.Python, def.Python),
		VOSScript:  firstNonEmpty(raw.VOSScript, def.VOSScript),
		DataRoot:   firstNonEmpty(raw.DataRoot, def.DataRoot),
		OutputsDir: firstNonEmpty(raw.OutputsDir, def.OutputsDir),
		RunsDir:    firstNonEmpty(raw.RunsDir, def.RunsDir),
		Devices:    normalizeList(raw.Devices),
		Sampling:   def.Sampling,
		Publish:    raw.Publish,
	}
	if raw.Sampling != nil {
		// An explicit sampling table replaces the defaults entirely.
		out.Sampling = raw.Sampling
	}
	return out
}

func (s Settings) Validate() error {
	names := make([]string, 0, len(s.Sampling))
	for name := range s.Sampling {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := dataset.Lookup(name, s.DataRoot); err != nil {
			return fmt.Errorf("%w: sampling: %v", ErrInvalid, err)
		}
		if f := s.Sampling[name].Fraction; f < 0 || f > 1 {
			return fmt.Errorf("%w: sampling.%s.fraction must be within [0, 1], got %v", ErrInvalid, name, f)
		}
	}
	return nil
}

// SamplingFor returns the sampling for a dataset, applying overrides. A
// negative fractionOverride keeps the configured fraction; a nil seedOverride
// keeps the configured seed.
func (s Settings) SamplingFor(name string, fractionOverride float64, seedOverride *uint64) (dataset.Sampling, error) {
	cfg := s.Sampling[name]
	out := dataset.Sampling{Fraction: cfg.Fraction, Seed: cfg.Seed}
	if fractionOverride >= 0 {
		if fractionOverride > 1 {
			return dataset.Sampling{}, fmt.Errorf("%w: sample fraction must be within [0, 1], got %v", ErrInvalid, fractionOverride)
		}
		out.Fraction = fractionOverride
	}
	if seedOverride != nil {
		out.Seed = *seedOverride
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func normalizeList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
