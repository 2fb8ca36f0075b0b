// Package dataset knows the benchmark layouts and SAM2 model variants the
// evaluation runs against.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrUnknownModel   = errors.New("unknown model variant")
)

const (
	MOSEv2 = "MOSEv2"
	SeCVOS = "SeCVOS"
)

type Dataset struct {
	Name          string
	BaseVideoDir  string
	InputMaskDir  string
	VideoListFile string
	// MetaFile is empty when the dataset ships its own video list.
	MetaFile string
	// WorkerFlags are appended to every vos_inference invocation for this dataset.
	WorkerFlags []string
}

type ModelVariant struct {
	Name       string
	ConfigPath string
	Checkpoint string
}

type layout struct {
	baseVideoDir  string
	inputMaskDir  string
	videoListFile string
	metaFile      string
	workerFlags   []string
}

var datasets = map[string]layout{
	MOSEv2: {
		baseVideoDir:  "MOSEv2/valid/JPEGImages",
		inputMaskDir:  "MOSEv2/valid/Annotations",
		videoListFile: "MOSEv2/ImageSets/val.txt",
		workerFlags:   []string{"--track_object_appearing_later_in_video"},
	},
	SeCVOS: {
		baseVideoDir:  "SeCVOS/JPEGImages",
		inputMaskDir:  "SeCVOS/Annotations",
		videoListFile: "SeCVOS/ImageSets/val.txt",
		metaFile:      "SeCVOS/meta_expressions.json",
		workerFlags:   []string{"--track_object_appearing_later_in_video", "--per_obj_png_file"},
	},
}

const finetunedVariants = 10

func Names() []string {
	out := make([]string, 0, len(datasets))
	for name := range datasets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a dataset name against dataRoot.
func Lookup(name, dataRoot string) (Dataset, error) {
	l, ok := datasets[strings.TrimSpace(name)]
	if !ok {
		return Dataset{}, fmt.Errorf("%w %q (expected one of %s)", ErrUnknownDataset, name, strings.Join(Names(), ", "))
	}
	root := dataRoot
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	ds := Dataset{
		Name:          strings.TrimSpace(name),
		BaseVideoDir:  filepath.Join(root, l.baseVideoDir),
		InputMaskDir:  filepath.Join(root, l.inputMaskDir),
		VideoListFile: filepath.Join(root, l.videoListFile),
		WorkerFlags:   append([]string(nil), l.workerFlags...),
	}
	if l.metaFile != "" {
		ds.MetaFile = filepath.Join(root, l.metaFile)
	}
	return ds, nil
}

func ModelNames() []string {
	out := []string{"base_plus", "large"}
	for i := 1; i <= finetunedVariants; i++ {
		out = append(out, "finetuned"+strconv.Itoa(i))
	}
	return out
}

// LookupModel resolves a variant to its config and checkpoint. Config paths
// are resolved by the SAM2 package itself; checkpoints are relative to root.
func LookupModel(name, root string) (ModelVariant, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "base_plus":
		return ModelVariant{
			Name:       name,
			ConfigPath: "configs/sam2.1/sam2.1_hiera_b+.yaml",
			Checkpoint: filepath.Join(root, "sam2/checkpoints/sam2.1_hiera_base_plus.pt"),
		}, nil
	case name == "large":
		return ModelVariant{
			Name:       name,
			ConfigPath: "configs/sam2.1/sam2.1_hiera_l.yaml",
			Checkpoint: filepath.Join(root, "sam2/checkpoints/sam2.1_hiera_large.pt"),
		}, nil
	case strings.HasPrefix(name, "finetuned"):
		n, err := strconv.Atoi(strings.TrimPrefix(name, "finetuned"))
		if err != nil || n < 1 || n > finetunedVariants || strconv.Itoa(n) != strings.TrimPrefix(name, "finetuned") {
			break
		}
		return ModelVariant{
			Name:       name,
			ConfigPath: "configs/sam2.1/sam2.1_hiera_b+.yaml",
			Checkpoint: filepath.Join(root, fmt.Sprintf("sam2_logs/configs/sam2.1_training/sam2.1_hiera_b+_DAVIS_finetune_memstride%d/checkpoints/checkpoint.pt", n)),
		}, nil
	}
	return ModelVariant{}, fmt.Errorf("%w %q (expected base_plus, large, or finetuned1..finetuned%d)", ErrUnknownModel, name, finetunedVariants)
}

// OutputLabel names a variant's result folders; the plot command parses it back.
func (m ModelVariant) OutputLabel() string {
	return "sam2.1_hiera_" + m.Name
}

func PredictionsRoot(outputsDir, datasetName string) string {
	return filepath.Join(outputsDir, datasetName+"_pred_pngs")
}

func RunLabel(datasetName string, m ModelVariant, memStride int) string {
	return fmt.Sprintf("%s_%s_memstride%d", datasetName, m.OutputLabel(), memStride)
}

func OutputMaskDir(outputsDir, datasetName string, m ModelVariant, memStride int) string {
	return filepath.Join(PredictionsRoot(outputsDir, datasetName), RunLabel(datasetName, m, memStride))
}
