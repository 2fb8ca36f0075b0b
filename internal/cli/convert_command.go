package cli

import (
	"flag"
	"fmt"
	"os"

	"sam2-eval/internal/dataset"
)

type convertResult struct {
	Dataset  string `json:"dataset"`
	MetaFile string `json:"meta_file"`
	ListFile string `json:"list_file"`
	Videos   int    `json:"videos"`
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	datasetName := fs.String("dataset", dataset.SeCVOS, "dataset whose layout supplies default paths")
	meta := fs.String("meta", "", "metadata JSON path (default: dataset meta file)")
	out := fs.String("out", "", "video list output path (default: dataset val.txt)")
	dataRoot := fs.String("data-root", "", "directory holding dataset folders (default: settings data_root)")
	config := fs.String("config", "", "settings file path (default: sam2-eval.yaml)")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, _, err := loadSettings(*config)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, *logLevel)

	ds, err := dataset.Lookup(*datasetName, firstNonEmpty(*dataRoot, s.DataRoot))
	if err != nil {
		return err
	}
	metaPath := firstNonEmpty(*meta, ds.MetaFile)
	if metaPath == "" {
		fs.Usage()
		return fmt.Errorf("--meta is required: dataset %s has no metadata file", ds.Name)
	}
	listPath := firstNonEmpty(*out, ds.VideoListFile)

	ids, err := dataset.ReadMetadataFile(metaPath)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		logger.Warn("metadata lists no videos", "meta", metaPath)
	}
	if err := dataset.WriteVideoList(listPath, ids); err != nil {
		return err
	}
	logger.Debug("video list written", "path", listPath, "videos", len(ids))

	res := convertResult{Dataset: ds.Name, MetaFile: metaPath, ListFile: listPath, Videos: len(ids)}
	if *jsonOut {
		return printJSON(res)
	}
	fmt.Printf("video list created at: %s\n", res.ListFile)
	fmt.Printf("videos: %d\n", res.Videos)
	return nil
}
