package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"sam2-eval/internal/sam2"
	"sam2-eval/internal/settings"
	"sam2-eval/internal/workspace"
)

func loadSettings(path string) (settings.Settings, bool, error) {
	return settings.Load(firstNonEmpty(path, settings.DefaultConfigPath))
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	config := fs.String("config", settings.DefaultConfigPath, "settings file path")
	runsDir := fs.String("runs-dir", "", "runs directory")
	outputsDir := fs.String("outputs-dir", "", "prediction outputs directory")
	dataRoot := fs.String("data-root", "", "directory holding dataset folders")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, _, err := loadSettings(*config)
	if err != nil {
		return err
	}
	s.RunsDir = firstNonEmpty(*runsDir, s.RunsDir)
	s.OutputsDir = firstNonEmpty(*outputsDir, s.OutputsDir)
	s.DataRoot = firstNonEmpty(*dataRoot, s.DataRoot)

	res, err := workspace.InitWorkspace(workspace.InitOptions{
		ConfigPath: strings.TrimSpace(*config),
		Settings:   s,
		Doctor:     workspace.DoctorOptions{VisibleDevices: os.Getenv(sam2.VisibleDevicesEnv)},
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("config: %s\n", res.ConfigPath)
	fmt.Printf("runs_dir: %s\n", res.RunsDir)
	fmt.Printf("outputs_dir: %s\n", res.OutputsDir)
	fmt.Printf("created_config: %t\n", res.CreatedConfig)
	fmt.Printf("created_runs_dir: %t\n", res.CreatedRunsDir)
	fmt.Printf("created_outputs_dir: %t\n", res.CreatedOutputsDir)
	fmt.Println("checks:")
	printChecks("  ", res.DoctorResult.Checks)
	if !res.DoctorResult.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: sam2-eval run --dataset <MOSEv2|SeCVOS> --model <variant>")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	config := fs.String("config", settings.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, found, err := loadSettings(*config)
	if err != nil {
		return err
	}
	res := workspace.Doctor(workspace.DoctorOptions{
		Settings:       s,
		ConfigPath:     strings.TrimSpace(*config),
		ConfigFound:    found,
		VisibleDevices: os.Getenv(sam2.VisibleDevicesEnv),
	})
	if *jsonOut {
		return printJSON(res)
	}

	printChecks("", res.Checks)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func printChecks(indent string, checks []workspace.DoctorCheck) {
	for _, c := range checks {
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, checkStatus(c.OK, c.Optional), c.Message)
	}
}
