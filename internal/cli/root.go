package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "convert":
		return runConvert(args[1:])
	case "run":
		return runLaunch(args[1:])
	case "plot":
		return runPlot(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("sam2-eval: multi-GPU SAM2 video segmentation evaluation runner")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  sam2-eval init")
	fmt.Println("  sam2-eval convert --dataset SeCVOS")
	fmt.Println("  sam2-eval run --dataset SeCVOS --model large --memstride 2")
	fmt.Println("  sam2-eval plot --dataset SeCVOS")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init      write sam2-eval.yaml, create runs/outputs dirs, run checks")
	fmt.Println("  doctor    run dependency, GPU and dataset layout checks")
	fmt.Println("  convert   turn a dataset metadata JSON into a video list file")
	fmt.Println("  run       split a dataset across GPUs and run vos_inference per GPU")
	fmt.Println("  plot      chart the scorer's Global score metric against memstride")
	fmt.Println("  publish   upload the chart and score tables to object storage")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Log verbosity: --log-level or SAM2EVAL_LOG_LEVEL (debug|info|warn|error)")
	fmt.Println("  - Object storage credentials: SAM2EVAL_S3_ACCESS_KEY, SAM2EVAL_S3_SECRET_KEY")
}
