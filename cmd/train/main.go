package main

import (
	"flag"
	"path/filepath"
	"strings"

	"github.com/kserra/trainkit/config"
	"github.com/kserra/trainkit/logging"
	"github.com/kserra/trainkit/training"
)

func main() {
	var (
		configPath = flag.String("c", "", "path to the training configuration YAML")
		dataRoot   = flag.String("dataroot", "data", "directory holding the datasets")
		savePath   = flag.String("save", "", "checkpoint file; resumes from it when present")
		tag        = flag.String("tag", "", "run tag for summary output (default: config file name)")
		logFile    = flag.String("log", "", "also write the run log to this file")
		onlyEval   = flag.Bool("only-eval", false, "skip training and evaluate the loaded model")
		metric     = flag.String("metric", training.DefaultMetric, "validation metric tracked for best-checkpoint selection")
		verbose    = flag.Bool("verbose", false, "log per-batch progress")
	)
	flag.Parse()

	logger := logging.New("train")
	if *logFile != "" {
		if err := logger.AddFile(*logFile); err != nil {
			logger.Fatalf("%v", err)
		}
		defer logger.Close()
	}

	if *configPath == "" {
		logger.Fatalf("no configuration given, use -c")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	runTag := *tag
	if runTag == "" {
		base := filepath.Base(*configPath)
		runTag = strings.TrimSuffix(base, filepath.Ext(base))
	}

	trainer, err := training.New(cfg, training.Options{
		DataRoot: *dataRoot,
		SavePath: *savePath,
		Tag:      runTag,
		OnlyEval: *onlyEval,
		Metric:   *metric,
		Logger:   logger,
		Verbose:  *verbose,
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer trainer.Close()

	result, err := trainer.Run()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	if result.BestEpoch > 0 {
		logger.Printf("done: best %s %.4f at epoch %d", result.BestMetric, result.BestValue, result.BestEpoch)
	} else if result.Valid != nil {
		logger.Printf("done: valid %s", result.Valid)
	}
}
