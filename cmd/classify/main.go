package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Brownie44l1/certan-api/internal/artifact"
	"github.com/Brownie44l1/certan-api/internal/config"
	"github.com/Brownie44l1/certan-api/internal/logging"
	"github.com/Brownie44l1/certan-api/internal/model"
)

func main() {
	cfg := config.Load()

	modelPath := flag.String("model", cfg.ModelPath, "path to the .onnx model, downloaded if missing")
	metadataPath := flag.String("metadata", cfg.MetadataPath, "path to the sidecar metadata JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <image file>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Logs go to stderr so stdout stays a clean result table.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "certan-classify", cfg.LogLevel))
	if err := run(context.Background(), cfg, *modelPath, *metadataPath, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, modelPath, metadataPath string, files []string) error {
	fetcher := artifact.New(artifact.Config{
		URL:                cfg.ModelURL,
		Path:               modelPath,
		Timeout:            cfg.DownloadTimeout,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})
	provider := model.NewProvider(fetcher, model.ONNXLoader(model.ONNXConfig{
		MetadataPath:      metadataPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		PoolSize:          1,
	}))
	defer model.ShutdownEnvironment()
	defer provider.Close()

	classifier, err := provider.Classifier(ctx)
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		pred, err := classifier.ClassifyBytes(ctx, data)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Printf("%s\t%s\t%d\n", file, pred.Label, pred.Index)
	}
	return nil
}
