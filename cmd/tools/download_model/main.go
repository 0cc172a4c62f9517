package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nupi-ai/whisper-stream-server/internal/logging"
	"github.com/nupi-ai/whisper-stream-server/internal/models"
)

func main() {
	var (
		variant = flag.String("variant", "base", "whisper.cpp model variant, e.g. tiny, base.en, small")
		output  = flag.String("dir", "testdata", "base directory where models/<file> will be stored")
		baseURL = flag.String("base-url", models.DefaultBaseURL, "URL prefix the ggml-<variant>.bin file is fetched from")
	)
	flag.Parse()

	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "download_model: --dir must not be empty")
		os.Exit(2)
	}

	logger, syncLogs, err := logging.New(logging.Options{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = syncLogs() }()

	baseDir := filepath.Clean(*output)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	manager, err := models.NewManager(baseDir, logger, models.WithBaseURL(*baseURL))
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: init manager: %v\n", err)
		os.Exit(1)
	}

	path, err := manager.Ensure(ctx, *variant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: ensure variant %q: %v\n", *variant, err)
		os.Exit(1)
	}

	fmt.Printf("Model %q ready at %s\n", *variant, path)
}
