package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sophon-labs/sophon/internal/config"
	"github.com/sophon-labs/sophon/internal/httpx"
	"github.com/sophon-labs/sophon/internal/observability"
	"github.com/sophon-labs/sophon/internal/operation"
	"github.com/sophon-labs/sophon/internal/progress"
	"github.com/sophon-labs/sophon/internal/sophon"
)

var version = "dev"

func main() {
	cfg := config.DefaultConfig()

	gameDir := flag.String("game-dir", "", "game install directory")
	chunksDir := flag.String("chunks-dir", "", "chunk working directory (default: <game-dir>/chunks)")
	statusPath := flag.String("status-file", "", "predownload status file (default: <game-dir>/predownload.json)")
	localPath := flag.String("local-build", "", "local build descriptor JSON file")
	remotePath := flag.String("remote-build", "", "remote build descriptor JSON file")
	languages := flag.String("languages", "", "comma-separated audio languages (zh-cn,en-us,ja-jp,ko-kr)")
	workers := flag.Int("workers", cfg.Workers, "parallel worker count")
	httpTimeout := flag.Int("http-timeout", int(cfg.HTTPTimeout.Seconds()), "http timeout in seconds")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics and /healthz (optional)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sophon [options] <install|verify|update|predownload>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var kind operation.Kind
	switch flag.Arg(0) {
	case "install":
		kind = operation.KindInstall
	case "verify":
		kind = operation.KindVerify
	case "update":
		kind = operation.KindUpdate
	case "predownload":
		kind = operation.KindPredownload
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", flag.Arg(0))
		os.Exit(1)
	}

	if *gameDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -game-dir is required")
		os.Exit(1)
	}
	if *chunksDir == "" {
		*chunksDir = filepath.Join(*gameDir, "chunks")
	}
	if *statusPath == "" {
		*statusPath = filepath.Join(*gameDir, "predownload.json")
	}

	log := observability.NewLogger("sophon", version, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "sophon")
	if err != nil {
		log.Error(err, "failed to initialize tracing")
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics(nil)
	if *metricsAddr != "" {
		health := observability.NewHealthChecker(version)
		health.RegisterCheck("game_dir", observability.DirectoryWritableCheck(*gameDir))
		health.RegisterCheck("chunks_dir", observability.DirectoryWritableCheck(*chunksDir))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", health.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error(err, "metrics server stopped")
			}
		}()
	}

	local, err := loadBuild(*localPath)
	if err != nil {
		log.Error(err, "failed to load local build descriptor")
		os.Exit(1)
	}
	remote, err := loadBuild(*remotePath)
	if err != nil {
		log.Error(err, "failed to load remote build descriptor")
		os.Exit(1)
	}
	if requiresRemote(kind) && remote == nil {
		fmt.Fprintln(os.Stderr, "Error: -remote-build is required for this command")
		os.Exit(1)
	}
	if requiresLocal(kind) && local == nil {
		fmt.Fprintln(os.Stderr, "Error: -local-build is required for this command")
		os.Exit(1)
	}

	orch := operation.New(operation.Options{
		Client:          httpx.New(time.Duration(*httpTimeout) * time.Second),
		Logger:          log,
		Metrics:         metrics,
		Workers:         *workers,
		EventBufferSize: cfg.EventBufferSize,
		Observer:        printEvent,
	})

	// Cancel cooperatively on the first signal; the chunk store is retained
	// so a later run resumes where this one stopped.
	go func() {
		<-ctx.Done()
		orch.Cancel()
	}()

	ok, err := orch.Start(context.Background(), operation.Context{
		GameDirectory:         *gameDir,
		ChunksDirectory:       *chunksDir,
		PredownloadStatusPath: *statusPath,
		LocalBuild:            local,
		RemoteBuild:           remote,
		Audio:                 parseLanguages(*languages),
		Kind:                  kind,
	})
	if err != nil {
		log.Error(err, "operation failed")
		os.Exit(1)
	}
	if !ok {
		os.Exit(130)
	}
}

func loadBuild(path string) (*sophon.Build, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var b sophon.Build
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &b, nil
}

func parseLanguages(s string) sophon.AudioLanguages {
	var langs sophon.AudioLanguages
	for _, lang := range strings.Split(s, ",") {
		switch strings.TrimSpace(lang) {
		case sophon.FieldZhCN:
			langs.ZhCN = true
		case sophon.FieldEnUS:
			langs.EnUS = true
		case sophon.FieldJaJP:
			langs.JaJP = true
		case sophon.FieldKoKR:
			langs.KoKR = true
		}
	}
	return langs
}

func requiresRemote(k operation.Kind) bool {
	return k == operation.KindInstall || k == operation.KindUpdate || k == operation.KindPredownload
}

func requiresLocal(k operation.Kind) bool {
	return k == operation.KindVerify || k == operation.KindUpdate || k == operation.KindPredownload
}

func printEvent(ev progress.Event) {
	switch ev.Type {
	case progress.EventStatus:
		fmt.Fprintln(os.Stderr, ev.Message)
	case progress.EventCompleted, progress.EventCancelled, progress.EventFailed:
		fmt.Fprintf(os.Stderr, "%s %s\n", ev.Type, ev.Message)
	}
}
