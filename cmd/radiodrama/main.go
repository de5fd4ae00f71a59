package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/jobs"
	"github.com/loqalabs/radiodrama/internal/pipeline"
	"github.com/loqalabs/radiodrama/internal/presence"
	"github.com/loqalabs/radiodrama/internal/runtime"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "0.1.0-dev"

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: radiodrama [-config file] <command> [args]\n\n")
	fmt.Fprintf(out, "commands:\n")
	fmt.Fprintf(out, "  text <story.txt>...            extract dialog, roles and intervals\n")
	fmt.Fprintf(out, "  speech <story.txt>...          cast and synthesize every line\n")
	fmt.Fprintf(out, "  ambience <story.txt>...        generate the ambient track\n")
	fmt.Fprintf(out, "  merge -o out.wav <story.txt>... mix and join chapters\n")
	fmt.Fprintf(out, "  run [-o out.wav] <story.txt>   run every stage\n")
	fmt.Fprintf(out, "  serve                          accept jobs over the bus\n")
	fmt.Fprintf(out, "  version                        print the version\n\n")
	flag.PrintDefaults()
}

func main() {
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults and DRAMA_* environment when empty)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger, closeLog := newLogger(cfg.Telemetry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = dispatch(ctx, cfg, logger, args[0], args[1:])
	closeLog()
	if err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "radiodrama %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

// newLogger writes JSON to stdout, or to a size-rotated file when log_file is
// set.
func newLogger(cfg config.TelemetryConfig) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFile == "" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), func() {}
	}
	w := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, opts)), func() { _ = w.Close() }
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, cfg config.Config, logger *slog.Logger, command string, args []string) error {
	switch command {
	case "text", "speech", "ambience", "merge", "run", "serve":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	rt := runtime.New(cfg, logger)
	if err := rt.Setup(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(ctx, cfg, logger, command == "serve")
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "serve":
		return serve(ctx, a, rt)
	case "merge":
		return merge(ctx, a, args)
	case "run":
		return runAll(ctx, a, args)
	default:
		return runStage(ctx, a, command, args)
	}
}

func runStage(ctx context.Context, a *app, stage string, sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("%w: %s needs at least one story file", errUsage, stage)
	}
	for _, source := range sources {
		res, err := a.pipe.Run(ctx, uuid.NewString(), source, []string{stage}, a.cast, "")
		if res.Timbres != nil {
			a.saveSeed()
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", stage, source, err)
		}
		a.logger.Info("stage complete", slog.String("stage", stage), slog.String("source", source), slog.Any("outputs", res.Outputs))
	}
	return nil
}

func runAll(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	output := fs.String("o", "", "Output WAV (default <results>/<name>.wav)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: run needs exactly one story file", errUsage)
	}
	source := fs.Arg(0)
	out := *output
	if out == "" {
		layout := a.pipe.Layout(source)
		out = filepath.Join(layout.Results, layout.Name+".wav")
	}
	res, err := a.pipe.Run(ctx, uuid.NewString(), source, pipeline.Stages, a.cast, out)
	if res.Timbres != nil {
		a.saveSeed()
	}
	if err != nil {
		return err
	}
	a.logger.Info("drama complete", slog.String("output", out))
	return nil
}

func merge(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	output := fs.String("o", "", "Output WAV")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *output == "" || fs.NArg() == 0 {
		return fmt.Errorf("%w: merge needs -o and at least one story file", errUsage)
	}
	runID := uuid.NewString()
	a.rec.Begin(ctx, runID, strings.Join(fs.Args(), ","))
	err := a.pipe.Merge(ctx, runID, fs.Args(), *output)
	a.rec.Finish(ctx, runID, strings.Join(fs.Args(), ","), err)
	if err != nil {
		return err
	}
	a.logger.Info("merge complete", slog.String("output", *output), slog.Int("chapters", fs.NArg()))
	return nil
}

func serve(ctx context.Context, a *app, rt *runtime.Runtime) error {
	if a.bus == nil {
		return errors.New("serve requires bus.enabled")
	}
	svc, err := jobs.New(ctx, a.cfg.Jobs, a.bus, a.pipe, a.cast, a.cfg.Casting.SeedFile, a.logger)
	if err != nil {
		return err
	}
	if svc == nil {
		return errors.New("serve requires jobs.enabled")
	}
	defer svc.Close()

	peers, err := presence.New(ctx, a.cfg.Presence, a.bus, pipeline.Stages, a.voices(), svc.Running, a.logger)
	if err != nil {
		return err
	}
	defer peers.Close()

	err = rt.Serve(ctx, a.bus, svc, peers)
	a.logger.Info("shutdown complete")
	return err
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
