package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// An optional .env file fills in KASSENBON_* variables that are not set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := newRootCommand()

	if err := root.command.Parse(args, ff.WithEnvVarPrefix("KASSENBON")); err != nil {
		return usageError(root.command, err)
	}
	if err := setupLogger(*root.logLevel, *root.logFormat); err != nil {
		return usageError(root.command, err)
	}

	err := root.command.Run(ctx)
	if errors.Is(err, ff.ErrHelp) {
		return usageError(root.command, err)
	}
	if err != nil {
		slog.Error("Command failed", "command", root.command.GetSelected().Name, "error", err)
	}
	return err
}

// usageError prints help for the selected command. A plain help request is
// not treated as a failure.
func usageError(root *ff.Command, err error) error {
	fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	if errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return err
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q, expected text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
