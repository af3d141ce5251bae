package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/convert"
	"github.com/wader/ffgif/internal/iterm2"
	"github.com/wader/ffgif/internal/provision"
)

var configFlag = flag.String("c", "", "YAML config file overriding defaults")
var debugFlag = flag.Bool("d", false, "Debug")
var verboseFlag = flag.Bool("v", false, "Verbose")
var previewFlag = flag.Bool("preview", false, "Show first frame inline in iTerm2 compatible terminals")

const previewMaxWidth = 60

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [convert|provision]\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

// executableDir is where relative default paths are resolved from
func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func newLogger() hclog.Logger {
	level := hclog.Warn
	if *verboseFlag {
		level = hclog.Info
	}
	if *debugFlag {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "ffgif",
		Level:  level,
		Output: os.Stderr,
	})
}

func runConvert(ctx context.Context, logger hclog.Logger) error {
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	baseDir, err := executableDir()
	if err != nil {
		return err
	}
	cfg = cfg.Resolve(baseDir)

	var opts []convert.Option
	if *previewFlag {
		if iterm2.IsCompatible() {
			opts = append(opts, convert.WithPreview(func(m image.Image) error {
				return iterm2.Preview(os.Stdout, m, cfg.OutputName+cfg.Format.Ext(), previewMaxWidth)
			}))
		} else {
			logger.Warn("preview needs an iTerm2 compatible terminal")
		}
	}

	_, err = convert.Run(ctx, cfg, logger, os.Stdout, opts...)
	return err
}

func runProvision(ctx context.Context, logger hclog.Logger) error {
	r := &provision.Resolver{
		Installer: provision.DefaultInstaller,
		Stdout:    os.Stdout,
		Logger:    logger,
	}
	if err := r.Resolve(ctx, provision.DefaultRequirements()); err != nil {
		return err
	}
	return r.Verify(ctx)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := func() error {
		command := "convert"
		switch flag.NArg() {
		case 0:
		case 1:
			command = flag.Arg(0)
		default:
			return fmt.Errorf("too many arguments: %v", flag.Args())
		}

		switch command {
		case "convert":
			return runConvert(ctx, logger)
		case "provision":
			return runProvision(ctx, logger)
		default:
			return fmt.Errorf("unknown command %q", command)
		}
	}(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		var installErr *provision.InstallError
		if errors.As(err, &installErr) {
			os.Exit(installErr.ExitCode())
		}
		os.Exit(1)
	}
}
