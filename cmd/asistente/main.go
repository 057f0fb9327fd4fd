// Asistente is a Spanish voice assistant.
//
// It listens for utterances, runs the user's command templates and
// plugins, and falls back to a conversational model for everything
// else. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	asistente [run]            Start the listening session
//	asistente say <texto...>   Dispatch one utterance and exit
//	asistente init [dir]       Initialize a working directory with examples
//	asistente version          Print version and build information
//	asistente -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/nugget/asistente/internal/assistant"
	"github.com/nugget/asistente/internal/buildinfo"
	"github.com/nugget/asistente/internal/config"
	"github.com/nugget/asistente/internal/connwatch"
	"github.com/nugget/asistente/internal/dispatch"
	"github.com/nugget/asistente/internal/lockfile"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/speech"
)

// main only builds the OS environment and hands it to [run], so the
// whole lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// globals are the flags accepted before or after any command.
type globals struct {
	configPath string
	envFile    string
	output     string
	logLevel   string
}

// run is the real entry point. Logs go to stderr; replies and command
// output go to stdout. Cancelling ctx ends the session without a
// farewell.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var g globals
	fs := pflag.NewFlagSet("asistente", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&g.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	fs.StringVarP(&g.envFile, "env", "e", ".env", "dotenv file loaded before the config")
	fs.StringVarP(&g.output, "output", "o", "text", "output format: text or json")
	fs.StringVarP(&g.logLevel, "log-level", "l", "", "log level override: trace, debug, info, warn, error")
	fs.Usage = func() { printUsage(stdout, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if g.output != "text" && g.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", g.output)
	}

	command, cmdArgs := "run", fs.Args()
	if len(cmdArgs) > 0 {
		command, cmdArgs = cmdArgs[0], cmdArgs[1:]
	}

	switch command {
	case "run":
		return runAssistant(ctx, stdin, stdout, stderr, g)
	case "say":
		if len(cmdArgs) == 0 {
			return errors.New("usage: asistente say <texto>")
		}
		return runSay(ctx, stdout, stderr, g, strings.Join(cmdArgs, " "))
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, g.output)
	case "help":
		printUsage(stdout, fs)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Asistente - asistente de voz")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: asistente [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run            Start the listening session (default)")
	fmt.Fprintln(w, "  say <texto>    Dispatch one utterance and exit")
	fmt.Fprintln(w, "  init [dir]     Initialize a working directory with examples (default: .)")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runAssistant is the listening session: lock, connectivity gate,
// assembly, then the loop until an exit phrase or a signal. A second
// instance or a missing network ends quietly with a nil error.
func runAssistant(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, g globals) error {
	cfg, logger, err := setup(stderr, g)
	if err != nil {
		return err
	}
	logger.Info("starting", "version", buildinfo.Version, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock, err := lockfile.Acquire(cfg.LockPath())
	if errors.Is(err, lockfile.ErrLocked) {
		logger.Info("another instance is already running, exiting", "lock", cfg.LockPath(), "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release lock", "error", err)
		}
	}()

	if !cfg.Connectivity.Skip {
		probe := connwatch.DialProbe(cfg.Connectivity.Host)
		if err := connwatch.CheckOnce(ctx, probe, cfg.Connectivity.Timeout); err != nil {
			logger.Error("no network connectivity, exiting", "host", cfg.Connectivity.Host, "error", err)
			return nil
		}
	}

	capturer, err := newCapturer(cfg, stdin, stdout)
	if err != nil {
		return err
	}

	app, err := assistant.New(ctx, assistant.Options{
		Config:  cfg,
		Speaker: newSpeaker(cfg, stdout, logger),
		Logger:  logger,
		Watch:   true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if err := app.StartPublisher(ctx); err != nil {
		logger.Warn("status publisher disabled", "error", err)
	}

	reason := app.Session(capturer).Run(ctx)
	logger.Info("stopped", "reason", reason)
	return nil
}

// sayResult is the JSON shape of a one-shot dispatch.
type sayResult struct {
	Stage   dispatch.Stage `json:"stage"`
	Handled bool           `json:"handled"`
	Plugin  string         `json:"plugin,omitempty"`
	Reply   string         `json:"reply,omitempty"`
	Record  any            `json:"record,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// runSay dispatches a single utterance. Replies are printed as they are
// spoken in text mode, or as one JSON object with -o json.
func runSay(ctx context.Context, stdout, stderr io.Writer, g globals, text string) error {
	cfg, logger, err := setup(stderr, g)
	if err != nil {
		return err
	}

	var speakTo io.Writer = stdout
	if g.output == "json" {
		speakTo = io.Discard
	}
	app, err := assistant.New(ctx, assistant.Options{
		Config:  cfg,
		Speaker: speech.NewConsole(speakTo),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	out := app.Say(ctx, text)
	if g.output != "json" {
		return nil
	}
	res := sayResult{Stage: out.Stage, Handled: out.Handled, Plugin: out.Plugin, Reply: out.Reply}
	if out.Record != nil {
		res.Record = out.Record
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// setup loads the environment file and configuration and builds the
// logger. Without a config file the defaults are used.
func setup(stderr io.Writer, g globals) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnv(g.envFile); err != nil {
		return nil, nil, err
	}
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level, cfg.LogFormat)
	if path == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Debug("config loaded", "path", path)
	}
	return cfg, logger, nil
}

// loadConfig parses the configuration file. An explicit path must
// exist; when nothing is found by discovery the defaults are returned
// with an empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger creates the process logger. "console" selects the
// colourised tint handler, "json" the JSON handler, anything else the
// text handler.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case "console":
		handler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
			TimeFormat:  "15:04:05",
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: config.ReplaceLogLevelNames})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: config.ReplaceLogLevelNames})
	}
	return slog.New(handler)
}

// newSpeaker builds the reply engine selected by speech.engine.
func newSpeaker(cfg *config.Config, stdout io.Writer, logger *slog.Logger) speech.Speaker {
	if cfg.Speech.Engine == "espeak" {
		return speech.NewEspeak(speech.EspeakOptions{
			Command:  cfg.Speech.Command,
			Voice:    cfg.Speech.Voice,
			Rate:     cfg.Speech.Rate,
			Logger:   logger.With("component", "espeak"),
			Messages: messages.New().WithOverrides(cfg.Messages),
		})
	}
	return speech.NewConsole(stdout)
}

// newCapturer reads utterances from the configured recognizer, or from
// stdin lines when none is set.
func newCapturer(cfg *config.Config, stdin io.Reader, stdout io.Writer) (speech.Capturer, error) {
	if len(cfg.Speech.Capture) > 0 {
		c, err := speech.NewCommandCapturer(cfg.Speech.Capture)
		if err != nil {
			return nil, fmt.Errorf("speech.capture: %w", err)
		}
		return c, nil
	}
	return speech.NewLineCapturer(stdin, stdout, "> "), nil
}
