package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/origincache/origincache/internal/config"
	"github.com/origincache/origincache/internal/engine"
	"github.com/origincache/origincache/internal/logging"
	"github.com/origincache/origincache/internal/version"
)

// cliOptions carries parsed CLI flags so run can be exercised in tests.
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	dump        bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run executes the selected mode and returns the process exit code.
func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "loading configuration failed: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "initializing logging failed: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("configuration is valid")
		return 0
	}

	if err := reportSessions(cfg.Global, logger, opts.dump); err != nil {
		fmt.Fprintf(stdErr, "inspecting storage failed: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags parses CLI arguments; the environment variable
// ORIGINCACHE_CONFIG supplies the config path when the flag is absent.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("origincache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		dump       bool
	)

	fs.StringVar(&configFlag, "config", "", "config file path (default ./config.toml, ORIGINCACHE_CONFIG overrides)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the configuration and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")
	fs.BoolVar(&dump, "dump", false, "print the full engine representation per session")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parsing arguments failed: %w", err)
	}

	path := os.Getenv("ORIGINCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		dump:        dump,
	}, nil
}

// reportSessions enumerates the session roots under the storage path and
// prints per-origin usage; with dump it also prints each engine's
// diagnostic representation.
func reportSessions(cfg config.GlobalConfig, logger *logrus.Logger, dump bool) error {
	entries, err := os.ReadDir(cfg.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(stdOut, "no sessions under %s\n", cfg.StoragePath)
			return nil
		}
		return err
	}

	registry := engine.NewRegistry(cfg, logger)
	sessions := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			logger.WithField("path", filepath.Join(cfg.StoragePath, entry.Name())).
				Warn("skipping non-session directory")
			continue
		}
		sessions++
		session := engine.Session{ID: id}
		if err := reportSession(registry, session, dump); err != nil {
			return err
		}
		registry.Destroy(session)
	}
	if sessions == 0 {
		fmt.Fprintf(stdOut, "no sessions under %s\n", cfg.StoragePath)
	}
	return nil
}

func reportSession(registry *engine.Registry, session engine.Session, dump bool) error {
	eng, err := registry.From(session)
	if err != nil {
		return err
	}

	type usageResult struct {
		entries []engine.UsageEntry
		err     error
	}
	ch := make(chan usageResult, 1)
	eng.FetchEntries(true, func(entries []engine.UsageEntry, err error) {
		ch <- usageResult{entries, err}
	})
	result := <-ch
	if result.err != nil {
		return result.err
	}

	fmt.Fprintf(stdOut, "session %s (%d origins)\n", session.ID, len(result.entries))
	for _, entry := range result.entries {
		fmt.Fprintf(stdOut, "  %s  %d bytes  %s\n", entry.Origin, entry.Size, entry.Type)
	}

	if dump {
		rep := make(chan string, 1)
		eng.Representation(func(s string) { rep <- s })
		fmt.Fprintln(stdOut, <-rep)
	}
	return nil
}
