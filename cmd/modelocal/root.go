package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/modelocal/internal/loader"
	"github.com/dshills/modelocal/internal/logging"
	"github.com/dshills/modelocal/internal/mode"
	"github.com/dshills/modelocal/internal/script"
)

// options holds the global flags.
type options struct {
	files    []string
	logLevel string
	json     bool
}

// env is a runtime populated from the definition files.
type env struct {
	rt      *mode.Runtime
	scripts *script.Engine
	loader  *loader.Loader
	log     *logging.Logger
	files   []string
}

func (e *env) Close() {
	e.rt.Close()
	e.scripts.Close()
}

// load reads every definition file into e.rt.
func (e *env) load() error {
	files, err := e.loader.LoadAll(e.files)
	if err != nil {
		return err
	}
	return loader.ApplyAll(e.rt, files, e.scripts)
}

func (o *options) newEnv(cmd *cobra.Command) (*env, error) {
	if len(o.files) == 0 {
		return nil, errors.New("no definition files; pass --file")
	}

	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{Level: level, Output: cmd.ErrOrStderr(), Prefix: "modelocal"})

	e := &env{
		rt:      mode.New(mode.WithLogger(log)),
		scripts: script.New(),
		loader:  loader.New(),
		log:     log,
		files:   o.files,
	}
	if err := e.load(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "modelocal",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Short:   "Inspect mode-local configuration definitions",
		Long: `modelocal loads mode definition files (TOML, YAML or JSONC) and reports
how bindings and operation overrides resolve along the mode hierarchy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := root.PersistentFlags()
	flags.StringArrayVarP(&opts.files, "file", "f", nil, "definition file (repeatable)")
	flags.StringVar(&opts.logLevel, "log-level", envOr("MODELOCAL_LOG_LEVEL", "warn"), "log level: debug, info, warn, error")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of text")

	root.AddCommand(
		newChainCmd(opts),
		newResolveCmd(opts),
		newCallCmd(opts),
		newDescribeCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
