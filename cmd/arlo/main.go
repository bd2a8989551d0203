// Command arlo is the agent runtime: an interactive REPL backed by the
// orchestrator, with the HTTP API and the background loops running
// alongside when enabled.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"arlo/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "arlo",
		Short:         "Self-hosted agent orchestration runtime",
		Long:          "arlo runs an LLM agent runtime: plans and executes multi-step requests,\nschedules recurring work, services project objectives, and improves its\nown source while idle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging and error stacks")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadWithPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	app.orch.Start()
	if app.server != nil {
		app.server.Start()
	}
	defer func() {
		if app.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = app.server.Stop(ctx)
			cancel()
		}
		app.orch.Stop()
	}()

	return runREPL(cmd.Context(), app)
}
