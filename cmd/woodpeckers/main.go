// Command woodpeckers loads a pecking-schedule configuration and drives
// the reactor-backed controller until interrupted. Flags:
// -v/--version, -h/--help (free from cobra), -c/--config <path>
// (required), -d/--debug.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stack/woodpeckers/controller"
	"github.com/stack/woodpeckers/internal/config"
	"github.com/stack/woodpeckers/internal/logging"
	"github.com/stack/woodpeckers/reactor"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "woodpeckers",
		Short:   "Run the woodpeckers reactor-backed output controller",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration document")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug-level logging")
	cmd.Flags().BoolP("version", "v", false, "print the version and exit")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func run(configPath string, debug bool) error {
	logger := logging.New(logging.Options{Debug: debug})
	logging.SetDefault(logger)

	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	r, err := reactor.NewWithLogger(logger)
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}
	defer r.Destroy()

	ctrl, err := controller.New(r, doc, logger)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	defer ctrl.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		r.Stop()
	}()

	return r.Run()
}
