package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options holds the global flags shared by every subcommand.
type options struct {
	machinePath string
	logLevel    string
	logFormat   string

	logger *logrus.Logger
}

// newRootCmd returns the kernsim command tree.
func newRootCmd() *cobra.Command {
	opts := &options{logger: logrus.New()}

	rootCmd := &cobra.Command{
		Use:   "kernsim",
		Short: "Boot the ringzero kernel core on a simulated machine",
		Long: `kernsim builds a simulated RAM image from a TOML machine description, ` +
			`hands it to the kernel boot sequence and reports the resulting state. ` +
			`Kernel log output is forwarded to the tool's logger.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setupLogging(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.machinePath, "machine", "", "path to the TOML machine description (defaults are used when empty)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")

	rootCmd.AddCommand(
		newBootCmd(opts),
		newLoadCmd(opts),
		newMemmapCmd(opts),
		newSyscallCmd(opts),
	)
	return rootCmd
}

func (o *options) setupLogging(w io.Writer) error {
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}

	o.logger.SetOutput(w)
	o.logger.SetLevel(level)

	switch o.logFormat {
	case "text":
		o.logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		o.logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", o.logFormat)
	}
	return nil
}

// machine loads the machine description selected by --machine.
func (o *options) machine() (*Machine, error) {
	if o.machinePath == "" {
		m := &Machine{}
		m.applyDefaults()
		return m, nil
	}
	return loadMachine(o.machinePath)
}
