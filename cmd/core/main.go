// Package main provides the noorsync command-line tool for inspecting and
// driving the offline sync engine of a data directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/noorsync/backend/internal/app"
	"github.com/kimhsiao/noorsync/backend/internal/config"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

// skipApp marks commands that run without opening the data directory.
const skipApp = "noorsync/skip-app"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by every command.
type cli struct {
	configFile string
	out        io.Writer
	errOut     io.Writer
	ui         *ui
	app        *app.App
}

// run executes the command line in args.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	c := &cli{out: out, errOut: errOut, ui: newUI(out)}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "noorsync",
		Short:         "Offline sync engine for Noor",
		Long:          "Inspect and drive the offline mutation queue and content cache of a noorsync data directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" || cmd.Name() == "help" {
				return nil
			}
			return c.open()
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default ./noorsync.yaml or $HOME/.noorsync/noorsync.yaml)")

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
	)

	root.AddCommand(
		c.versionCmd(),
		c.syncCmd(),
		c.statusCmd(),
		c.strategyCmd(),
		c.unlockCmd(),
		c.resetCmd(),
		c.queueCmd(),
	)
	return root
}

// open loads configuration, points logging at it and opens the engine.
func (c *cli) open() error {
	cfg, err := config.NewLoader(c.configFile).Load()
	if err != nil {
		return err
	}
	logOpts, err := cfg.Log.LoggingOptions()
	if err != nil {
		return err
	}
	logOpts.Output = c.errOut
	if err := logging.Configure(logOpts); err != nil {
		return err
	}

	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.out, "noorsync v%s\n", Version)
		},
	}
}
