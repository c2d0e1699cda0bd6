// Package cli implements the xbdm-loader command line.
package cli

import (
	"context"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X xbdm-loader/cli.Version=...".
var Version = "dev"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "xbdm-loader [module_path]",
		Short: "Load and unload modules on a development console",
		Long: `Load, unload and reload system modules on a development console through
its debug monitor, and call exported routines directly.

Given a module path, the module is unloaded if it is loaded and then loaded
again. Bare names are looked up on Hdd:\.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipSetup"] == "true" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runReload(cmd, a, args[0])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XBDM_LOADER_CONFIG or ~/.xbdm-loader/config.yaml)")
	flags.StringVarP(&a.console, "console", "c", "", "console name or address")
	flags.BoolVar(&a.all, "all", false, "run against every known console")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newLoadCmd(a))
	root.AddCommand(newUnloadCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newInvokeCmd(a))
	root.AddCommand(newConsolesCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{"skipSetup": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("xbdm-loader version %s\n", Version)
			cmd.Printf("Go version: %s\n", runtime.Version())
		},
	}
}

// Execute runs the command line until ctx is cancelled.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
