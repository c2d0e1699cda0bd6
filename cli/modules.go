package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"xbdm-loader/modules"
)

// linkTimeFormat renders module link timestamps in verbose listings.
const linkTimeFormat = "January 02, 2006 (15:04:05)"

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "load <module_path>",
		Aliases: []string{"l"},
		Short:   "Load the module located at <module_path>",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := modules.NormalizePath(args[0])
			return runOnTargets(cmd, a, path, func(ctx context.Context, t *target, out io.Writer) error {
				if err := t.modules.Load(ctx, path); err != nil {
					return err
				}
				t.logger.Info().Msgf("%s has been loaded.", path)
				return nil
			})
		},
	}
}

func newUnloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "unload <module_path>",
		Aliases: []string{"u"},
		Short:   "Unload the module located at <module_path>",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := modules.NormalizePath(args[0])
			return runOnTargets(cmd, a, path, func(ctx context.Context, t *target, out io.Writer) error {
				if err := t.modules.Unload(ctx, path); err != nil {
					return err
				}
				t.logger.Info().Msgf("%s has been unloaded.", path)
				return nil
			})
		},
	}
}

// runReload unloads path if it is loaded, then loads it.
func runReload(cmd *cobra.Command, a *app, arg string) error {
	path := modules.NormalizePath(arg)
	return runOnTargets(cmd, a, path, func(ctx context.Context, t *target, out io.Writer) error {
		unloaded, err := t.modules.Reload(ctx, path)
		if err != nil {
			return err
		}
		if unloaded {
			t.logger.Info().Msgf("%s has been unloaded.", path)
		}
		t.logger.Info().Msgf("%s has been loaded.", path)
		return nil
	})
}

func newShowCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"s"},
		Short:   "Show loaded modules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			consoles, err := a.targets(ctx, "")
			if err != nil {
				return err
			}
			return a.forEach(ctx, consoles, cmd.OutOrStdout(), func(ctx context.Context, t *target, out io.Writer) error {
				mods, err := t.modules.List(ctx)
				if err != nil {
					return err
				}
				for _, m := range mods {
					printModule(out, m, verbose)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show base address, size, checksum and link time")
	return cmd
}

func printModule(out io.Writer, m modules.Module, verbose bool) {
	fmt.Fprintln(out, m.Name)
	if !verbose {
		return
	}
	fmt.Fprintf(out, "    Base:      0x%08X\n", m.Base)
	fmt.Fprintf(out, "    Size:      0x%08X\n", m.Size)
	fmt.Fprintf(out, "    Checksum:  0x%08X\n", m.Checksum)
	fmt.Fprintf(out, "    Timestamp: %s\n", m.LinkTime().Format(linkTimeFormat))
}

// runOnTargets announces each target console, then runs fn on it.
func runOnTargets(cmd *cobra.Command, a *app, key string, fn func(ctx context.Context, t *target, out io.Writer) error) error {
	ctx := cmd.Context()
	consoles, err := a.targets(ctx, key)
	if err != nil {
		return err
	}
	return a.forEach(ctx, consoles, cmd.OutOrStdout(), func(ctx context.Context, t *target, out io.Writer) error {
		if err := t.announce(ctx); err != nil {
			return err
		}
		return fn(ctx, t, out)
	})
}
